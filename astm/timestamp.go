package astm

import (
	"time"
)

// Timestamp is the normalized form of an E1394 date/time field. Malformed
// values keep their raw text with Valid false so a bad clock on an instrument
// never loses data.
type Timestamp struct {
	Time  time.Time
	Raw   string
	Valid bool
}

// timestampLayouts covers YYYYMMDDhhmmss and its legal truncations.
var timestampLayouts = []string{
	"20060102150405",
	"200601021504",
	"2006010215",
	"20060102",
	"200601",
	"2006",
}

// ParseTimestamp normalizes a YYYYMMDDhhmmss field, accepting truncated
// forms down to a bare year. Empty input is returned invalid without a raw
// marker so absent optional fields stay silent.
func ParseTimestamp(s string) Timestamp {
	ts := Timestamp{Raw: s}
	if s == "" {
		return ts
	}
	for _, layout := range timestampLayouts {
		if len(s) != len(layout) {
			continue
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return ts
		}
		ts.Time = t
		ts.Valid = true
		return ts
	}
	return ts
}
