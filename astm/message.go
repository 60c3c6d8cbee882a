package astm

import (
	"bytes"
)

// Message is one complete H-to-L sequence of raw record lines as assembled by
// the transport machine. Records carry no framing bytes and no trailing CR.
type Message struct {
	Records [][]byte
}

// Text renders the message as CR-joined records, the on-disk and push-payload
// form.
func (m *Message) Text() string {
	return string(bytes.Join(m.Records, []byte{CR}))
}

// Delimiters returns the delimiter set declared by the message header.
func (m *Message) Delimiters() Delimiters {
	if len(m.Records) == 0 {
		return DefaultDelimiters()
	}
	return DelimitersFromHeader(m.Records[0])
}

// Parse lifts every record into its typed tree using the header's delimiter
// set.
func (m *Message) Parse() []Record {
	d := m.Delimiters()
	out := make([]Record, len(m.Records))
	for i, raw := range m.Records {
		out[i] = ParseRecord(raw, d)
	}
	return out
}

// SenderName extracts the instrument sender name from the header record
// (H.5, first component), or "" when absent.
func (m *Message) SenderName() string {
	if len(m.Records) == 0 {
		return ""
	}
	h := ParseRecord(m.Records[0], m.Delimiters())
	return h.Fieldv(4)
}

// ParseText splits a plain-text ASTM message (records separated by CR, LF or
// CRLF) into record lines, dropping empty lines. This is the inverse of Text
// and the input form accepted by the sender role.
func ParseText(text []byte) *Message {
	normalized := bytes.ReplaceAll(text, []byte{CR, LF}, []byte{CR})
	normalized = bytes.ReplaceAll(normalized, []byte{LF}, []byte{CR})
	var records [][]byte
	for _, line := range bytes.Split(normalized, []byte{CR}) {
		if len(line) == 0 {
			continue
		}
		records = append(records, line)
	}
	return &Message{Records: records}
}
