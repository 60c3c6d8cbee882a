// Package message defines the dispatch envelope wrapping a completed ASTM
// message with gateway metadata, and the JSON form pushed downstream.
package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/labgate/astm"
)

// Message is one completed instrument message with delivery metadata. The
// payload is immutable after creation; sinks share the same instance.
type Message struct {
	ID         string        // unique per message, for logs and tracing
	ReceivedAt time.Time     // when the terminator record arrived
	Remote     string        // peer address of the instrument connection
	Sender     string        // instrument name from the header record, may be ""
	Payload    *astm.Message // raw record lines
}

// New wraps a completed ASTM message for dispatch.
func New(payload *astm.Message, remote string) *Message {
	return &Message{
		ID:         uuid.New().String(),
		ReceivedAt: time.Now(),
		Remote:     remote,
		Sender:     payload.SenderName(),
		Payload:    payload,
	}
}

// Text renders the message as CR-joined records.
func (m *Message) Text() string {
	return m.Payload.Text()
}

// Records returns the parsed record trees.
func (m *Message) Records() []astm.Record {
	return m.Payload.Parse()
}

// Envelope is the JSON body pushed to the LIS and published on the bus.
type Envelope struct {
	Consumer string   `json:"consumer"`
	Messages []string `json:"messages"`
}

// NewEnvelope builds the push envelope for one or more messages.
func NewEnvelope(consumer string, msgs ...*Message) Envelope {
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text()
	}
	return Envelope{Consumer: consumer, Messages: texts}
}
