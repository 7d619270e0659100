// Package sink delivers received messages to downstream systems. Every
// sink's Deliver method has the shape of a modem.MessageHandler.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"i4.energy/across/smsrx/modem"
)

// Sink consumes messages retrieved from the modem.
type Sink interface {
	Deliver(ctx context.Context, msg *modem.Message) error
}

// Func adapts a plain function to Sink.
type Func func(ctx context.Context, msg *modem.Message) error

func (f Func) Deliver(ctx context.Context, msg *modem.Message) error {
	return f(ctx, msg)
}

// Envelope is the JSON document published by the structured sinks.
type Envelope struct {
	ID         string    `json:"id"`
	Storage    string    `json:"storage"`
	Index      int       `json:"index"`
	Sender     string    `json:"sender"`
	SentAt     time.Time `json:"sent_at,omitzero"`
	ReceivedAt time.Time `json:"received_at"`
	Text       string    `json:"text"`
	Report     bool      `json:"report,omitempty"`
}

// NewEnvelope wraps msg with a fresh ID and the current time.
func NewEnvelope(msg *modem.Message) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Storage:    msg.Storage,
		Index:      msg.Index,
		Sender:     msg.Sender,
		SentAt:     msg.Timestamp,
		ReceivedAt: time.Now().UTC(),
		Text:       msg.Text,
		Report:     msg.Report,
	}
}

func encode(msg *modem.Message) ([]byte, error) {
	return json.Marshal(NewEnvelope(msg))
}
