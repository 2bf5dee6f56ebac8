package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the top-level wrapper for every balance feed message.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      int64           `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope creates a new Envelope with generated ID and current timestamp.
func NewEnvelope(msgType string, payload interface{}) (*Envelope, error) {
	env := &Envelope{
		V:    ProtocolVersion,
		Type: msgType,
		ID:   uuid.NewString(),
		TS:   time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = data
	}
	return env, nil
}

// ParsePayload unmarshals the payload into the given target.
func (e *Envelope) ParsePayload(target interface{}) error {
	return json.Unmarshal(e.Payload, target)
}

// Marshal serializes the envelope to JSON bytes.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// EncodeEnvelope builds and marshals an envelope in one step.
func EncodeEnvelope(msgType string, payload interface{}) ([]byte, error) {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return nil, err
	}
	return env.Marshal()
}
