// Package event defines the closed set of WebSocket events exchanged with
// signaling clients. Payloads are typed; the gateway validates each inbound
// payload before anything reaches the call state machine.
package event

import (
	"encoding/json"
	"fmt"
)

// WsEvent is the wire envelope for every signaling message
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope with a marshalled payload. Payload types in this
// package marshal without error; a failure here is a programming error and
// yields an empty payload.
func New(name string, payload any) WsEvent {
	data, err := json.Marshal(payload)
	if err != nil {
		return WsEvent{Event: name}
	}
	return WsEvent{Event: name, Payload: data}
}

// Decode unmarshals the envelope payload into a typed payload struct and
// validates it
func (e WsEvent) Decode(into Validator) error {
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, into); err != nil {
			return fmt.Errorf("malformed %s payload: %w", e.Event, err)
		}
	}
	return into.Validate()
}

// Validator is implemented by inbound payloads that carry required fields
type Validator interface {
	Validate() error
}
