package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultEventName is the tag clients listen for.
const DefaultEventName = "AssetEvent"

// RelayMessage is the unit broadcast to every connected client.
// Data is the upstream event body exactly as received.
type RelayMessage struct {
	Event      string
	Topic      string
	Data       json.RawMessage
	ReplayID   int64
	ReceivedAt time.Time
}

// Frame is the wire envelope written to clients.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode renders the message as a client frame.
func (m *RelayMessage) Encode() ([]byte, error) {
	return json.Marshal(Frame{Event: m.Event, Data: m.Data})
}

// EventPayload is the platform event body: the upstream source decodes its
// replay position from it and eventpub publishes it.
type EventPayload struct {
	Schema  string             `json:"schema,omitempty"`
	Payload CancellationResult `json:"payload"`
	Event   EventHeader        `json:"event"`
}

// EventHeader holds the event's position in the upstream stream.
type EventHeader struct {
	ReplayID *int64 `json:"replayId,omitempty"`
}

// Position returns the replay id, or -1 when the body carries none.
func (p *EventPayload) Position() int64 {
	if p.Event.ReplayID == nil {
		return -1
	}
	return *p.Event.ReplayID
}

// CancellationResult carries the fields of AssetCancelInitiatedEvent that matter here.
type CancellationResult struct {
	RequestID   string `json:"RequestId"`
	HasErrors   bool   `json:"HasErrors"`
	ErrorDetail string `json:"ErrorDetail,omitempty"`
	CreatedDate string `json:"CreatedDate,omitempty"`
}

// DecodePayload parses an upstream event body.
func DecodePayload(data []byte) (*EventPayload, error) {
	var p EventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode event payload: %w", err)
	}
	return &p, nil
}
