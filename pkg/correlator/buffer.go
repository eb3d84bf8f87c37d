// Package correlator joins the synchronous "request accepted" answer of
// an asynchronous platform operation with the event that later reports its
// outcome, matching the two on the request id carried in the event payload.
package correlator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoRequestID is returned for events that carry no correlation key
var ErrNoRequestID = errors.New("event has no request id")

// Payload is the outcome carried by a relayed event
type Payload struct {
	RequestID   string `json:"RequestId"`
	HasErrors   bool   `json:"HasErrors"`
	ErrorDetail string `json:"ErrorDetail,omitempty"`
}

// Entry is the latest event observed for one request id
type Entry struct {
	Payload    Payload
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// Buffer maps request ids to the most recent event carrying them.
// A later event for the same id replaces the earlier one. It is safe
// for one writer and any number of concurrent pollers.
type Buffer struct {
	mu      sync.Mutex
	entries map[string]Entry
	maxAge  time.Duration
	now     func() time.Time
}

// NewBuffer creates an empty buffer. Entries older than maxAge are pruned
// on write; zero keeps them until taken.
func NewBuffer(maxAge time.Duration) *Buffer {
	return &Buffer{
		entries: make(map[string]Entry),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Put records an event body of the form {"payload": {"RequestId": ...}}
func (b *Buffer) Put(data json.RawMessage) (string, error) {
	var event struct {
		Payload Payload `json:"payload"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return "", fmt.Errorf("failed to decode event: %w", err)
	}
	if event.Payload.RequestID == "" {
		return "", ErrNoRequestID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.pruneLocked(now)
	b.entries[event.Payload.RequestID] = Entry{
		Payload:    event.Payload,
		Raw:        append(json.RawMessage(nil), data...),
		ReceivedAt: now,
	}
	return event.Payload.RequestID, nil
}

// Peek reports the entry for id without removing it
func (b *Buffer) Peek(id string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	return e, ok
}

// Take removes and returns the entry for id. Entries of other ids stay.
func (b *Buffer) Take(id string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if ok {
		delete(b.entries, id)
	}
	return e, ok
}

// Len returns the number of buffered ids
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear drops every entry
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]Entry)
}

func (b *Buffer) pruneLocked(now time.Time) {
	if b.maxAge <= 0 {
		return
	}
	for id, e := range b.entries {
		if now.Sub(e.ReceivedAt) > b.maxAge {
			delete(b.entries, id)
		}
	}
}
