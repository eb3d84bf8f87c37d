package entity

import "time"

// ConnectionState of a client connection
type ConnectionState int

const (
	Connected ConnectionState = iota
	Disconnected
)

func (s ConnectionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// ClientConnection is one browser session attached to the relay.
type ClientConnection struct {
	ID          string
	Transport   string
	RemoteAddr  string
	State       ConnectionState
	ConnectedAt time.Time
}
