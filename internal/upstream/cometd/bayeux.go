package cometd

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
)

const (
	channelHandshake  = "/meta/handshake"
	channelConnect    = "/meta/connect"
	channelSubscribe  = "/meta/subscribe"
	channelDisconnect = "/meta/disconnect"

	reconnectRetry     = "retry"
	reconnectHandshake = "handshake"
	reconnectNone      = "none"
)

// message is one Bayeux protocol message
type message struct {
	Channel                  string                 `json:"channel"`
	ID                       string                 `json:"id,omitempty"`
	ClientID                 string                 `json:"clientId,omitempty"`
	Version                  string                 `json:"version,omitempty"`
	MinimumVersion           string                 `json:"minimumVersion,omitempty"`
	SupportedConnectionTypes []string               `json:"supportedConnectionTypes,omitempty"`
	ConnectionType           string                 `json:"connectionType,omitempty"`
	Subscription             string                 `json:"subscription,omitempty"`
	Successful               bool                   `json:"successful,omitempty"`
	Error                    string                 `json:"error,omitempty"`
	Advice                   *advice                `json:"advice,omitempty"`
	Ext                      map[string]interface{} `json:"ext,omitempty"`
	Data                     json.RawMessage        `json:"data,omitempty"`
}

type advice struct {
	Reconnect string `json:"reconnect,omitempty"`
	Interval  int64  `json:"interval,omitempty"`
	Timeout   int64  `json:"timeout,omitempty"`
}

func (a *advice) interval() time.Duration {
	if a == nil || a.Interval <= 0 {
		return 0
	}
	return time.Duration(a.Interval) * time.Millisecond
}

func (a *advice) timeout() time.Duration {
	if a == nil || a.Timeout <= 0 {
		return 0
	}
	return time.Duration(a.Timeout) * time.Millisecond
}

// isMeta reports whether the channel belongs to the protocol itself
func isMeta(channel string) bool {
	return strings.HasPrefix(channel, "/meta/")
}

// errorCode extracts the numeric prefix of a Bayeux error such as "403::Unknown client"
func errorCode(e string) string {
	if i := strings.Index(e, "::"); i > 0 {
		return e[:i]
	}
	return ""
}

// replayIDOf reads data.event.replayId from a platform event body, or -1
// when the body has none
func replayIDOf(data json.RawMessage) int64 {
	p, err := entity.DecodePayload(data)
	if err != nil {
		return -1
	}
	return p.Position()
}
