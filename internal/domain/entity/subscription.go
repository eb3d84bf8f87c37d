package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// ReplayPolicy selects which events a (re)subscription receives.
// Values >= 0 resume after that specific position.
type ReplayPolicy int64

// Replay positions understood by the platform streaming API.
const (
	ReplayNewOnly   ReplayPolicy = -1
	ReplayAllAndNew ReplayPolicy = -2
)

// ParseReplayPolicy accepts "new_only", "all_and_new" or a non-negative position.
func ParseReplayPolicy(s string) (ReplayPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "new_only", "-1":
		return ReplayNewOnly, nil
	case "all_and_new", "-2":
		return ReplayAllAndNew, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid replay policy %q", s)
	}
	return ReplayPolicy(n), nil
}

func (p ReplayPolicy) String() string {
	switch p {
	case ReplayNewOnly:
		return "new_only"
	case ReplayAllAndNew:
		return "all_and_new"
	}
	return strconv.FormatInt(int64(p), 10)
}

// StreamSubscription describes the one long-lived upstream subscription.
type StreamSubscription struct {
	Topic  string
	Replay ReplayPolicy
}

// SubscriptionState is reported on /status and the gRPC health service.
type SubscriptionState string

const (
	StateIdle           SubscriptionState = "idle"
	StateAuthenticating SubscriptionState = "authenticating"
	StateSubscribed     SubscriptionState = "subscribed"
	StateReconnecting   SubscriptionState = "reconnecting"
	StateFailed         SubscriptionState = "failed"
	StateStopped        SubscriptionState = "stopped"
)
