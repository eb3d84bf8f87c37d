// Package upstream defines the event source the relay subscribes to.
package upstream

import (
	"context"
	"errors"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
)

var (
	// ErrAuthentication means the configured credentials were rejected.
	// Retrying with the same credentials cannot succeed.
	ErrAuthentication = errors.New("upstream authentication failed")

	// ErrSessionExpired means a previously valid session was revoked and
	// the source must authenticate again.
	ErrSessionExpired = errors.New("upstream session expired")

	// ErrSubscriptionDenied means the platform refused the subscription itself.
	ErrSubscriptionDenied = errors.New("upstream subscription denied")

	// ErrNotConnected is returned by Subscribe before a successful Connect.
	ErrNotConnected = errors.New("upstream not connected")
)

// Handler receives every event in arrival order
type Handler func(msg *entity.RelayMessage)

// Source is one authenticated connection to the event platform
type Source interface {
	// Connect authenticates with the platform
	Connect(ctx context.Context) error

	// Subscribe delivers events on sub to handle until ctx is cancelled
	// (returns nil) or the subscription fails (returns the cause).
	Subscribe(ctx context.Context, sub entity.StreamSubscription, handle Handler) error

	// Close releases the connection
	Close() error
}

// IsPermanent reports whether err cannot be fixed by reconnecting
func IsPermanent(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrSubscriptionDenied)
}
