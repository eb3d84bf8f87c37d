// Package cancellation drives one asset cancellation from the initiating
// request to the user-visible outcome.
//
//	IDLE -> REQUEST_SENT -> REQUEST_FAILED
//	                     -> REQUEST_ACCEPTED -> AWAITING_EVENT -> RESOLVED_SUCCESS
//	                                                           -> RESOLVED_ERROR
//	                                                           -> RESOLVED_UNKNOWN
//	                                                           -> CANCELLED
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moroshma/AssetRelay/pkg/correlator"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

// State of one cancellation
type State string

const (
	StateIdle            State = "IDLE"
	StateRequestSent     State = "REQUEST_SENT"
	StateRequestFailed   State = "REQUEST_FAILED"
	StateRequestAccepted State = "REQUEST_ACCEPTED"
	StateAwaitingEvent   State = "AWAITING_EVENT"
	StateResolvedSuccess State = "RESOLVED_SUCCESS"
	StateResolvedError   State = "RESOLVED_ERROR"
	StateResolvedUnknown State = "RESOLVED_UNKNOWN"
	StateCancelled       State = "CANCELLED"
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	switch s {
	case StateRequestFailed, StateResolvedSuccess, StateResolvedError, StateResolvedUnknown, StateCancelled:
		return true
	}
	return false
}

// ErrManagerClosed is returned by Cancel after Close
var ErrManagerClosed = errors.New("cancellation manager closed")

// Initiator submits the cancellation request
type Initiator interface {
	InitiateCancellation(ctx context.Context, assetID string, day time.Time) (string, error)
}

// Awaiter waits for the outcome event of a request id
type Awaiter interface {
	Await(ctx context.Context, requestID string) (correlator.Result, error)
}

// Asset identifies the entity being cancelled
type Asset struct {
	ID   string
	Name string
}

// Manager starts cancellations and owns their await tasks. Close stops
// every outstanding await.
type Manager struct {
	initiator Initiator
	awaiter   Awaiter
	notifier  Notifier
	logger    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*Pending
	closed  bool
}

// NewManager creates a new manager
func NewManager(initiator Initiator, awaiter Awaiter, notifier Notifier, log *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		initiator: initiator,
		awaiter:   awaiter,
		notifier:  notifier,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*Pending),
	}
}

// Cancel submits the request synchronously. A submission failure is
// notified and returned. On acceptance the outcome is awaited in the
// background and the returned Pending resolves when it arrives.
func (m *Manager) Cancel(ctx context.Context, asset Asset, day time.Time) (*Pending, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()

	p := newPending(asset, day)
	p.setState(StateRequestSent)

	requestID, err := m.initiator.InitiateCancellation(ctx, asset.ID, day)
	if err != nil {
		p.finish(StateRequestFailed, err)
		m.notifier.Notify(Notification{
			Level:   LevelError,
			State:   StateRequestFailed,
			AssetID: asset.ID,
			Message: fmt.Sprintf("Cancellation request for %s could not be submitted. Please try again.", asset.Name),
			Err:     err,
		})
		m.logger.Error("Cancellation request failed",
			logger.String("asset_id", asset.ID),
			logger.Error(err),
		)
		return p, fmt.Errorf("cancellation request failed: %w", err)
	}

	p.accept(requestID)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		p.finish(StateCancelled, ErrManagerClosed)
		return p, ErrManagerClosed
	}
	m.pending[requestID] = p
	m.wg.Add(1)
	m.mu.Unlock()

	p.setState(StateAwaitingEvent)
	go m.await(p)

	return p, nil
}

func (m *Manager) await(p *Pending) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.pending, p.RequestID)
		m.mu.Unlock()
	}()

	res, err := m.awaiter.Await(m.ctx, p.RequestID)

	n := Notification{RequestID: p.RequestID, AssetID: p.Asset.ID}
	switch res.Outcome {
	case correlator.OutcomeSuccess:
		p.finish(StateResolvedSuccess, nil)
		n.Level = LevelInfo
		n.State = StateResolvedSuccess
		n.Message = fmt.Sprintf("Cancellation order has been created for %s.", p.Asset.Name)
	case correlator.OutcomeError:
		detail := ""
		if res.Entry != nil {
			detail = res.Entry.Payload.ErrorDetail
		}
		p.finish(StateResolvedError, nil)
		n.Level = LevelError
		n.State = StateResolvedError
		n.Message = "Error during cancellation. Please try again."
		n.Detail = detail
	case correlator.OutcomeUnknown:
		p.finish(StateResolvedUnknown, err)
		n.Level = LevelWarn
		n.State = StateResolvedUnknown
		n.Message = fmt.Sprintf("Cancellation status for %s is unknown, check later.", p.Asset.Name)
		n.Err = err
	default:
		// Torn down; nobody is listening for a notification.
		p.finish(StateCancelled, err)
		m.logger.Debug("Cancellation await stopped", logger.String("request_id", p.RequestID))
		return
	}

	m.logger.Info("Cancellation resolved",
		logger.String("request_id", p.RequestID),
		logger.String("state", string(p.State())),
	)
	m.notifier.Notify(n)
}

// Outstanding returns the request ids still awaiting an event
func (m *Manager) Outstanding() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every outstanding await and waits for them to return
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}
