package cancellation

import (
	"context"
	"sync"
	"time"
)

// Pending is one cancellation tracked from submission to outcome
type Pending struct {
	Asset     Asset
	Day       time.Time
	RequestID string

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

func newPending(asset Asset, day time.Time) *Pending {
	return &Pending{
		Asset: asset,
		Day:   day,
		state: StateIdle,
		done:  make(chan struct{}),
	}
}

func (p *Pending) accept(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RequestID = requestID
	p.state = StateRequestAccepted
}

func (p *Pending) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Terminal() {
		p.state = s
	}
}

func (p *Pending) finish(s State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Terminal() {
		return
	}
	p.state = s
	p.err = err
	close(p.done)
}

// State returns the current state
func (p *Pending) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the cause of a failed, unknown or cancelled outcome
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed when the cancellation reaches a terminal state
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until a terminal state or ctx ends
func (p *Pending) Wait(ctx context.Context) (State, error) {
	select {
	case <-p.done:
		return p.State(), nil
	case <-ctx.Done():
		return p.State(), ctx.Err()
	}
}
