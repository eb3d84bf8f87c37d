package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/internal/domain/repository"
	"github.com/moroshma/AssetRelay/internal/hub"
	"github.com/moroshma/AssetRelay/internal/metrics"
	"github.com/moroshma/AssetRelay/internal/upstream"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

const (
	cursorSinkID  = "sink-cursor"
	archiveSinkID = "sink-archive"
)

// Broadcaster is the part of the hub the relay writes to
type Broadcaster interface {
	Broadcast(msg *entity.RelayMessage) int
	Count() int
	SubscribeSink(id string, queueSize int) (*hub.Subscriber, error)
	Unsubscribe(id string)
}

// ReconnectConfig shapes the exponential backoff between subscription attempts
type ReconnectConfig struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	Multiplier      float64
	Jitter          float64
}

// RelayConfig represents relay use case configuration
type RelayConfig struct {
	Topic            string
	Replay           entity.ReplayPolicy
	EventName        string
	ResumeFromCursor bool
	StoreTimeout     time.Duration
	ArchiveQueueSize int
	Reconnect        ReconnectConfig
}

// Status is a point-in-time view of the relay
type Status struct {
	State        entity.SubscriptionState `json:"state"`
	Topic        string                   `json:"topic"`
	Replay       string                   `json:"replay"`
	Clients      int                      `json:"clients"`
	LastReplayID int64                    `json:"lastReplayId"`
	LastEventAt  *time.Time               `json:"lastEventAt,omitempty"`
	Events       uint64                   `json:"events"`
	Reconnects   uint64                   `json:"reconnects"`
	LastError    string                   `json:"lastError,omitempty"`
}

// StateListener is notified on every subscription state change
type StateListener func(state entity.SubscriptionState)

// RelayUseCase keeps one upstream subscription alive and hands every
// event to the hub in arrival order
type RelayUseCase struct {
	source  upstream.Source
	hub     Broadcaster
	cursors repository.CursorRepository
	archive repository.ArchiveRepository
	metrics *metrics.Metrics
	logger  *logger.Logger
	cfg     RelayConfig

	mu           sync.RWMutex
	state        entity.SubscriptionState
	lastReplayID int64
	lastEventAt  time.Time
	events       uint64
	reconnects   uint64
	lastErr      error
	listeners    []StateListener
}

// NewRelayUseCase creates a new relay use case. archive may be nil.
func NewRelayUseCase(
	source upstream.Source,
	broadcaster Broadcaster,
	cursors repository.CursorRepository,
	archive repository.ArchiveRepository,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg RelayConfig,
) *RelayUseCase {
	if cfg.EventName == "" {
		cfg.EventName = entity.DefaultEventName
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	return &RelayUseCase{
		source:       source,
		hub:          broadcaster,
		cursors:      cursors,
		archive:      archive,
		metrics:      m,
		logger:       log,
		cfg:          cfg,
		state:        entity.StateIdle,
		lastReplayID: int64(cfg.Replay),
	}
}

// OnStateChange registers a listener. Register before Run.
func (uc *RelayUseCase) OnStateChange(l StateListener) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.listeners = append(uc.listeners, l)
}

// Status returns the current relay status
func (uc *RelayUseCase) Status() Status {
	uc.mu.RLock()
	defer uc.mu.RUnlock()

	st := Status{
		State:        uc.state,
		Topic:        uc.cfg.Topic,
		Replay:       uc.cfg.Replay.String(),
		Clients:      uc.hub.Count(),
		LastReplayID: uc.lastReplayID,
		Events:       uc.events,
		Reconnects:   uc.reconnects,
	}
	if !uc.lastEventAt.IsZero() {
		at := uc.lastEventAt
		st.LastEventAt = &at
	}
	if uc.lastErr != nil {
		st.LastError = uc.lastErr.Error()
	}
	return st
}

// Run authenticates, subscribes and keeps the subscription alive until
// ctx is cancelled (returns nil) or a permanent failure occurs. The
// failure is returned but connected clients stay attached to the hub.
func (uc *RelayUseCase) Run(ctx context.Context) error {
	sinkCtx, cancelSinks := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancelSinks()

	if err := uc.startSinks(sinkCtx, &wg); err != nil {
		return err
	}

	b := uc.newBackOff()
	resume := false

	for {
		started := time.Now()
		delivered := uc.eventCount()

		err := uc.runOnce(ctx, resume)
		if ctx.Err() != nil {
			uc.setState(entity.StateStopped, nil)
			uc.logger.Info("Upstream subscription stopped", logger.String("topic", uc.cfg.Topic))
			return nil
		}
		if err == nil {
			err = errors.New("upstream subscription ended unexpectedly")
		}

		if upstream.IsPermanent(err) {
			uc.setState(entity.StateFailed, err)
			uc.logger.Error("Upstream subscription failed permanently, relay continues without events",
				logger.String("topic", uc.cfg.Topic),
				logger.Error(err),
			)
			return err
		}
		if !uc.cfg.Reconnect.Enabled {
			uc.setState(entity.StateFailed, err)
			uc.logger.Error("Upstream subscription failed, reconnect disabled",
				logger.String("topic", uc.cfg.Topic),
				logger.Error(err),
			)
			return err
		}

		// A subscription that delivered events or outlived the longest
		// backoff step counts as healthy and restarts the schedule.
		if uc.eventCount() > delivered || time.Since(started) > uc.cfg.Reconnect.MaxInterval {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			err = fmt.Errorf("giving up reconnecting after %s: %w", uc.cfg.Reconnect.MaxElapsed, err)
			uc.setState(entity.StateFailed, err)
			uc.logger.Error("Upstream reconnect budget exhausted", logger.Error(err))
			return err
		}

		uc.setState(entity.StateReconnecting, err)
		uc.mu.Lock()
		uc.reconnects++
		uc.mu.Unlock()
		if uc.metrics != nil {
			uc.metrics.UpstreamReconnects.Inc()
		}
		uc.logger.Warn("Upstream subscription lost, reconnecting",
			logger.String("topic", uc.cfg.Topic),
			logger.Duration("retry_in", wait),
			logger.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			uc.setState(entity.StateStopped, nil)
			return nil
		case <-timer.C:
		}
		resume = true
	}
}

// runOnce performs one connect and subscribe cycle
func (uc *RelayUseCase) runOnce(ctx context.Context, resume bool) error {
	uc.setState(entity.StateAuthenticating, nil)
	if err := uc.source.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect upstream: %w", err)
	}

	sub := entity.StreamSubscription{
		Topic:  uc.cfg.Topic,
		Replay: uc.replayFor(ctx, resume),
	}

	uc.setState(entity.StateSubscribed, nil)
	uc.logger.Info("Subscribed to upstream topic",
		logger.String("topic", sub.Topic),
		logger.String("replay", sub.Replay.String()),
	)

	return uc.source.Subscribe(ctx, sub, uc.handle)
}

// replayFor picks the replay position of a subscription attempt. Only a
// re-subscription with resume enabled uses the stored cursor.
func (uc *RelayUseCase) replayFor(ctx context.Context, resume bool) entity.ReplayPolicy {
	if !resume || !uc.cfg.ResumeFromCursor || uc.cursors == nil {
		return uc.cfg.Replay
	}

	id, ok, err := uc.cursors.GetCursor(ctx, uc.cfg.Topic)
	if err != nil {
		uc.logger.Warn("Failed to read replay cursor, using configured policy", logger.Error(err))
		return uc.cfg.Replay
	}
	if !ok || id < 0 {
		return uc.cfg.Replay
	}
	return entity.ReplayPolicy(id)
}

// handle is called by the source for every event in arrival order
func (uc *RelayUseCase) handle(msg *entity.RelayMessage) {
	msg.Event = uc.cfg.EventName
	if msg.Topic == "" {
		msg.Topic = uc.cfg.Topic
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	uc.mu.Lock()
	uc.events++
	uc.lastEventAt = msg.ReceivedAt
	if msg.ReplayID > uc.lastReplayID {
		uc.lastReplayID = msg.ReplayID
	}
	uc.mu.Unlock()

	if uc.metrics != nil {
		uc.metrics.UpstreamEvents.Inc()
	}

	n := uc.hub.Broadcast(msg)
	uc.logger.Debug("Relayed upstream event",
		logger.Int64("replay_id", msg.ReplayID),
		logger.Int("recipients", n),
	)
}

func (uc *RelayUseCase) eventCount() uint64 {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.events
}

func (uc *RelayUseCase) setState(state entity.SubscriptionState, err error) {
	uc.mu.Lock()
	changed := uc.state != state
	uc.state = state
	if err != nil || state == entity.StateSubscribed {
		uc.lastErr = err
	}
	listeners := append([]StateListener(nil), uc.listeners...)
	uc.mu.Unlock()

	if !changed {
		return
	}
	if uc.metrics != nil {
		uc.metrics.SetUpstreamState(string(state))
	}
	for _, l := range listeners {
		l(state)
	}
}

func (uc *RelayUseCase) newBackOff() *backoff.ExponentialBackOff {
	rc := uc.cfg.Reconnect
	b := backoff.NewExponentialBackOff()
	if rc.InitialInterval > 0 {
		b.InitialInterval = rc.InitialInterval
	}
	if rc.MaxInterval > 0 {
		b.MaxInterval = rc.MaxInterval
	}
	if rc.Multiplier >= 1 {
		b.Multiplier = rc.Multiplier
	}
	if rc.Jitter >= 0 && rc.Jitter < 1 {
		b.RandomizationFactor = rc.Jitter
	}
	b.MaxElapsedTime = rc.MaxElapsed
	b.Reset()
	return b
}
