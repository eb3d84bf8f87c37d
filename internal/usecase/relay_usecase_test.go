package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/internal/hub"
	"github.com/moroshma/AssetRelay/internal/metrics"
	"github.com/moroshma/AssetRelay/internal/repository/memory"
	"github.com/moroshma/AssetRelay/internal/upstream"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

const testTopic = "/event/AssetCancelInitiatedEvent"

// fakeSource scripts one behaviour per subscription attempt
type fakeSource struct {
	mu          sync.Mutex
	connectFn   func(ctx context.Context, attempt int) error
	subscribeFn func(ctx context.Context, attempt int, handle upstream.Handler) error
	connects    int
	subs        []entity.StreamSubscription
}

func (f *fakeSource) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	attempt := f.connects
	f.mu.Unlock()
	if f.connectFn != nil {
		return f.connectFn(ctx, attempt)
	}
	return nil
}

func (f *fakeSource) Subscribe(ctx context.Context, sub entity.StreamSubscription, handle upstream.Handler) error {
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	attempt := len(f.subs)
	f.mu.Unlock()
	if f.subscribeFn != nil {
		return f.subscribeFn(ctx, attempt, handle)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) subscriptions() []entity.StreamSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.StreamSubscription(nil), f.subs...)
}

// MockArchiveRepository is a mock implementation of ArchiveRepository
type MockArchiveRepository struct {
	mock.Mock
}

func (m *MockArchiveRepository) Store(ctx context.Context, msg *entity.RelayMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func event(requestID string, replayID int64) *entity.RelayMessage {
	return &entity.RelayMessage{
		Topic:    testTopic,
		ReplayID: replayID,
		Data:     json.RawMessage(fmt.Sprintf(`{"payload":{"RequestId":%q,"HasErrors":false},"event":{"replayId":%d}}`, requestID, replayID)),
	}
}

func testConfig() RelayConfig {
	return RelayConfig{
		Topic:     testTopic,
		Replay:    entity.ReplayNewOnly,
		EventName: "AssetEvent",
		Reconnect: ReconnectConfig{
			Enabled:         true,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
	}
}

type fixture struct {
	hub     *hub.Hub
	metrics *metrics.Metrics
	cursors *memory.CursorRepository
	log     *logger.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	m := metrics.New()
	return &fixture{
		hub:     hub.New(hub.Config{QueueSize: 16}, log, m),
		metrics: m,
		cursors: memory.NewCursorRepository(),
		log:     log,
	}
}

func runAsync(ctx context.Context, uc *RelayUseCase) <-chan error {
	done := make(chan error, 1)
	go func() { done <- uc.Run(ctx) }()
	return done
}

func receive(t *testing.T, sub *hub.Subscriber) *entity.RelayMessage {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed message")
		return nil
	}
}

func TestRelayUseCase_RelaysEventsInOrder(t *testing.T) {
	f := newFixture(t)
	source := &fakeSource{
		subscribeFn: func(ctx context.Context, attempt int, handle upstream.Handler) error {
			for i, id := range []string{"req-1", "req-2", "req-3"} {
				handle(event(id, int64(100+i)))
			}
			<-ctx.Done()
			return nil
		},
	}

	client, err := f.hub.Subscribe("client-1")
	require.NoError(t, err)

	uc := NewRelayUseCase(source, f.hub, f.cursors, nil, f.metrics, f.log, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, uc)

	for _, want := range []string{"req-1", "req-2", "req-3"} {
		msg := receive(t, client)
		assert.Equal(t, "AssetEvent", msg.Event)
		p, err := entity.DecodePayload(msg.Data)
		require.NoError(t, err)
		assert.Equal(t, want, p.Payload.RequestID)
	}

	assert.Eventually(t, func() bool {
		id, ok, _ := f.cursors.GetCursor(context.Background(), testTopic)
		return ok && id == 102
	}, 2*time.Second, 5*time.Millisecond)

	st := uc.Status()
	assert.Equal(t, entity.StateSubscribed, st.State)
	assert.Equal(t, int64(102), st.LastReplayID)
	assert.Equal(t, uint64(3), st.Events)
	assert.Equal(t, 1, st.Clients, "sinks are not reported as clients")
	assert.NotNil(t, st.LastEventAt)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, entity.StateStopped, uc.Status().State)
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.UpstreamEvents))
	assert.Equal(t, entity.ReplayNewOnly, source.subscriptions()[0].Replay)
}

func TestRelayUseCase_AuthenticationFailureIsPermanent(t *testing.T) {
	f := newFixture(t)
	source := &fakeSource{
		connectFn: func(ctx context.Context, attempt int) error {
			return fmt.Errorf("INVALID_LOGIN: %w", upstream.ErrAuthentication)
		},
	}

	uc := NewRelayUseCase(source, f.hub, f.cursors, nil, f.metrics, f.log, testConfig())
	err := uc.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, upstream.ErrAuthentication)
	assert.Equal(t, 1, source.connects, "bad credentials must not be retried")

	st := uc.Status()
	assert.Equal(t, entity.StateFailed, st.State)
	assert.Contains(t, st.LastError, "INVALID_LOGIN")

	// Clients can still attach after the adapter failed.
	_, err = f.hub.Subscribe("late-client")
	assert.NoError(t, err)
}

func TestRelayUseCase_ReconnectsAndResumesFromCursor(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cursors.SaveCursor(context.Background(), testTopic, 41))

	reconnected := make(chan struct{})
	source := &fakeSource{
		subscribeFn: func(ctx context.Context, attempt int, handle upstream.Handler) error {
			if attempt == 1 {
				return upstream.ErrSessionExpired
			}
			close(reconnected)
			<-ctx.Done()
			return nil
		},
	}

	cfg := testConfig()
	cfg.ResumeFromCursor = true
	uc := NewRelayUseCase(source, f.hub, f.cursors, nil, f.metrics, f.log, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, uc)

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a second subscription attempt")
	}
	cancel()
	require.NoError(t, <-done)

	subs := source.subscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, entity.ReplayNewOnly, subs[0].Replay, "initial subscription uses the configured policy")
	assert.Equal(t, entity.ReplayPolicy(41), subs[1].Replay)
	assert.Equal(t, 2, source.connects, "session expiry re-authenticates")
	assert.Equal(t, uint64(1), uc.Status().Reconnects)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.UpstreamReconnects))
}

func TestRelayUseCase_ResubscribeWithoutResumeKeepsPolicy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cursors.SaveCursor(context.Background(), testTopic, 41))

	reconnected := make(chan struct{})
	source := &fakeSource{
		subscribeFn: func(ctx context.Context, attempt int, handle upstream.Handler) error {
			if attempt == 1 {
				return errors.New("connection reset")
			}
			close(reconnected)
			<-ctx.Done()
			return nil
		},
	}

	uc := NewRelayUseCase(source, f.hub, f.cursors, nil, f.metrics, f.log, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, uc)

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a second subscription attempt")
	}
	cancel()
	require.NoError(t, <-done)

	subs := source.subscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, entity.ReplayNewOnly, subs[1].Replay)
}

func TestRelayUseCase_ReconnectDisabled(t *testing.T) {
	f := newFixture(t)
	source := &fakeSource{
		subscribeFn: func(ctx context.Context, attempt int, handle upstream.Handler) error {
			return errors.New("transport closed")
		},
	}

	cfg := testConfig()
	cfg.Reconnect.Enabled = false
	uc := NewRelayUseCase(source, f.hub, f.cursors, nil, f.metrics, f.log, cfg)

	err := uc.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, source.subscriptions(), 1)
	assert.Equal(t, entity.StateFailed, uc.Status().State)
}

func TestRelayUseCase_ReconnectBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	source := &fakeSource{
		connectFn: func(ctx context.Context, attempt int) error {
			return errors.New("dial tcp: connection refused")
		},
	}

	cfg := testConfig()
	cfg.Reconnect.MaxElapsed = 20 * time.Millisecond
	uc := NewRelayUseCase(source, f.hub, f.cursors, nil, f.metrics, f.log, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := uc.Run(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up reconnecting")
	assert.Greater(t, source.connects, 1)
	assert.Equal(t, entity.StateFailed, uc.Status().State)
}

func TestRelayUseCase_StateListener(t *testing.T) {
	f := newFixture(t)
	subscribed := make(chan struct{})
	source := &fakeSource{}

	uc := NewRelayUseCase(source, f.hub, nil, nil, f.metrics, f.log, testConfig())

	var mu sync.Mutex
	var states []entity.SubscriptionState
	uc.OnStateChange(func(s entity.SubscriptionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
		if s == entity.StateSubscribed {
			close(subscribed)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, uc)
	<-subscribed
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []entity.SubscriptionState{
		entity.StateAuthenticating,
		entity.StateSubscribed,
		entity.StateStopped,
	}, states)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.UpstreamState.WithLabelValues("stopped")))
}

func TestRelayUseCase_ArchivesMessages(t *testing.T) {
	f := newFixture(t)
	archive := &MockArchiveRepository{}
	archive.On("Store", mock.Anything, mock.MatchedBy(func(m *entity.RelayMessage) bool {
		return m.ReplayID == 1
	})).Return(nil)
	archive.On("Store", mock.Anything, mock.MatchedBy(func(m *entity.RelayMessage) bool {
		return m.ReplayID == 2
	})).Return(errors.New("bucket unavailable"))

	source := &fakeSource{
		subscribeFn: func(ctx context.Context, attempt int, handle upstream.Handler) error {
			handle(event("req-1", 1))
			handle(event("req-2", 2))
			<-ctx.Done()
			return nil
		},
	}

	uc := NewRelayUseCase(source, f.hub, nil, archive, f.metrics, f.log, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, uc)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.ArchiveErrors) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	archive.AssertNumberOfCalls(t, "Store", 2)
	assert.Equal(t, 0, f.hub.Count())
}
