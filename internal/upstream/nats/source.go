// Package nats relays events published on a NATS subject.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/internal/upstream"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

// Config represents NATS source configuration
type Config struct {
	URL      string
	Username string
	Password string
	Name     string
	Timeout  time.Duration
}

// Source is an upstream.Source reading core NATS messages.
// Core NATS has no history, so only the new_only replay policy applies.
type Source struct {
	cfg    Config
	logger *logger.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	closed chan struct{}
	seq    int64
}

var _ upstream.Source = (*Source)(nil)

// NewSource creates a new NATS source
func NewSource(cfg Config, log *logger.Logger) (*Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url cannot be empty")
	}
	if cfg.Name == "" {
		cfg.Name = "asset-relay"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Source{cfg: cfg, logger: log}, nil
}

// Connect dials the NATS server
func (s *Source) Connect(ctx context.Context) error {
	closed := make(chan struct{})
	var once sync.Once

	opts := []nats.Option{
		nats.Name(s.cfg.Name),
		nats.Timeout(s.cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("NATS disconnected", logger.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("NATS reconnected", logger.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			once.Do(func() { close(closed) })
		}),
	}
	if s.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(s.cfg.Username, s.cfg.Password))
	}

	conn, err := nats.Connect(s.cfg.URL, opts...)
	if err != nil {
		if errors.Is(err, nats.ErrAuthorization) || errors.Is(err, nats.ErrAuthExpired) {
			return fmt.Errorf("%w: %v", upstream.ErrAuthentication, err)
		}
		return fmt.Errorf("failed to connect to nats: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.closed = closed
	s.mu.Unlock()

	s.logger.Info("Connected to NATS", logger.String("url", conn.ConnectedUrl()))
	return nil
}

// Subscribe relays every message on the subject until ctx ends or the connection closes
func (s *Source) Subscribe(ctx context.Context, sub entity.StreamSubscription, handle upstream.Handler) error {
	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()
	if conn == nil {
		return upstream.ErrNotConnected
	}
	if sub.Replay != entity.ReplayNewOnly {
		return fmt.Errorf("%w: nats supports only new_only replay", upstream.ErrSubscriptionDenied)
	}

	// A buffered channel keeps the callback goroutine non-blocking while
	// preserving arrival order for the handler.
	ch := make(chan *nats.Msg, 256)
	subscription, err := conn.ChanSubscribe(sub.Topic, ch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", sub.Topic, err)
	}
	defer func() {
		if err := subscription.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			s.logger.Debug("Unsubscribe failed", logger.Error(err))
		}
	}()

	s.logger.Info("Subscribed to subject", logger.String("subject", sub.Topic))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return fmt.Errorf("nats connection closed")
		case msg := <-ch:
			s.mu.Lock()
			s.seq++
			seq := s.seq
			s.mu.Unlock()
			handle(&entity.RelayMessage{
				Topic:      sub.Topic,
				Data:       append([]byte(nil), msg.Data...),
				ReplayID:   seq,
				ReceivedAt: time.Now(),
			})
		}
	}
}

// Close closes the connection
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}
