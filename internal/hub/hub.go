// Package hub fans relayed messages out to every attached subscriber.
//
// Each subscriber owns a bounded queue. Broadcast never blocks on a
// subscriber: when a queue is full the configured OverflowPolicy decides
// whether the oldest queued message is discarded or the subscriber is
// detached. Messages are never retained for subscribers that attach later.
package hub

import (
	"errors"
	"fmt"
	"sync"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/internal/metrics"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

// OverflowPolicy decides what happens when a subscriber queue is full
type OverflowPolicy string

const (
	DropOldest OverflowPolicy = "drop_oldest"
	Disconnect OverflowPolicy = "disconnect"
)

// ErrClosed is returned when subscribing to a closed hub
var ErrClosed = errors.New("hub is closed")

// Config represents hub configuration
type Config struct {
	QueueSize int
	Overflow  OverflowPolicy
}

// Subscriber is one attached consumer of the broadcast stream
type Subscriber struct {
	ID string

	internal bool
	queue    chan *entity.RelayMessage
	done     chan struct{}
	mu       sync.Mutex
	closed   bool
	dropped  uint64
}

// Messages returns the subscriber queue. It is closed once the subscriber is detached.
func (s *Subscriber) Messages() <-chan *entity.RelayMessage {
	return s.queue
}

// Done is closed when the subscriber is detached for any reason
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Dropped returns how many messages were discarded for this subscriber
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// offer enqueues msg without blocking. dropped reports that a message
// was discarded, either the oldest queued one or msg itself. keep is
// false when the subscriber overflowed under the Disconnect policy.
func (s *Subscriber) offer(msg *entity.RelayMessage, policy OverflowPolicy) (delivered, dropped, keep bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, false, true
	}

	select {
	case s.queue <- msg:
		return true, false, true
	default:
	}

	s.dropped++
	if policy == Disconnect {
		return false, true, false
	}

	// Drop the oldest message to make room. The consumer may have drained
	// the queue in between, so both operations stay non-blocking.
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- msg:
		return true, true, true
	default:
		return false, true, true
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
	close(s.done)
}

// Hub is the process-wide broadcaster
type Hub struct {
	cfg     Config
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	subs   map[string]*Subscriber
	closed bool
}

// New creates a new hub
func New(cfg Config, log *logger.Logger, m *metrics.Metrics) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Overflow == "" {
		cfg.Overflow = DropOldest
	}
	return &Hub{
		cfg:     cfg,
		logger:  log,
		metrics: m,
		subs:    make(map[string]*Subscriber),
	}
}

// Subscribe attaches a client subscriber under id
func (h *Hub) Subscribe(id string) (*Subscriber, error) {
	return h.subscribe(id, false, 0)
}

// SubscribeSink attaches an in-process consumer such as the archive.
// Sinks always drop their oldest message on overflow and are not
// counted as clients. A non-positive queueSize uses the hub default.
func (h *Hub) SubscribeSink(id string, queueSize int) (*Subscriber, error) {
	return h.subscribe(id, true, queueSize)
}

func (h *Hub) subscribe(id string, internal bool, queueSize int) (*Subscriber, error) {
	if queueSize <= 0 {
		queueSize = h.cfg.QueueSize
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if _, exists := h.subs[id]; exists {
		return nil, fmt.Errorf("subscriber %s already attached", id)
	}

	sub := &Subscriber{
		ID:       id,
		internal: internal,
		queue:    make(chan *entity.RelayMessage, queueSize),
		done:     make(chan struct{}),
	}
	h.subs[id] = sub

	h.logger.Debug("Subscriber attached",
		logger.String("subscriber_id", id),
		logger.Int("subscribers", len(h.subs)),
	)

	return sub, nil
}

// Unsubscribe detaches the subscriber. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	remaining := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.close()

	h.logger.Debug("Subscriber detached",
		logger.String("subscriber_id", id),
		logger.Int("subscribers", remaining),
	)
}

// Broadcast enqueues msg for every subscriber attached at the moment of the call
func (h *Hub) Broadcast(msg *entity.RelayMessage) int {
	var overflowed []string
	delivered, evicted := 0, 0

	h.mu.RLock()
	for id, sub := range h.subs {
		policy := h.cfg.Overflow
		if sub.internal {
			policy = DropOldest
		}
		ok, dropped, keep := sub.offer(msg, policy)
		if ok {
			delivered++
		}
		if dropped {
			evicted++
			if h.metrics != nil {
				h.metrics.DeliveriesDropped.WithLabelValues(string(policy)).Inc()
			}
		}
		if !keep {
			overflowed = append(overflowed, id)
		}
	}
	total := len(h.subs)
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.MessagesBroadcast.Inc()
	}

	for _, id := range overflowed {
		h.logger.Warn("Subscriber queue overflowed, disconnecting",
			logger.String("subscriber_id", id),
			logger.Int("queue_size", h.cfg.QueueSize),
		)
		h.Unsubscribe(id)
	}

	if evicted > 0 || delivered < total {
		h.logger.Debug("Broadcast overflowed subscriber queues",
			logger.Int("delivered", delivered),
			logger.Int("dropped", evicted),
			logger.Int("subscribers", total),
		)
	}

	return delivered
}

// Count returns the number of attached client subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sub := range h.subs {
		if !sub.internal {
			n++
		}
	}
	return n
}

// Close detaches every subscriber and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	h.logger.Info("Hub closed", logger.Int("detached", len(subs)))
}
