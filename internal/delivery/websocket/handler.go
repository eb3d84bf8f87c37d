// Package websocket is the client connection manager for browser and CLI
// consumers. Every accepted connection receives every relayed message as a
// JSON text frame {"event": ..., "data": ...}.
package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/internal/hub"
	"github.com/moroshma/AssetRelay/internal/metrics"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

const transportName = "websocket"

// Subscriptions is the part of the hub a connection attaches to
type Subscriptions interface {
	Subscribe(id string) (*hub.Subscriber, error)
	Unsubscribe(id string)
}

// Config represents WebSocket handler configuration
type Config struct {
	WriteTimeout  time.Duration
	PingInterval  time.Duration
	ConnectRate   float64
	ConnectBurst  int
	AllowedOrigin string
	ReadLimit     int64
}

// Handler upgrades HTTP requests and streams hub messages to each connection
type Handler struct {
	hub      Subscriptions
	cfg      Config
	upgrader websocket.Upgrader
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *logger.Logger

	mu    sync.RWMutex
	conns map[string]*entity.ClientConnection
	wg    sync.WaitGroup
}

// NewHandler creates a new WebSocket handler
func NewHandler(subs Subscriptions, cfg Config, m *metrics.Metrics, log *logger.Logger) *Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 4096
	}

	limit := rate.Inf
	if cfg.ConnectRate > 0 {
		limit = rate.Limit(cfg.ConnectRate)
	}
	burst := cfg.ConnectBurst
	if burst <= 0 {
		burst = 1
	}

	h := &Handler{
		hub:     subs,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		metrics: m,
		logger:  log,
		conns:   make(map[string]*entity.ClientConnection),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.AllowedOrigin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == h.cfg.AllowedOrigin
}

// ServeHTTP accepts one client connection
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		h.logger.Warn("Connection rejected by rate limit", logger.String("remote_addr", r.RemoteAddr))
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	client := &entity.ClientConnection{
		ID:          uuid.NewString(),
		Transport:   transportName,
		RemoteAddr:  r.RemoteAddr,
		State:       entity.Connected,
		ConnectedAt: time.Now(),
	}

	// Attach before the handshake completes so a client that starts
	// listening on handshake success never misses a broadcast.
	sub, err := h.hub.Subscribe(client.ID)
	if err != nil {
		h.logger.Warn("Failed to attach connection to hub", logger.Error(err))
		http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.hub.Unsubscribe(client.ID)
		h.logger.Debug("WebSocket upgrade failed",
			logger.String("remote_addr", r.RemoteAddr),
			logger.Error(err),
		)
		return
	}

	h.track(client)
	h.wg.Add(1)
	defer h.wg.Done()
	defer h.untrack(client, sub)
	defer h.hub.Unsubscribe(client.ID)
	defer conn.Close()

	closed := make(chan struct{})
	go h.readLoop(conn, closed)
	h.writeLoop(conn, sub, closed)
}

// readLoop discards client input and detects disconnects
func (h *Handler) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	pongWait := 2 * h.cfg.PingInterval
	conn.SetReadLimit(h.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// writeLoop forwards hub messages until the client or the hub goes away
func (h *Handler) writeLoop(conn *websocket.Conn, sub *hub.Subscriber, closed <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case msg, ok := <-sub.Messages():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay detached"),
					time.Now().Add(h.cfg.WriteTimeout))
				return
			}

			frame, err := msg.Encode()
			if err != nil {
				h.logger.Error("Failed to encode frame", logger.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("Write failed",
					logger.String("connection_id", sub.ID),
					logger.Error(err),
				)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) track(client *entity.ClientConnection) {
	if h.metrics != nil {
		h.metrics.ClientsConnected.WithLabelValues(transportName).Inc()
		h.metrics.ConnectionsTotal.WithLabelValues(transportName).Inc()
	}

	h.mu.Lock()
	h.conns[client.ID] = client
	total := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("Client connected",
		logger.String("connection_id", client.ID),
		logger.String("remote_addr", client.RemoteAddr),
		logger.Int("connections", total),
	)
}

func (h *Handler) untrack(client *entity.ClientConnection, sub *hub.Subscriber) {
	h.mu.Lock()
	client.State = entity.Disconnected
	delete(h.conns, client.ID)
	total := len(h.conns)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ClientsConnected.WithLabelValues(transportName).Dec()
	}
	h.logger.Info("Client disconnected",
		logger.String("connection_id", client.ID),
		logger.Duration("duration", time.Since(client.ConnectedAt)),
		logger.Uint64("dropped", sub.Dropped()),
		logger.Int("connections", total),
	)
}

// Connections returns a snapshot of the live connections
func (h *Handler) Connections() []entity.ClientConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]entity.ClientConnection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, *c)
	}
	return out
}

// Wait blocks until every connection goroutine has returned
func (h *Handler) Wait() {
	h.wg.Wait()
}
