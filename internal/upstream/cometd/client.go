// Package cometd subscribes to platform streaming topics over Bayeux
// long-polling, authenticating with the partner SOAP login.
package cometd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/internal/upstream"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

// Config represents streaming client configuration
type Config struct {
	LoginURL       string
	Username       string
	Password       string
	APIVersion     string
	RequestTimeout time.Duration

	// HTTPClient overrides the pooled client, mainly for tests
	HTTPClient *http.Client
}

// Client is an upstream.Source backed by the platform streaming API
type Client struct {
	cfg    Config
	http   *http.Client
	logger *logger.Logger

	mu      sync.Mutex
	session *Session
	msgID   atomic.Uint64
}

var _ upstream.Source = (*Client)(nil)

// NewClient creates a new streaming client
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.LoginURL == "" {
		return nil, fmt.Errorf("login url cannot be empty")
	}
	if cfg.APIVersion == "" {
		return nil, fmt.Errorf("api version cannot be empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: log,
	}, nil
}

// Session returns the current login session, or nil
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connect logs in and stores the session
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	session, err := login(ctx, c.http, c.cfg.LoginURL, c.cfg.APIVersion, c.cfg.Username, c.cfg.Password)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	c.logger.Info("Logged in to platform",
		logger.String("instance_url", session.InstanceURL),
		logger.String("user_id", session.UserID),
	)
	return nil
}

// Subscribe runs handshake, subscribe and the connect loop until ctx ends
func (c *Client) Subscribe(ctx context.Context, sub entity.StreamSubscription, handle upstream.Handler) error {
	session := c.Session()
	if session == nil {
		return upstream.ErrNotConnected
	}

	// Bayeux ties the client id to a server-side cookie, so every
	// subscription gets a fresh jar.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	httpClient := *c.http
	httpClient.Jar = jar
	httpClient.Timeout = 0

	endpoint := strings.TrimRight(session.InstanceURL, "/") + "/cometd/" + c.cfg.APIVersion
	conn := &bayeuxConn{
		client:   c,
		http:     &httpClient,
		endpoint: endpoint,
		token:    session.ID,
	}

	defer conn.disconnect()

	if err := conn.handshakeAndSubscribe(ctx, sub); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	c.logger.Info("Subscribed to topic",
		logger.String("topic", sub.Topic),
		logger.String("replay", sub.Replay.String()),
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		msgs, err := conn.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		reconnect := reconnectRetry
		for _, m := range msgs {
			if m.Channel == channelConnect {
				if m.Advice != nil {
					conn.advice = m.Advice
					if m.Advice.Reconnect != "" {
						reconnect = m.Advice.Reconnect
					}
				}
				if !m.Successful && errorCode(m.Error) == "401" {
					return fmt.Errorf("%w: %s", upstream.ErrSessionExpired, m.Error)
				}
				if !m.Successful && errorCode(m.Error) == "403" {
					reconnect = reconnectHandshake
				}
				continue
			}
			if isMeta(m.Channel) || m.Channel != sub.Topic {
				continue
			}
			handle(&entity.RelayMessage{
				Topic:      sub.Topic,
				Data:       m.Data,
				ReplayID:   replayIDOf(m.Data),
				ReceivedAt: time.Now(),
			})
		}

		switch reconnect {
		case reconnectNone:
			return fmt.Errorf("server advised not to reconnect")
		case reconnectHandshake:
			c.logger.Info("Server requested re-handshake", logger.String("topic", sub.Topic))
			if err := conn.handshakeAndSubscribe(ctx, sub); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		if wait := conn.advice.interval(); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}
	}
}

// Close forgets the session
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	return nil
}

func (c *Client) nextID() string {
	return strconv.FormatUint(c.msgID.Add(1), 10)
}

// bayeuxConn is the per-subscription protocol state
type bayeuxConn struct {
	client   *Client
	http     *http.Client
	endpoint string
	token    string
	clientID string
	advice   *advice
}

func (b *bayeuxConn) handshakeAndSubscribe(ctx context.Context, sub entity.StreamSubscription) error {
	if err := b.handshake(ctx); err != nil {
		return err
	}
	return b.subscribe(ctx, sub)
}

func (b *bayeuxConn) handshake(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, b.client.cfg.RequestTimeout)
	defer cancel()

	resp, err := b.send(reqCtx, message{
		Channel:                  channelHandshake,
		ID:                       b.client.nextID(),
		Version:                  "1.0",
		MinimumVersion:           "1.0",
		SupportedConnectionTypes: []string{"long-polling"},
		Ext:                      map[string]interface{}{"replay": true},
	})
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}

	m := find(resp, channelHandshake)
	if m == nil {
		return fmt.Errorf("handshake failed: no handshake reply")
	}
	if !m.Successful {
		if errorCode(m.Error) == "401" {
			return fmt.Errorf("%w: %s", upstream.ErrSessionExpired, m.Error)
		}
		return fmt.Errorf("handshake rejected: %s", m.Error)
	}

	b.clientID = m.ClientID
	b.advice = m.Advice
	return nil
}

func (b *bayeuxConn) subscribe(ctx context.Context, sub entity.StreamSubscription) error {
	reqCtx, cancel := context.WithTimeout(ctx, b.client.cfg.RequestTimeout)
	defer cancel()

	resp, err := b.send(reqCtx, message{
		Channel:      channelSubscribe,
		ID:           b.client.nextID(),
		ClientID:     b.clientID,
		Subscription: sub.Topic,
		Ext: map[string]interface{}{
			"replay": map[string]int64{sub.Topic: int64(sub.Replay)},
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	m := find(resp, channelSubscribe)
	if m == nil {
		return fmt.Errorf("subscribe failed: no subscribe reply")
	}
	if !m.Successful {
		switch errorCode(m.Error) {
		case "401":
			return fmt.Errorf("%w: %s", upstream.ErrSessionExpired, m.Error)
		case "403":
			return fmt.Errorf("subscribe rejected: %s", m.Error)
		}
		return fmt.Errorf("%w: %s: %s", upstream.ErrSubscriptionDenied, sub.Topic, m.Error)
	}
	return nil
}

func (b *bayeuxConn) connect(ctx context.Context) ([]message, error) {
	// The server holds a long-poll open for advice.timeout; allow the
	// regular request timeout on top of it.
	timeout := b.client.cfg.RequestTimeout + b.advice.timeout()
	if b.advice.timeout() == 0 {
		timeout += 110 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := b.send(reqCtx, message{
		Channel:        channelConnect,
		ID:             b.client.nextID(),
		ClientID:       b.clientID,
		ConnectionType: "long-polling",
	})
	if err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	return resp, nil
}

func (b *bayeuxConn) disconnect() {
	if b.clientID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.send(ctx, message{
		Channel:  channelDisconnect,
		ID:       b.client.nextID(),
		ClientID: b.clientID,
	}); err != nil {
		b.client.logger.Debug("Disconnect failed", logger.Error(err))
	}
	b.clientID = ""
}

func (b *bayeuxConn) send(ctx context.Context, msgs ...message) ([]message, error) {
	body, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: status %d", upstream.ErrSessionExpired, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var out []message
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

func find(msgs []message, channel string) *message {
	for i := range msgs {
		if msgs[i].Channel == channel {
			return &msgs[i]
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
