package tarantool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tarantool/go-tarantool/v2"

	"github.com/moroshma/AssetRelay/internal/domain/repository"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

const cursorSpace = "relay_cursors"

const ensureSchema = `
local s = box.schema.space.create('relay_cursors', {if_not_exists = true})
s:format({
    {name = 'topic', type = 'string'},
    {name = 'replay_id', type = 'integer'},
    {name = 'updated_at', type = 'unsigned'},
})
s:create_index('primary', {parts = {'topic'}, if_not_exists = true})
return true
`

// Repository implements repository.CursorRepository using Tarantool
type Repository struct {
	conn   *tarantool.Connection
	logger *logger.Logger
	mu     sync.RWMutex
	closed bool
}

var _ repository.CursorRepository = (*Repository)(nil)

// Config represents Tarantool repository configuration
type Config struct {
	Address  string
	User     string
	Password string
	Timeout  time.Duration
}

// NewRepository connects to Tarantool
func NewRepository(cfg *Config, log *logger.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	dialer := tarantool.NetDialer{
		Address:  cfg.Address,
		User:     cfg.User,
		Password: cfg.Password,
	}

	opts := tarantool.Opts{
		Timeout: cfg.Timeout,
	}

	conn, err := tarantool.Connect(ctx, dialer, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Tarantool: %w", err)
	}

	return &Repository{
		conn:   conn,
		logger: log,
	}, nil
}

// EnsureSchema creates the cursor space when missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("repository is closed")
	}

	if _, err := r.conn.Do(tarantool.NewEvalRequest(ensureSchema).Context(ctx)).Get(); err != nil {
		return fmt.Errorf("failed to ensure cursor space: %w", err)
	}
	return nil
}

// Close closes the Tarantool connection
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	return r.conn.Close()
}

// Ping checks if the connection to Tarantool is alive
func (r *Repository) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("repository is closed")
	}

	_, err := r.conn.Do(tarantool.NewPingRequest().Context(ctx)).Get()
	return err
}

// GetCursor returns the stored replay id for topic
func (r *Repository) GetCursor(ctx context.Context, topic string) (int64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, false, fmt.Errorf("repository is closed")
	}

	return r.getUnlocked(ctx, topic)
}

// SaveCursor stores the replay id for topic, never moving it backwards
func (r *Repository) SaveCursor(ctx context.Context, topic string, replayID int64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("repository is closed")
	}

	// Only the relay loop writes cursors, so read-then-replace is safe.
	current, ok, err := r.getUnlocked(ctx, topic)
	if err != nil {
		return err
	}
	if ok && current >= replayID {
		return nil
	}

	req := tarantool.NewReplaceRequest(cursorSpace).
		Context(ctx).
		Tuple([]interface{}{topic, replayID, uint64(time.Now().Unix())})

	if _, err := r.conn.Do(req).Get(); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}

	r.logger.Debug("Saved replay cursor",
		logger.String("topic", topic),
		logger.Int64("replay_id", replayID),
	)
	return nil
}

func (r *Repository) getUnlocked(ctx context.Context, topic string) (int64, bool, error) {
	req := tarantool.NewSelectRequest(cursorSpace).
		Context(ctx).
		Index("primary").
		Iterator(tarantool.IterEq).
		Limit(1).
		Key([]interface{}{topic})

	resp, err := r.conn.Do(req).Get()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cursor: %w", err)
	}
	return parseCursor(resp)
}

// parseCursor reads the replay id from a select response
func parseCursor(resp []interface{}) (int64, bool, error) {
	if len(resp) == 0 {
		return 0, false, nil
	}

	tuple, ok := resp[0].([]interface{})
	if !ok || len(tuple) < 2 {
		return 0, false, fmt.Errorf("invalid cursor tuple: %v", resp[0])
	}

	id, ok := toInt64(tuple[1])
	if !ok {
		return 0, false, fmt.Errorf("invalid replay id type %T", tuple[1])
	}
	return id, true, nil
}

// toInt64 converts msgpack-decoded integers
func toInt64(val interface{}) (int64, bool) {
	switch v := val.(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	default:
		return 0, false
	}
}
