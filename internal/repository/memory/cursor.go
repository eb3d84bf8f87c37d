package memory

import (
	"context"
	"sync"
)

// CursorRepository keeps replay positions in process memory
type CursorRepository struct {
	mu      sync.RWMutex
	cursors map[string]int64
}

// NewCursorRepository creates an empty in-memory cursor store
func NewCursorRepository() *CursorRepository {
	return &CursorRepository{cursors: make(map[string]int64)}
}

// GetCursor returns the last recorded replay id for topic
func (r *CursorRepository) GetCursor(ctx context.Context, topic string) (int64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.cursors[topic]
	return id, ok, nil
}

// SaveCursor records replayID if it advances the stored position
func (r *CursorRepository) SaveCursor(ctx context.Context, topic string, replayID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.cursors[topic]; !ok || replayID > cur {
		r.cursors[topic] = replayID
	}
	return nil
}
