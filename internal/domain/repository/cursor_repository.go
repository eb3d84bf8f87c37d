package repository

import "context"

// CursorRepository remembers the last replay position seen for a topic
type CursorRepository interface {
	// GetCursor returns the last recorded replay id and whether one exists
	GetCursor(ctx context.Context, topic string) (int64, bool, error)

	// SaveCursor records the replay id of the latest delivered event
	SaveCursor(ctx context.Context, topic string, replayID int64) error
}
