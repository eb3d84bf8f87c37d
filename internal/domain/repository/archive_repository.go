package repository

import (
	"context"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
)

// ArchiveRepository stores relayed messages for later inspection
type ArchiveRepository interface {
	// Store writes one relayed message
	Store(ctx context.Context, msg *entity.RelayMessage) error
}
