package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/moroshma/AssetRelay/internal/hub"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

// startSinks attaches the cursor tracker and the optional archive to the
// hub. Each runs on its own goroutine so storage latency never reaches
// the upstream loop.
func (uc *RelayUseCase) startSinks(ctx context.Context, wg *sync.WaitGroup) error {
	if uc.cursors != nil {
		sub, err := uc.hub.SubscribeSink(cursorSinkID, 0)
		if err != nil {
			return fmt.Errorf("failed to attach cursor sink: %w", err)
		}
		wg.Add(1)
		go uc.cursorLoop(ctx, wg, sub)
	}

	if uc.archive != nil {
		sub, err := uc.hub.SubscribeSink(archiveSinkID, uc.cfg.ArchiveQueueSize)
		if err != nil {
			return fmt.Errorf("failed to attach archive sink: %w", err)
		}
		wg.Add(1)
		go uc.archiveLoop(ctx, wg, sub)
	}

	return nil
}

func (uc *RelayUseCase) cursorLoop(ctx context.Context, wg *sync.WaitGroup, sub *hub.Subscriber) {
	defer wg.Done()
	defer uc.hub.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if msg.ReplayID < 0 {
				continue
			}
			storeCtx, cancel := context.WithTimeout(ctx, uc.cfg.StoreTimeout)
			err := uc.cursors.SaveCursor(storeCtx, msg.Topic, msg.ReplayID)
			cancel()
			if err != nil {
				uc.logger.Warn("Failed to save replay cursor",
					logger.String("topic", msg.Topic),
					logger.Int64("replay_id", msg.ReplayID),
					logger.Error(err),
				)
			}
		}
	}
}

func (uc *RelayUseCase) archiveLoop(ctx context.Context, wg *sync.WaitGroup, sub *hub.Subscriber) {
	defer wg.Done()
	defer uc.hub.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			storeCtx, cancel := context.WithTimeout(ctx, uc.cfg.StoreTimeout)
			err := uc.archive.Store(storeCtx, msg)
			cancel()
			if err != nil {
				if uc.metrics != nil {
					uc.metrics.ArchiveErrors.Inc()
				}
				uc.logger.Error("Failed to archive relay message",
					logger.Int64("replay_id", msg.ReplayID),
					logger.Error(err),
				)
			}
		}
	}
}
