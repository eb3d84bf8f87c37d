// Package retention removes archived relay messages once they expire.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moroshma/AssetRelay/pkg/logger"
)

// ArchiveStore lists and removes archived objects
type ArchiveStore interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteObject(ctx context.Context, objectName string) error
}

// Config represents retention configuration
type Config struct {
	Retention time.Duration // zero disables the service
	Interval  time.Duration
}

// Result summarizes one sweep
type Result struct {
	Expired int
	Deleted int
	Failed  int
}

// Service periodically sweeps the archive
type Service struct {
	store     ArchiveStore
	logger    *logger.Logger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewService creates a new retention service
func NewService(store ArchiveStore, cfg Config, log *logger.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Service{
		store:     store,
		logger:    log,
		retention: cfg.Retention,
		interval:  cfg.Interval,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Enabled reports whether sweeps will run
func (s *Service) Enabled() bool {
	return s.retention > 0
}

// Start runs a sweep immediately and then every interval until ctx ends or Stop
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("Archive retention is disabled")
		return
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Starting archive retention",
		logger.Duration("retention", s.retention),
		logger.Duration("interval", s.interval),
	)
	go s.loop(ctx)
}

// Stop ends the sweep loop and waits for a running sweep to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Archive retention stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Initial archive sweep failed", logger.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Archive sweep failed", logger.Error(err))
			}
		}
	}
}

// RunOnce deletes every object older than the retention period. Failed
// deletions are counted and retried on the next sweep.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	start := s.now()
	cutoff := start.Add(-s.retention)

	expired, err := s.store.ListOlderThan(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to list expired objects: %w", err)
	}
	res.Expired = len(expired)
	if res.Expired == 0 {
		s.logger.Debug("No archived messages expired")
		return res, nil
	}

	for _, name := range expired {
		if err := s.store.DeleteObject(ctx, name); err != nil {
			s.logger.Error("Failed to delete archived message",
				logger.String("object_name", name),
				logger.Error(err),
			)
			res.Failed++
			continue
		}
		res.Deleted++
	}

	s.logger.Info("Archive sweep completed",
		logger.Int("expired", res.Expired),
		logger.Int("deleted", res.Deleted),
		logger.Int("failed", res.Failed),
		logger.Duration("duration", time.Since(start)),
	)
	return res, nil
}
