package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/moroshma/AssetRelay/pkg/logger"
)

// MockArchiveStore is a mock implementation of ArchiveStore
type MockArchiveStore struct {
	mock.Mock
}

func (m *MockArchiveStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockArchiveStore) DeleteObject(ctx context.Context, objectName string) error {
	args := m.Called(ctx, objectName)
	return args.Error(0)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store ArchiveStore, cfg Config) *Service {
	svc := NewService(store, cfg, logger.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestNewService(t *testing.T) {
	svc := NewService(&MockArchiveStore{}, Config{Retention: 24 * time.Hour}, logger.Nop())

	assert.True(t, svc.Enabled())
	assert.Equal(t, 24*time.Hour, svc.retention)
	assert.Equal(t, time.Hour, svc.interval, "interval defaults to an hour")
	assert.False(t, NewService(&MockArchiveStore{}, Config{}, logger.Nop()).Enabled())
}

func TestRunOnce_Success(t *testing.T) {
	store := &MockArchiveStore{}
	svc := newTestService(store, Config{Retention: 24 * time.Hour, Interval: time.Hour})
	ctx := context.Background()

	store.On("ListOlderThan", ctx, fixedNow.Add(-24*time.Hour)).
		Return([]string{"event/a/1.json", "event/a/2.json"}, nil)
	store.On("DeleteObject", ctx, "event/a/1.json").Return(nil)
	store.On("DeleteObject", ctx, "event/a/2.json").Return(nil)

	res, err := svc.RunOnce(ctx)

	assert.NoError(t, err)
	assert.Equal(t, Result{Expired: 2, Deleted: 2}, res)
	store.AssertExpectations(t)
}

func TestRunOnce_NothingExpired(t *testing.T) {
	store := &MockArchiveStore{}
	svc := newTestService(store, Config{Retention: time.Hour})
	ctx := context.Background()

	store.On("ListOlderThan", ctx, mock.AnythingOfType("time.Time")).Return([]string{}, nil)

	res, err := svc.RunOnce(ctx)

	assert.NoError(t, err)
	assert.Equal(t, Result{}, res)
	store.AssertNotCalled(t, "DeleteObject", mock.Anything, mock.Anything)
}

func TestRunOnce_ListError(t *testing.T) {
	store := &MockArchiveStore{}
	svc := newTestService(store, Config{Retention: time.Hour})
	ctx := context.Background()

	store.On("ListOlderThan", ctx, mock.AnythingOfType("time.Time")).Return(nil, errors.New("bucket unavailable"))

	_, err := svc.RunOnce(ctx)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list expired objects")
	store.AssertNotCalled(t, "DeleteObject", mock.Anything, mock.Anything)
}

func TestRunOnce_PartialDeleteFailure(t *testing.T) {
	store := &MockArchiveStore{}
	svc := newTestService(store, Config{Retention: time.Hour})
	ctx := context.Background()

	store.On("ListOlderThan", ctx, mock.AnythingOfType("time.Time")).
		Return([]string{"a", "b", "c"}, nil)
	store.On("DeleteObject", ctx, "a").Return(nil)
	store.On("DeleteObject", ctx, "b").Return(errors.New("access denied"))
	store.On("DeleteObject", ctx, "c").Return(nil)

	res, err := svc.RunOnce(ctx)

	assert.NoError(t, err, "failed deletions are retried on the next sweep")
	assert.Equal(t, Result{Expired: 3, Deleted: 2, Failed: 1}, res)
	store.AssertExpectations(t)
}

func TestStartStop(t *testing.T) {
	store := &MockArchiveStore{}
	svc := newTestService(store, Config{Retention: time.Hour, Interval: 10 * time.Millisecond})

	swept := make(chan struct{}, 16)
	store.On("ListOlderThan", mock.Anything, mock.AnythingOfType("time.Time")).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return([]string{}, nil)

	svc.Start(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-swept:
		case <-time.After(2 * time.Second):
			t.Fatal("sweep did not run")
		}
	}

	svc.Stop()
	svc.Stop()
}

func TestStart_Disabled(t *testing.T) {
	store := &MockArchiveStore{}
	svc := newTestService(store, Config{})

	svc.Start(context.Background())
	svc.Stop()

	store.AssertNotCalled(t, "ListOlderThan", mock.Anything, mock.Anything)
}
