package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"NoiseMonitorAPI/internal/history"
	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/repository"
	"NoiseMonitorAPI/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts writes and can be told to fail them.
type countingStore struct {
	*storage.MemoryStore
	sets    int
	failSet error
}

func (c *countingStore) Set(ctx context.Context, key, value string) error {
	if c.failSet != nil {
		return c.failSet
	}
	c.sets++
	return c.MemoryStore.Set(ctx, key, value)
}

func newHistoryService(t *testing.T) (*HistoryService, *history.Store, *countingStore) {
	t.Helper()
	backing := &countingStore{MemoryStore: storage.NewMemoryStore()}
	store := history.NewStore(time.Hour, 100)
	svc := NewHistoryService(store, repository.NewHistoryRepository(backing), 10*time.Millisecond, logger.Nop())
	return svc, store, backing
}

func TestHistoryService_FlushOnlyWhenChanged(t *testing.T) {
	ctx := context.Background()
	svc, store, backing := newHistoryService(t)

	require.NoError(t, svc.Flush(ctx))
	assert.Zero(t, backing.sets)

	store.Append(models.NoiseSample{DeviceID: "d1", NoiseLevel: 55, Timestamp: time.Now()})
	require.NoError(t, svc.Flush(ctx))
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, 1, backing.sets)
}

func TestHistoryService_FailedFlushIsRetried(t *testing.T) {
	ctx := context.Background()
	svc, store, backing := newHistoryService(t)

	store.Append(models.NoiseSample{DeviceID: "d1", NoiseLevel: 55, Timestamp: time.Now()})

	backing.failSet = errors.New("read-only")
	assert.Error(t, svc.Flush(ctx))

	backing.failSet = nil
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, 1, backing.sets)
}

func TestHistoryService_RestoreAppliesRetention(t *testing.T) {
	ctx := context.Background()
	svc, store, backing := newHistoryService(t)

	now := time.Now()
	require.NoError(t, repository.NewHistoryRepository(backing).Save(ctx, []models.NoiseSample{
		{DeviceID: "d1", NoiseLevel: 1, Timestamp: now.Add(-2 * time.Hour)},
		{DeviceID: "d1", NoiseLevel: 2, Timestamp: now.Add(-time.Minute)},
	}))

	assert.Equal(t, 1, svc.Restore(ctx))
	assert.Equal(t, 1, store.Len())

	// A restore is not a change that needs writing back.
	sets := backing.sets
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, sets, backing.sets)
}

func TestHistoryService_RestoreToleratesCorruption(t *testing.T) {
	ctx := context.Background()
	svc, store, backing := newHistoryService(t)

	require.NoError(t, backing.MemoryStore.Set(ctx, repository.KeyHistory, "{{{"))
	assert.Zero(t, svc.Restore(ctx))
	assert.Zero(t, store.Len())
}

func TestHistoryService_RunFlushesOnShutdown(t *testing.T) {
	svc, store, backing := newHistoryService(t)
	svc.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	store.Append(models.NoiseSample{DeviceID: "d1", NoiseLevel: 60, Timestamp: time.Now()})
	cancel()
	<-done

	saved, err := repository.NewHistoryRepository(backing).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestHistoryService_QueryAndLatest(t *testing.T) {
	svc, store, _ := newHistoryService(t)
	now := time.Now()

	store.Append(models.NoiseSample{DeviceID: "d1", NoiseLevel: 40, Timestamp: now.Add(-3 * time.Minute)})
	store.Append(models.NoiseSample{DeviceID: "d2", NoiseLevel: 50, Timestamp: now.Add(-2 * time.Minute)})
	store.Append(models.NoiseSample{DeviceID: "d1", NoiseLevel: 70, Timestamp: now.Add(-time.Minute)})

	assert.Len(t, svc.Query("", time.Time{}), 3)
	assert.Len(t, svc.Query("d1", now.Add(-90*time.Second)), 1)
	assert.NotNil(t, svc.Query("nobody", time.Time{}))

	latest := svc.Latest()
	assert.Equal(t, 70.0, latest["d1"].NoiseLevel)
	assert.Equal(t, 50.0, latest["d2"].NoiseLevel)
}
