package repository

import (
	"context"
	"testing"
	"time"

	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(storage.NewMemoryStore())

	samples, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, samples)

	now := time.Now().UTC().Truncate(time.Millisecond)
	in := []models.NoiseSample{
		{DeviceID: "d1", NoiseLevel: 72, Timestamp: now},
		{DeviceID: "d2", NoiseLevel: 40.25, Timestamp: now.Add(time.Second)},
	}
	require.NoError(t, repo.Save(ctx, in))

	out, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "d2", out[1].DeviceID)
	assert.Equal(t, 40.25, out[1].NoiseLevel)
	assert.True(t, out[1].Timestamp.Equal(in[1].Timestamp))
}

func TestHistoryRepository_SaveNilWritesEmptyArray(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, NewHistoryRepository(store).Save(ctx, nil))

	raw, err := store.Get(ctx, KeyHistory)
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}
