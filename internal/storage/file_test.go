package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"NoiseMonitorAPI/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "state.json")

	s, err := NewFileStore(path, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "mqtt-autoconnect", "true"))
	require.NoError(t, s.Set(ctx, "areas", `[{"id":"1"}]`))
	require.NoError(t, s.Remove(ctx, "mqtt-autoconnect"))

	reopened, err := NewFileStore(path, logger.Nop())
	require.NoError(t, err)

	v, err := reopened.Get(ctx, "areas")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, v)

	_, err = reopened.Get(ctx, "mqtt-autoconnect")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, reopened.Ping(ctx))
}

func TestFileStore_CorruptFileStartsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s, err := NewFileStore(path, logger.Nop())
	require.NoError(t, err)

	_, err = s.Get(ctx, "areas")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "areas", "[]"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"areas":"[]"}`, string(raw))
}
