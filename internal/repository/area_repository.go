package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/storage"
)

// AreaRepository persists the whole area list under a single key.
type AreaRepository struct {
	store storage.Store
}

func NewAreaRepository(store storage.Store) *AreaRepository {
	return &AreaRepository{store: store}
}

// Load returns the persisted areas; a missing key yields an empty list.
func (r *AreaRepository) Load(ctx context.Context) ([]models.Area, error) {
	raw, err := r.store.Get(ctx, KeyAreas)
	if errors.Is(err, storage.ErrNotFound) {
		return []models.Area{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read areas: %w", err)
	}

	var areas []models.Area
	if err := json.Unmarshal([]byte(raw), &areas); err != nil {
		return nil, fmt.Errorf("failed to decode areas: %w", err)
	}
	if areas == nil {
		areas = []models.Area{}
	}
	return areas, nil
}

func (r *AreaRepository) Save(ctx context.Context, areas []models.Area) error {
	if areas == nil {
		areas = []models.Area{}
	}

	raw, err := json.Marshal(areas)
	if err != nil {
		return fmt.Errorf("failed to encode areas: %w", err)
	}

	if err := r.store.Set(ctx, KeyAreas, string(raw)); err != nil {
		return fmt.Errorf("failed to write areas: %w", err)
	}
	return nil
}
