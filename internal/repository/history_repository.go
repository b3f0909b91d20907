package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/storage"
)

type HistoryRepository struct {
	store storage.Store
}

func NewHistoryRepository(store storage.Store) *HistoryRepository {
	return &HistoryRepository{store: store}
}

func (r *HistoryRepository) Load(ctx context.Context) ([]models.NoiseSample, error) {
	raw, err := r.store.Get(ctx, KeyHistory)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read noise history: %w", err)
	}

	var samples []models.NoiseSample
	if err := json.Unmarshal([]byte(raw), &samples); err != nil {
		return nil, fmt.Errorf("failed to decode noise history: %w", err)
	}
	return samples, nil
}

func (r *HistoryRepository) Save(ctx context.Context, samples []models.NoiseSample) error {
	if samples == nil {
		samples = []models.NoiseSample{}
	}

	raw, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("failed to encode noise history: %w", err)
	}

	if err := r.store.Set(ctx, KeyHistory, string(raw)); err != nil {
		return fmt.Errorf("failed to write noise history: %w", err)
	}
	return nil
}
