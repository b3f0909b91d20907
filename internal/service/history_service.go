package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"NoiseMonitorAPI/internal/history"
	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/metrics"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/repository"
)

const (
	DefaultHistoryWindow = 24 * time.Hour
	shutdownFlushTimeout = 5 * time.Second
)

// HistoryService persists the in-memory history store and serves reads.
type HistoryService struct {
	store    *history.Store
	repo     *repository.HistoryRepository
	interval time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	lastFlushed uint64
}

func NewHistoryService(
	store *history.Store,
	repo *repository.HistoryRepository,
	flushInterval time.Duration,
	log *logger.Logger,
) *HistoryService {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &HistoryService{
		store:    store,
		repo:     repo,
		interval: flushInterval,
		log:      log,
	}
}

// Restore loads persisted samples. Unreadable history is discarded.
func (s *HistoryService) Restore(ctx context.Context) int {
	samples, err := s.repo.Load(ctx)
	if err != nil {
		s.log.Warn("Discarding persisted noise history: %v", err)
		samples = nil
	}

	s.store.Restore(samples)

	s.mu.Lock()
	s.lastFlushed = s.store.Version()
	s.mu.Unlock()

	n := s.store.Len()
	metrics.SetHistorySamples(n)
	s.log.Info("Restored %d noise samples (%d dropped by retention)", n, len(samples)-n)
	return n
}

// Flush writes the store if it changed since the last successful flush.
func (s *HistoryService) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.store.Version()
	if version == s.lastFlushed {
		return nil
	}

	if err := s.repo.Save(ctx, s.store.Snapshot()); err != nil {
		return err
	}
	s.lastFlushed = version
	return nil
}

// Run flushes periodically and once more when ctx is cancelled.
func (s *HistoryService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
			if err := s.Flush(flushCtx); err != nil {
				s.log.Error("Final history flush failed: %v", err)
			}
			cancel()
			return

		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.log.Error("History flush failed: %v", err)
			}
		}
	}
}

// Query returns matching samples; an empty deviceID selects all devices.
func (s *HistoryService) Query(deviceID string, since time.Time) []models.NoiseSample {
	samples := slices.Collect(s.store.Query(deviceID, since))
	if samples == nil {
		samples = []models.NoiseSample{}
	}
	return samples
}

// Latest returns the most recent retained sample per device.
func (s *HistoryService) Latest() map[string]models.NoiseSample {
	latest := make(map[string]models.NoiseSample)
	for sample := range s.store.Query("", time.Time{}) {
		if prev, ok := latest[sample.DeviceID]; !ok || !sample.Timestamp.Before(prev.Timestamp) {
			latest[sample.DeviceID] = sample
		}
	}
	return latest
}

// Retention reports the age and count limits of the underlying store.
func (s *HistoryService) Retention() (maxAge time.Duration, maxPoints int) {
	return s.store.MaxAge(), s.store.MaxPoints()
}

func (s *HistoryService) Len() int {
	return s.store.Len()
}
