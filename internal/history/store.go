// Package history keeps a bounded, in-memory time series of noise samples.
package history

import (
	"iter"
	"sort"
	"sync"
	"time"

	"NoiseMonitorAPI/internal/models"
)

const (
	DefaultMaxAge    = 7 * 24 * time.Hour
	DefaultMaxPoints = 10000

	// compactMinHead keeps small stores from reallocating on every eviction.
	compactMinHead = 256
)

// Store holds samples in arrival order. After every Append it holds no sample
// with now-timestamp >= maxAge and at most maxPoints samples; when the count
// bound is exceeded the oldest samples go first, across all devices.
type Store struct {
	mu        sync.Mutex
	samples   []models.NoiseSample
	head      int
	ordered   bool
	maxAge    time.Duration
	maxPoints int
	now       func() time.Time
	version   uint64
}

type Option func(*Store)

// WithClock replaces time.Now as the reference for age eviction.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(maxAge time.Duration, maxPoints int, opts ...Option) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if maxPoints < 1 {
		maxPoints = DefaultMaxPoints
	}

	s := &Store{
		ordered:   true,
		maxAge:    maxAge,
		maxPoints: maxPoints,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records one sample and enforces retention.
func (s *Store) Append(sample models.NoiseSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.samples); n > s.head && sample.Timestamp.Before(s.samples[n-1].Timestamp) {
		s.ordered = false
	}
	s.samples = append(s.samples, sample)
	s.version++

	s.enforce()
}

// Restore replaces the contents with samples, e.g. from persisted state.
func (s *Store) Restore(samples []models.NoiseSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = make([]models.NoiseSample, len(samples))
	copy(s.samples, samples)
	s.head = 0
	s.ordered = false
	s.version++

	s.enforce()
}

func (s *Store) enforce() {
	if s.ordered {
		s.evictFront()
	} else {
		s.filterAll()
	}
	s.compact()
}

// evictFront handles the common case where timestamps are non-decreasing,
// so expired and excess samples are all at the front.
func (s *Store) evictFront() {
	cutoff := s.now().Add(-s.maxAge)
	for s.head < len(s.samples) && !s.samples[s.head].Timestamp.After(cutoff) {
		s.head++
	}
	if excess := len(s.samples) - s.head - s.maxPoints; excess > 0 {
		s.head += excess
	}
}

// filterAll rebuilds the live window when arrival order and timestamp order
// disagree. Cost is bounded by maxPoints+1.
func (s *Store) filterAll() {
	cutoff := s.now().Add(-s.maxAge)

	live := make([]models.NoiseSample, 0, len(s.samples)-s.head)
	for _, sample := range s.samples[s.head:] {
		if sample.Timestamp.After(cutoff) {
			live = append(live, sample)
		}
	}

	if excess := len(live) - s.maxPoints; excess > 0 {
		idx := make([]int, len(live))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return live[idx[a]].Timestamp.Before(live[idx[b]].Timestamp)
		})

		drop := make(map[int]struct{}, excess)
		for _, i := range idx[:excess] {
			drop[i] = struct{}{}
		}

		kept := live[:0]
		for i, sample := range live {
			if _, ok := drop[i]; !ok {
				kept = append(kept, sample)
			}
		}
		live = kept
	}

	s.samples = live
	s.head = 0
	s.ordered = sorted(live)
}

func (s *Store) compact() {
	if s.head < compactMinHead || s.head < len(s.samples)/2 {
		return
	}
	live := make([]models.NoiseSample, len(s.samples)-s.head, s.maxPoints+1)
	copy(live, s.samples[s.head:])
	s.samples = live
	s.head = 0
}

func sorted(samples []models.NoiseSample) bool {
	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp.Before(samples[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// Query returns the samples with timestamp >= since, restricted to deviceID
// unless it is empty, in arrival order. The sequence iterates over a snapshot
// taken at call time and can be ranged over any number of times.
func (s *Store) Query(deviceID string, since time.Time) iter.Seq[models.NoiseSample] {
	s.mu.Lock()
	snapshot := make([]models.NoiseSample, len(s.samples)-s.head)
	copy(snapshot, s.samples[s.head:])
	cutoff := s.now().Add(-s.maxAge)
	s.mu.Unlock()

	return func(yield func(models.NoiseSample) bool) {
		for _, sample := range snapshot {
			if deviceID != "" && sample.DeviceID != deviceID {
				continue
			}
			if sample.Timestamp.Before(since) || !sample.Timestamp.After(cutoff) {
				continue
			}
			if !yield(sample) {
				return
			}
		}
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples) - s.head
}

// Snapshot returns a copy of every retained sample in arrival order.
func (s *Store) Snapshot() []models.NoiseSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.NoiseSample, len(s.samples)-s.head)
	copy(out, s.samples[s.head:])
	return out
}

// Version changes on every mutation; callers compare it to skip redundant flushes.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// MaxAge and MaxPoints are fixed at construction.
func (s *Store) MaxAge() time.Duration { return s.maxAge }

func (s *Store) MaxPoints() int { return s.maxPoints }
