package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"NoiseMonitorAPI/internal/apperror"
	"NoiseMonitorAPI/internal/events"
	"NoiseMonitorAPI/internal/history"
	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/metrics"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/registry"
)

const DefaultAlertClearDelay = 5 * time.Second

// IngestionService turns inbound broker messages into history samples and
// area alert state. Messages and fired clear timers are handled one at a time
// by Run, in arrival order.
type IngestionService struct {
	history    *history.Store
	registry   *registry.Registry
	events     events.Publisher
	log        *logger.Logger
	clearDelay time.Duration

	mu     sync.Mutex
	timers map[string]*clearTimer
	seq    uint64

	fired    chan clearRequest
	stopped  chan struct{}
	stopOnce sync.Once
}

// clearTimer is the single pending auto-clear of one area.
type clearTimer struct {
	timer     *time.Timer
	seq       uint64
	alertedAt time.Time
}

type clearRequest struct {
	areaID string
	seq    uint64
}

func NewIngestionService(
	store *history.Store,
	reg *registry.Registry,
	publisher events.Publisher,
	clearDelay time.Duration,
	log *logger.Logger,
) *IngestionService {
	if publisher == nil {
		publisher = events.Discard{}
	}
	if clearDelay <= 0 {
		clearDelay = DefaultAlertClearDelay
	}
	return &IngestionService{
		history:    store,
		registry:   reg,
		events:     publisher,
		log:        log,
		clearDelay: clearDelay,
		timers:     make(map[string]*clearTimer),
		fired:      make(chan clearRequest, 64),
		stopped:    make(chan struct{}),
	}
}

// Run consumes inbound until ctx is cancelled. It must be called at most once.
func (s *IngestionService) Run(ctx context.Context, inbound <-chan models.InboundMessage) error {
	defer s.stop()

	s.log.Info("Ingestion engine started (clear delay %v)", s.clearDelay)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Ingestion engine stopped")
			return ctx.Err()

		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			s.HandleMessage(ctx, msg)

		case req := <-s.fired:
			s.handleClear(ctx, req)
		}
	}
}

func (s *IngestionService) stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)

		s.mu.Lock()
		defer s.mu.Unlock()
		for id, t := range s.timers {
			t.timer.Stop()
			delete(s.timers, id)
		}
	})
}

// HandleMessage processes one message. Decode failures are logged and
// counted, never returned.
func (s *IngestionService) HandleMessage(ctx context.Context, msg models.InboundMessage) {
	metrics.IncMessageReceived()

	telemetry, err := DecodeTelemetry(msg.Payload)
	if err != nil {
		s.log.Warn("Dropping message on %s: %v", msg.Topic, err)
		metrics.IncDecodeError(decodeReason(err))
		return
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	handled := false

	if telemetry.HasSample() {
		s.history.Append(models.NoiseSample{
			DeviceID:   telemetry.DeviceID,
			NoiseLevel: *telemetry.NoiseLevel,
			Timestamp:  receivedAt,
		})
		metrics.IncSampleRecorded(s.history.Len())
		handled = true
	}

	if telemetry.HasAlert() {
		s.reconcileAlert(ctx, telemetry)
		handled = true
	}

	if !handled {
		s.log.Debug("Message on %s carried no sample or alert", msg.Topic)
	}
}

func (s *IngestionService) reconcileAlert(ctx context.Context, telemetry models.Telemetry) {
	area, created, err := s.registry.UpsertByDevice(ctx, telemetry.DeviceID)
	if err != nil {
		if area.ID == "" {
			s.log.Error("Failed to resolve area for device %s: %v", telemetry.DeviceID, err)
			return
		}
		s.log.Warn("Area for device %s not persisted: %v", telemetry.DeviceID, err)
	}

	kind := metrics.AlertKindExisting
	if created {
		kind = metrics.AlertKindNewArea
		s.log.Info("New area detected: %s (device %s)", area.Name, area.DeviceID)
		s.events.Publish(models.NewEvent(models.EventAreaCreated,
			fmt.Sprintf("new area detected for device %s", area.DeviceID)).WithArea(area))
	}
	metrics.IncAlert(kind)

	alerted, err := s.registry.SetAlert(ctx, area.ID, telemetry.NoiseLevel, telemetry.AlertReason)
	if err != nil {
		if apperror.Is(err, apperror.NotFoundError) {
			s.log.Warn("Area %s vanished before alert could be set", area.ID)
			return
		}
		s.log.Warn("Alert on area %s not persisted: %v", area.ID, err)
	}

	if alerted.AlertedAt != nil {
		s.scheduleClear(alerted.ID, *alerted.AlertedAt)
	}

	if alerted.IsMuted {
		s.log.Debug("Alert on muted area %s suppressed: %s", alerted.Name, telemetry.AlertReason)
		return
	}

	s.log.Info("Live alert in %s: %s", alerted.Name, telemetry.AlertReason)
	s.events.Publish(models.NewEvent(models.EventLiveAlert,
		fmt.Sprintf("%s: %s", alerted.Name, telemetry.AlertReason)).WithArea(alerted))
}

// scheduleClear replaces any pending clear for areaID.
func (s *IngestionService) scheduleClear(areaID string, alertedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[areaID]; ok {
		existing.timer.Stop()
	}

	s.seq++
	req := clearRequest{areaID: areaID, seq: s.seq}
	s.timers[areaID] = &clearTimer{
		seq:       req.seq,
		alertedAt: alertedAt,
		timer: time.AfterFunc(s.clearDelay, func() {
			select {
			case s.fired <- req:
			case <-s.stopped:
			}
		}),
	}
}

func (s *IngestionService) handleClear(ctx context.Context, req clearRequest) {
	s.mu.Lock()
	pending, ok := s.timers[req.areaID]
	if !ok || pending.seq != req.seq {
		s.mu.Unlock()
		metrics.IncAlertClear(metrics.ClearResultStale)
		return
	}
	delete(s.timers, req.areaID)
	s.mu.Unlock()

	area, cleared, err := s.registry.ClearAlertIfUnchanged(ctx, req.areaID, pending.alertedAt)
	if err != nil {
		s.log.Warn("Cleared alert on area %s not persisted: %v", req.areaID, err)
	}
	if !cleared {
		metrics.IncAlertClear(metrics.ClearResultStale)
		return
	}

	metrics.IncAlertClear(metrics.ClearResultCleared)
	s.log.Debug("Alert cleared in %s", area.Name)
	s.events.Publish(models.NewEvent(models.EventAlertCleared, area.Name).WithArea(area))
}

// PendingClears reports how many areas have an armed clear timer.
func (s *IngestionService) PendingClears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
