package service

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"NoiseMonitorAPI/internal/history"
	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/registry"
	"NoiseMonitorAPI/internal/repository"
	"NoiseMonitorAPI/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func (l *eventLog) Publish(ev models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t models.EventType) []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type engine struct {
	svc      *IngestionService
	registry *registry.Registry
	history  *history.Store
	events   *eventLog
	inbound  chan models.InboundMessage
}

func newEngine(t *testing.T, clearDelay time.Duration) *engine {
	t.Helper()

	log := logger.Nop()
	events := &eventLog{}
	reg := registry.New(repository.NewAreaRepository(storage.NewMemoryStore()), events, log)
	store := history.NewStore(history.DefaultMaxAge, history.DefaultMaxPoints)

	return &engine{
		svc:      NewIngestionService(store, reg, events, clearDelay, log),
		registry: reg,
		history:  store,
		events:   events,
		inbound:  make(chan models.InboundMessage, 16),
	}
}

// start runs the engine loop until the test ends.
func (e *engine) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.svc.Run(ctx, e.inbound)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (e *engine) send(payload string) {
	e.inbound <- models.InboundMessage{Topic: "library/noise/x", Payload: []byte(payload), ReceivedAt: time.Now()}
}

func (e *engine) alerting(deviceID string) bool {
	area, ok := e.registry.FindByDevice(deviceID)
	return ok && area.Alert
}

func (e *engine) area(t *testing.T, deviceID string) models.Area {
	t.Helper()
	area, ok := e.registry.FindByDevice(deviceID)
	require.True(t, ok, "no area for %s", deviceID)
	return area
}

func TestIngest_UnseenDeviceAlertThenAutoClear(t *testing.T) {
	e := newEngine(t, 100*time.Millisecond)
	e.start(t)

	e.send(`{"client_id":"d9","noise_level":85,"alert_reason":"loud talking"}`)

	require.Eventually(t, func() bool { return e.alerting("d9") }, time.Second, 5*time.Millisecond)

	area := e.area(t, "d9")
	assert.Equal(t, "Area 1", area.Name)
	assert.Equal(t, models.AutoRegisteredIcon, area.Icon)
	require.NotNil(t, area.NoiseLevel)
	assert.Equal(t, 85.0, *area.NoiseLevel)
	require.NotNil(t, area.AlertReason)
	assert.Equal(t, "loud talking", *area.AlertReason)

	assert.Len(t, e.events.ofType(models.EventAreaCreated), 1)
	assert.Len(t, e.events.ofType(models.EventLiveAlert), 1)
	assert.Equal(t, 1, e.history.Len())

	require.Eventually(t, func() bool { return !e.alerting("d9") }, time.Second, 5*time.Millisecond)

	area = e.area(t, "d9")
	assert.Nil(t, area.NoiseLevel)
	assert.Nil(t, area.AlertReason)
	assert.Zero(t, e.svc.PendingClears())
	assert.Len(t, e.events.ofType(models.EventAlertCleared), 1)
}

func TestIngest_NewAlertReschedulesClear(t *testing.T) {
	const delay = 150 * time.Millisecond
	e := newEngine(t, delay)
	e.start(t)

	e.send(`{"client_id":"d1","noise_level":80,"alert_reason":"A"}`)
	require.Eventually(t, func() bool { return e.alerting("d1") }, time.Second, 5*time.Millisecond)

	time.Sleep(delay * 2 / 3)
	e.send(`{"client_id":"d1","noise_level":90,"alert_reason":"B"}`)
	require.Eventually(t, func() bool {
		a, _ := e.registry.FindByDevice("d1")
		return a.AlertReason != nil && *a.AlertReason == "B"
	}, time.Second, 5*time.Millisecond)
	bAt := time.Now()

	// A's deadline passes; B's snapshot must survive it.
	time.Sleep(delay/3 + 20*time.Millisecond)
	if time.Since(bAt) < delay-20*time.Millisecond {
		assert.True(t, e.area(t, "d1").Alert)
	}
	assert.LessOrEqual(t, e.svc.PendingClears(), 1)

	require.Eventually(t, func() bool { return !e.alerting("d1") }, time.Second, 5*time.Millisecond)
	assert.Len(t, e.events.ofType(models.EventAlertCleared), 1)
}

func TestIngest_SupersededClearDoesNotClearNewerAlert(t *testing.T) {
	e := newEngine(t, time.Hour)
	ctx := context.Background()

	e.svc.HandleMessage(ctx, models.InboundMessage{Payload: []byte(`{"client_id":"d1","noise_level":80,"alert_reason":"A"}`)})
	area := e.area(t, "d1")
	first := clearRequest{areaID: area.ID, seq: e.svc.timers[area.ID].seq}

	e.svc.HandleMessage(ctx, models.InboundMessage{Payload: []byte(`{"client_id":"d1","noise_level":90,"alert_reason":"B"}`)})
	second := clearRequest{areaID: area.ID, seq: e.svc.timers[area.ID].seq}
	require.NotEqual(t, first.seq, second.seq)
	assert.Equal(t, 1, e.svc.PendingClears())

	// A's timer fires even though it was superseded.
	e.svc.handleClear(ctx, first)
	got := e.area(t, "d1")
	assert.True(t, got.Alert)
	assert.Equal(t, "B", *got.AlertReason)
	assert.Equal(t, 90.0, *got.NoiseLevel)

	e.svc.handleClear(ctx, second)
	got = e.area(t, "d1")
	assert.False(t, got.Alert)
	assert.Nil(t, got.AlertReason)
	assert.Zero(t, e.svc.PendingClears())
}

func TestIngest_MutedAreaSuppressesNotificationOnly(t *testing.T) {
	e := newEngine(t, time.Minute)
	ctx := context.Background()

	area, err := e.registry.Create(ctx, models.CreateAreaRequest{Name: "Silent Study", DeviceID: "d1", IsMuted: true})
	require.NoError(t, err)

	e.svc.HandleMessage(ctx, models.InboundMessage{
		Payload: []byte(`{"client_id":"d1","noise_level":75,"alert_reason":"whispering"}`),
	})

	got, err := e.registry.Get(area.ID)
	require.NoError(t, err)
	assert.True(t, got.Alert)
	assert.Equal(t, "whispering", *got.AlertReason)
	assert.Empty(t, e.events.ofType(models.EventLiveAlert))
	assert.Empty(t, e.events.ofType(models.EventAreaCreated))
	assert.Equal(t, 1, e.svc.PendingClears())
}

func TestIngest_SampleWithoutAlertOnlyRecordsHistory(t *testing.T) {
	e := newEngine(t, time.Minute)
	ctx := context.Background()

	received := time.Now().Add(-time.Minute)
	e.svc.HandleMessage(ctx, models.InboundMessage{
		Payload:    []byte(`{"client_id":"d1","noise_level":72,"timestamp":"1999-01-01T00:00:00Z"}`),
		ReceivedAt: received,
	})

	samples := slices.Collect(e.history.Query("d1", time.Time{}))
	require.Len(t, samples, 1)
	assert.Equal(t, 72.0, samples[0].NoiseLevel)
	assert.True(t, samples[0].Timestamp.Equal(received))

	assert.Zero(t, e.registry.Count())
	assert.Zero(t, e.svc.PendingClears())
}

func TestIngest_MalformedMessagesAreDropped(t *testing.T) {
	e := newEngine(t, time.Minute)
	ctx := context.Background()

	for _, payload := range []string{`not json`, `[1]`, `{"client_id":"d1","noise_level":"loud"}`} {
		assert.NotPanics(t, func() {
			e.svc.HandleMessage(ctx, models.InboundMessage{Payload: []byte(payload)})
		})
	}

	assert.Zero(t, e.history.Len())
	assert.Zero(t, e.registry.Count())

	// Processing continues normally afterwards.
	e.svc.HandleMessage(ctx, models.InboundMessage{Payload: []byte(`{"client_id":"d1","noise_level":50}`)})
	assert.Equal(t, 1, e.history.Len())
}

func TestIngest_RepeatedAlertsKeepOneAreaAndOneTimer(t *testing.T) {
	e := newEngine(t, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e.svc.HandleMessage(ctx, models.InboundMessage{
			Payload: []byte(`{"client_id":"d7","noise_level":90,"alert_reason":"party"}`),
		})
	}

	assert.Equal(t, 1, e.registry.Count())
	assert.Equal(t, 1, e.svc.PendingClears())
	assert.Len(t, e.events.ofType(models.EventAreaCreated), 1)
	assert.Len(t, e.events.ofType(models.EventLiveAlert), 5)
	assert.Equal(t, 5, e.history.Len())
}

func TestIngest_ClearForDeletedAreaIsNoop(t *testing.T) {
	e := newEngine(t, 50*time.Millisecond)
	e.start(t)

	e.send(`{"client_id":"d1","alert_reason":"noise"}`)
	require.Eventually(t, func() bool {
		_, ok := e.registry.FindByDevice("d1")
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.registry.Delete(context.Background(), e.area(t, "d1").ID))

	require.Eventually(t, func() bool {
		return e.svc.PendingClears() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, e.events.ofType(models.EventAlertCleared))
	assert.Zero(t, e.registry.Count())
}

func TestRun_StopsOnCancel(t *testing.T) {
	e := newEngine(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- e.svc.Run(ctx, e.inbound) }()

	e.send(`{"client_id":"d1","alert_reason":"noise"}`)
	require.Eventually(t, func() bool { return e.svc.PendingClears() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Zero(t, e.svc.PendingClears())
}
