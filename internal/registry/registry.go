// Package registry owns the area list: the mapping from sensor devices to
// user-facing areas and the alert state of each area.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"NoiseMonitorAPI/internal/apperror"
	"NoiseMonitorAPI/internal/events"
	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"

	"github.com/google/uuid"
)

// AreaStore persists the full area list.
type AreaStore interface {
	Load(ctx context.Context) ([]models.Area, error)
	Save(ctx context.Context, areas []models.Area) error
}

// Registry serializes every read and mutation behind one mutex and writes the
// whole list through to the AreaStore after each change.
type Registry struct {
	mu     sync.Mutex
	areas  []models.Area
	store  AreaStore
	events events.Publisher
	log    *logger.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(r *Registry) {
		r.newID = newID
	}
}

func New(store AreaStore, publisher events.Publisher, log *logger.Logger, opts ...Option) *Registry {
	if publisher == nil {
		publisher = events.Discard{}
	}
	r := &Registry{
		areas:  []models.Area{},
		store:  store,
		events: publisher,
		log:    log,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory list with the persisted one. Alerts that were
// active at shutdown are cleared since their clear timers did not survive.
func (r *Registry) Load(ctx context.Context) error {
	areas, err := r.store.Load(ctx)
	if err != nil {
		return apperror.NewStorageError("failed to load areas", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(areas))
	loaded := make([]models.Area, 0, len(areas))
	for _, area := range areas {
		if area.DeviceID != "" && seen[area.DeviceID] {
			r.log.Warn("Dropping area %s: device %s already bound to another area", area.ID, area.DeviceID)
			continue
		}
		seen[area.DeviceID] = true

		if area.ID == "" {
			area.ID = r.newID()
		}
		if area.Alert {
			r.log.Info("Clearing stale alert on area %s (%s)", area.ID, area.Name)
		}
		area.ClearAlertState()
		loaded = append(loaded, area)
	}

	r.areas = loaded
	r.log.Info("Loaded %d areas", len(loaded))
	return nil
}

func (r *Registry) List() []models.Area {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.areas)
}

func (r *Registry) Get(id string) (models.Area, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(id)
	if i < 0 {
		return models.Area{}, notFound(id)
	}
	return r.areas[i].Clone(), nil
}

func (r *Registry) FindByDevice(deviceID string) (models.Area, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByDevice(deviceID)
	if i < 0 {
		return models.Area{}, false
	}
	return r.areas[i].Clone(), true
}

// Create adds a user-defined area. The device must not already be bound.
func (r *Registry) Create(ctx context.Context, req models.CreateAreaRequest) (models.Area, error) {
	name := strings.TrimSpace(req.Name)
	deviceID := strings.TrimSpace(req.DeviceID)
	if name == "" {
		return models.Area{}, apperror.NewValidationError("name is required", nil)
	}
	if deviceID == "" {
		return models.Area{}, apperror.NewValidationError("deviceId is required", nil)
	}

	icon := strings.TrimSpace(req.Icon)
	if icon == "" {
		icon = models.DefaultAreaIcon
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexByDevice(deviceID); i >= 0 {
		return models.Area{}, apperror.NewConflictError(
			fmt.Sprintf("device %s is already assigned to area %q", deviceID, r.areas[i].Name), nil)
	}

	area := models.Area{
		ID:          r.newID(),
		Name:        name,
		DeviceID:    deviceID,
		Icon:        icon,
		LastUpdated: r.now(),
		IsMuted:     req.IsMuted,
	}

	prev := r.snapshot()
	r.areas = append(r.areas, area)
	if err := r.commit(ctx, prev, true); err != nil {
		return models.Area{}, err
	}
	return area.Clone(), nil
}

// Edit applies the non-nil fields of req and stamps lastUpdated.
func (r *Registry) Edit(ctx context.Context, id string, req models.UpdateAreaRequest) (models.Area, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(id)
	if i < 0 {
		return models.Area{}, notFound(id)
	}
	area := r.areas[i].Clone()

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return models.Area{}, apperror.NewValidationError("name cannot be empty", nil)
		}
		area.Name = name
	}

	if req.DeviceID != nil {
		deviceID := strings.TrimSpace(*req.DeviceID)
		if deviceID == "" {
			return models.Area{}, apperror.NewValidationError("deviceId cannot be empty", nil)
		}
		if deviceID != area.DeviceID {
			if area.AutoRegistered {
				return models.Area{}, apperror.NewValidationError(
					"deviceId of an auto-registered area cannot be changed", nil)
			}
			if j := r.indexByDevice(deviceID); j >= 0 {
				return models.Area{}, apperror.NewConflictError(
					fmt.Sprintf("device %s is already assigned to area %q", deviceID, r.areas[j].Name), nil)
			}
			area.DeviceID = deviceID
		}
	}

	if req.Icon != nil {
		icon := strings.TrimSpace(*req.Icon)
		if icon == "" {
			icon = models.DefaultAreaIcon
		}
		area.Icon = icon
	}

	area.LastUpdated = r.now()

	prev := r.snapshot()
	r.areas[i] = area
	if err := r.commit(ctx, prev, true); err != nil {
		return models.Area{}, err
	}
	return area.Clone(), nil
}

func (r *Registry) ToggleMute(ctx context.Context, id string) (models.Area, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(id)
	if i < 0 {
		return models.Area{}, notFound(id)
	}

	prev := r.snapshot()
	r.areas[i].IsMuted = !r.areas[i].IsMuted
	r.areas[i].LastUpdated = r.now()
	if err := r.commit(ctx, prev, true); err != nil {
		return models.Area{}, err
	}
	return r.areas[i].Clone(), nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(id)
	if i < 0 {
		return notFound(id)
	}

	prev := r.snapshot()
	r.areas = append(r.areas[:i:i], r.areas[i+1:]...)
	return r.commit(ctx, prev, true)
}

// UpsertByDevice returns the area bound to deviceID, registering a new one
// when the device has never been seen. created reports the latter.
func (r *Registry) UpsertByDevice(ctx context.Context, deviceID string) (area models.Area, created bool, err error) {
	if deviceID == "" {
		return models.Area{}, false, apperror.NewValidationError("deviceId is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexByDevice(deviceID); i >= 0 {
		return r.areas[i].Clone(), false, nil
	}

	area = models.Area{
		ID:             r.newID(),
		Name:           fmt.Sprintf(models.AutoRegisteredNameFmt, len(r.areas)+1),
		DeviceID:       deviceID,
		Icon:           models.AutoRegisteredIcon,
		LastUpdated:    r.now(),
		AutoRegistered: true,
	}
	r.areas = append(r.areas, area)

	err = r.commit(ctx, nil, false)
	return area.Clone(), true, err
}

// SetAlert records an alert snapshot. Repeated calls overwrite it.
func (r *Registry) SetAlert(ctx context.Context, id string, noiseLevel *float64, reason string) (models.Area, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(id)
	if i < 0 {
		return models.Area{}, notFound(id)
	}

	now := r.now()
	area := &r.areas[i]
	area.Alert = true
	area.AlertedAt = &now
	area.LastUpdated = now
	area.AlertReason = &reason
	area.NoiseLevel = nil
	if noiseLevel != nil {
		level := *noiseLevel
		area.NoiseLevel = &level
	}

	err := r.commit(ctx, nil, false)
	return area.Clone(), err
}

// ClearAlert ends the alert window. changed is false when it was already clear.
func (r *Registry) ClearAlert(ctx context.Context, id string) (area models.Area, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(id)
	if i < 0 {
		return models.Area{}, false, notFound(id)
	}
	return r.clearLocked(ctx, i)
}

// ClearAlertIfUnchanged clears the alert only if it is still the snapshot
// taken at alertedAt. A missing area or a newer snapshot makes it a no-op.
func (r *Registry) ClearAlertIfUnchanged(ctx context.Context, id string, alertedAt time.Time) (area models.Area, cleared bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexByID(id)
	if i < 0 {
		return models.Area{}, false, nil
	}

	current := r.areas[i]
	if !current.Alert || current.AlertedAt == nil || !current.AlertedAt.Equal(alertedAt) {
		return current.Clone(), false, nil
	}
	return r.clearLocked(ctx, i)
}

func (r *Registry) clearLocked(ctx context.Context, i int) (models.Area, bool, error) {
	if !r.areas[i].Alert {
		return r.areas[i].Clone(), false, nil
	}

	r.areas[i].ClearAlertState()
	r.areas[i].LastUpdated = r.now()
	err := r.commit(ctx, nil, false)
	return r.areas[i].Clone(), true, err
}

// commit persists the current list and announces it. When rollback is set a
// failed write restores prev and nothing is announced.
func (r *Registry) commit(ctx context.Context, prev []models.Area, rollback bool) error {
	if err := r.store.Save(ctx, r.areas); err != nil {
		if rollback {
			r.areas = prev
			return apperror.NewStorageError("failed to persist areas", err)
		}
		r.log.Error("Failed to persist areas: %v", err)
		r.publish()
		return apperror.NewStorageError("failed to persist areas", err)
	}
	r.publish()
	return nil
}

func (r *Registry) publish() {
	ev := models.NewEvent(models.EventAreasChanged, "")
	ev.Areas = r.snapshot()
	r.events.Publish(ev)
}

func (r *Registry) snapshot() []models.Area {
	out := make([]models.Area, len(r.areas))
	for i, a := range r.areas {
		out[i] = a.Clone()
	}
	return out
}

func (r *Registry) indexByID(id string) int {
	for i := range r.areas {
		if r.areas[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) indexByDevice(deviceID string) int {
	for i := range r.areas {
		if r.areas[i].DeviceID == deviceID {
			return i
		}
	}
	return -1
}

func notFound(id string) error {
	return apperror.NewNotFoundError(fmt.Sprintf("area %s not found", id), nil)
}
