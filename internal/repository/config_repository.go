package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/storage"
)

// ConfigRepository is the configuration store: the single active broker
// profile, the saved-profile set keyed by (broker, port, username), and the
// autoconnect flag. Absent or corrupt state falls back to defaults.
type ConfigRepository struct {
	store    storage.Store
	fallback models.BrokerConfig
	log      *logger.Logger

	// profilesMu serializes read-modify-write of the saved-profile set.
	profilesMu sync.Mutex
}

func NewConfigRepository(store storage.Store, fallback models.BrokerConfig, log *logger.Logger) *ConfigRepository {
	return &ConfigRepository{
		store:    store,
		fallback: fallback,
		log:      log,
	}
}

func (r *ConfigRepository) Default() models.BrokerConfig {
	return r.fallback
}

// Load returns the active profile, or the default profile when none is stored
// or the stored one is unreadable.
func (r *ConfigRepository) Load(ctx context.Context) models.BrokerConfig {
	raw, err := r.store.Get(ctx, KeyActiveConfig)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.log.Warn("Failed to read active broker profile, using default: %v", err)
		}
		return r.fallback
	}

	var cfg models.BrokerConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		r.log.Warn("Active broker profile is corrupt, using default: %v", err)
		return r.fallback
	}
	if err := cfg.Validate(); err != nil {
		r.log.Warn("Active broker profile is invalid (%v), using default", err)
		return r.fallback
	}
	return cfg
}

func (r *ConfigRepository) Save(ctx context.Context, cfg models.BrokerConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode broker profile: %w", err)
	}
	if err := r.store.Set(ctx, KeyActiveConfig, string(raw)); err != nil {
		return fmt.Errorf("failed to write broker profile: %w", err)
	}
	return nil
}

// LoadAll returns the saved profiles; unreadable state yields an empty list.
func (r *ConfigRepository) LoadAll(ctx context.Context) []models.BrokerConfig {
	raw, err := r.store.Get(ctx, KeySavedConfigs)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.log.Warn("Failed to read saved broker profiles: %v", err)
		}
		return []models.BrokerConfig{}
	}

	var profiles []models.BrokerConfig
	if err := json.Unmarshal([]byte(raw), &profiles); err != nil {
		r.log.Warn("Saved broker profiles are corrupt, ignoring them: %v", err)
		return []models.BrokerConfig{}
	}
	if profiles == nil {
		profiles = []models.BrokerConfig{}
	}
	return profiles
}

// SaveProfile inserts cfg, or replaces the profile with the same identity
// (including its password), and returns the resulting list.
func (r *ConfigRepository) SaveProfile(ctx context.Context, cfg models.BrokerConfig) ([]models.BrokerConfig, error) {
	r.profilesMu.Lock()
	defer r.profilesMu.Unlock()

	profiles := r.LoadAll(ctx)

	replaced := false
	for i := range profiles {
		if profiles[i].SameIdentity(cfg) {
			profiles[i] = cfg
			replaced = true
			break
		}
	}
	if !replaced {
		profiles = append(profiles, cfg)
	}

	if err := r.saveAll(ctx, profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// DeleteProfile removes every profile sharing cfg's identity.
func (r *ConfigRepository) DeleteProfile(ctx context.Context, cfg models.BrokerConfig) ([]models.BrokerConfig, error) {
	r.profilesMu.Lock()
	defer r.profilesMu.Unlock()

	profiles := r.LoadAll(ctx)

	kept := make([]models.BrokerConfig, 0, len(profiles))
	for _, p := range profiles {
		if !p.SameIdentity(cfg) {
			kept = append(kept, p)
		}
	}

	if err := r.saveAll(ctx, kept); err != nil {
		return nil, err
	}
	return kept, nil
}

func (r *ConfigRepository) saveAll(ctx context.Context, profiles []models.BrokerConfig) error {
	raw, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("failed to encode broker profiles: %w", err)
	}
	if err := r.store.Set(ctx, KeySavedConfigs, string(raw)); err != nil {
		return fmt.Errorf("failed to write broker profiles: %w", err)
	}
	return nil
}

// Autoconnect reports whether the presence-based autoconnect flag is set.
func (r *ConfigRepository) Autoconnect(ctx context.Context) bool {
	raw, err := r.store.Get(ctx, KeyAutoconnect)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.log.Warn("Failed to read autoconnect flag: %v", err)
		}
		return false
	}
	return raw == autoconnectValue
}

func (r *ConfigRepository) SetAutoconnect(ctx context.Context, enabled bool) error {
	if enabled {
		return r.store.Set(ctx, KeyAutoconnect, autoconnectValue)
	}
	return r.store.Remove(ctx, KeyAutoconnect)
}
