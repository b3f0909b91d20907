package service

import (
	"context"
	"strings"

	"NoiseMonitorAPI/internal/apperror"
	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/repository"
)

// BrokerSession is the part of the connection manager the setup flow drives.
type BrokerSession interface {
	Connect(broker models.BrokerConfig) error
	Disconnect() error
	Publish(topic string, payload []byte) error
	Status() models.ConnectionState
}

// ConnectionService ties the configuration store to the connection manager.
type ConnectionService struct {
	session BrokerSession
	configs *repository.ConfigRepository
	log     *logger.Logger
}

func NewConnectionService(session BrokerSession, configs *repository.ConfigRepository, log *logger.Logger) *ConnectionService {
	return &ConnectionService{
		session: session,
		configs: configs,
		log:     log,
	}
}

// Start connects with the active profile when the previous run left the
// autoconnect flag set.
func (s *ConnectionService) Start(ctx context.Context) {
	if !s.configs.Autoconnect(ctx) {
		s.log.Info("Autoconnect disabled, waiting for an explicit connect")
		return
	}

	cfg := s.configs.Load(ctx)
	s.log.Info("Autoconnect enabled, connecting to %s:%d", cfg.Broker, cfg.Port)
	if err := s.session.Connect(cfg); err != nil {
		s.log.Error("Autoconnect failed: %v", err)
	}
}

func (s *ConnectionService) Connect(ctx context.Context) (models.ConnectionState, error) {
	err := s.session.Connect(s.configs.Load(ctx))
	return s.session.Status(), err
}

func (s *ConnectionService) Disconnect(ctx context.Context) (models.ConnectionState, error) {
	err := s.session.Disconnect()
	return s.session.Status(), err
}

func (s *ConnectionService) Publish(ctx context.Context, topic string, payload []byte) error {
	return s.session.Publish(strings.TrimSpace(topic), payload)
}

func (s *ConnectionService) Status() models.ConnectionState {
	return s.session.Status()
}

func (s *ConnectionService) ActiveConfig(ctx context.Context) models.BrokerConfig {
	return s.configs.Load(ctx).Redacted()
}

// SetActiveConfig stores cfg as the active profile. An omitted password is
// taken from the active or a saved profile with the same identity. It applies
// on the next connect.
func (s *ConnectionService) SetActiveConfig(ctx context.Context, cfg models.BrokerConfig) (models.BrokerConfig, error) {
	cfg = normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return models.BrokerConfig{}, apperror.NewValidationError("invalid broker profile", err)
	}

	if cfg.Password == "" {
		cfg.Password = s.storedPassword(ctx, cfg)
	}

	if err := s.configs.Save(ctx, cfg); err != nil {
		return models.BrokerConfig{}, apperror.NewStorageError("failed to save active profile", err)
	}
	s.log.Info("Active broker profile set to %s", cfg.Redacted().URL(""))
	return cfg.Redacted(), nil
}

// storedPassword looks up the password of cfg's identity, preferring the
// active profile over the saved set.
func (s *ConnectionService) storedPassword(ctx context.Context, cfg models.BrokerConfig) string {
	if current := s.configs.Load(ctx); current.SameIdentity(cfg) && current.Password != "" {
		return current.Password
	}
	for _, p := range s.configs.LoadAll(ctx) {
		if p.SameIdentity(cfg) {
			return p.Password
		}
	}
	return ""
}

func (s *ConnectionService) Profiles(ctx context.Context) []models.BrokerConfig {
	return redactAll(s.configs.LoadAll(ctx))
}

func (s *ConnectionService) SaveProfile(ctx context.Context, cfg models.BrokerConfig) ([]models.BrokerConfig, error) {
	cfg = normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, apperror.NewValidationError("invalid broker profile", err)
	}

	profiles, err := s.configs.SaveProfile(ctx, cfg)
	if err != nil {
		return nil, apperror.NewStorageError("failed to save profile", err)
	}
	return redactAll(profiles), nil
}

func (s *ConnectionService) DeleteProfile(ctx context.Context, cfg models.BrokerConfig) ([]models.BrokerConfig, error) {
	cfg = normalize(cfg)
	if cfg.Broker == "" || cfg.Port < 1 || cfg.Port > 65535 {
		return nil, apperror.NewValidationError("broker and port identify the profile to delete", nil)
	}

	profiles, err := s.configs.DeleteProfile(ctx, cfg)
	if err != nil {
		return nil, apperror.NewStorageError("failed to delete profile", err)
	}
	return redactAll(profiles), nil
}

func normalize(cfg models.BrokerConfig) models.BrokerConfig {
	cfg.Protocol = strings.ToLower(strings.TrimSpace(cfg.Protocol))
	cfg.Broker = strings.TrimSpace(cfg.Broker)
	cfg.Username = strings.TrimSpace(cfg.Username)
	return cfg
}

func redactAll(profiles []models.BrokerConfig) []models.BrokerConfig {
	out := make([]models.BrokerConfig, len(profiles))
	for i, p := range profiles {
		out[i] = p.Redacted()
	}
	return out
}
