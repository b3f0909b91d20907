package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	MQTT     MQTTConfig
	Engine   EngineConfig
	Storage  StorageConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	Environment     string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxHeaderBytes  int
}

// MQTTConfig holds the default broker profile and session tuning.
type MQTTConfig struct {
	Protocol        string
	Broker          string
	Port            int
	Username        string
	Password        string
	Topic           string
	MountPath       string
	ClientIDPrefix  string
	QoS             byte
	KeepAlive       time.Duration
	ConnectTimeout  time.Duration
	ReconnectPeriod time.Duration
	InboundBuffer   int
}

type EngineConfig struct {
	AlertClearDelay      time.Duration
	HistoryMaxAge        time.Duration
	HistoryMaxPoints     int
	HistoryFlushInterval time.Duration
}

type StorageConfig struct {
	Driver   string
	FilePath string
	Redis    RedisConfig
	Database DatabaseConfig
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type SecurityConfig struct {
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	EnableRateLimit    bool
	RateLimitPerMinute int
}

type LoggingConfig struct {
	Level     logger.Level
	Mode      logger.Mode
	FilePath  string
	UseColors bool
}

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server:   loadServerConfig(),
		MQTT:     loadMQTTConfig(),
		Engine:   loadEngineConfig(),
		Storage:  loadStorageConfig(),
		Security: loadSecurityConfig(),
		Logging:  loadLoggingConfig(),
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		Port:            getEnvAsInt("SERVER_PORT", 8080),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", "15s"),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", "10s"),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", "10s"),
		MaxHeaderBytes:  getEnvAsInt("MAX_HEADER_BYTES", 1048576),
	}
}

func loadMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Protocol:        getEnv("MQTT_PROTOCOL", models.ProtocolWSS),
		Broker:          getEnv("MQTT_BROKER", "broker.hivemq.com"),
		Port:            getEnvAsInt("MQTT_PORT", 8884),
		Username:        getEnv("MQTT_USERNAME", ""),
		Password:        getEnv("MQTT_PASSWORD", ""),
		Topic:           getEnv("MQTT_TOPIC", "library/noise/#"),
		MountPath:       getEnv("MQTT_MOUNT_PATH", "/mqtt"),
		ClientIDPrefix:  getEnv("MQTT_CLIENT_ID_PREFIX", "noise-monitor"),
		QoS:             byte(getEnvAsInt("MQTT_QOS", 0)),
		KeepAlive:       getEnvAsDuration("MQTT_KEEP_ALIVE", "60s"),
		ConnectTimeout:  getEnvAsDuration("MQTT_CONNECT_TIMEOUT", "10s"),
		ReconnectPeriod: getEnvAsDuration("MQTT_RECONNECT_PERIOD", "1s"),
		InboundBuffer:   getEnvAsInt("MQTT_INBOUND_BUFFER", 256),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		AlertClearDelay:      getEnvAsDuration("ALERT_CLEAR_DELAY", "5s"),
		HistoryMaxAge:        getEnvAsDuration("HISTORY_MAX_AGE", "168h"),
		HistoryMaxPoints:     getEnvAsInt("HISTORY_MAX_POINTS", 10000),
		HistoryFlushInterval: getEnvAsDuration("HISTORY_FLUSH_INTERVAL", "5s"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Driver:   getEnv("STORAGE_DRIVER", StorageFile),
		FilePath: getEnv("STORAGE_FILE_PATH", "data/state.json"),
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "noise-monitor:"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "noise_monitor"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "noise_monitor"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", "5m"),
		},
	}
}

func loadSecurityConfig() SecurityConfig {
	origins := getEnv("CORS_ALLOWED_ORIGINS", "*")
	methods := getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")

	return SecurityConfig{
		CORSAllowedOrigins: strings.Split(origins, ","),
		CORSAllowedMethods: strings.Split(methods, ","),
		EnableRateLimit:    getEnvAsBool("ENABLE_RATE_LIMIT", false),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
	}
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:     logger.ParseLevel(getEnv("LOG_LEVEL", "info")),
		Mode:      logger.ParseMode(getEnv("LOG_MODE", "normal")),
		FilePath:  getEnv("LOG_FILE_PATH", ""),
		UseColors: getEnvAsBool("LOG_USE_COLORS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

// DefaultBrokerConfig is the profile used when no active profile has been
// persisted or the persisted one cannot be read.
func (c *Config) DefaultBrokerConfig() models.BrokerConfig {
	return models.BrokerConfig{
		Protocol: c.MQTT.Protocol,
		Broker:   c.MQTT.Broker,
		Port:     c.MQTT.Port,
		Username: c.MQTT.Username,
		Password: c.MQTT.Password,
	}
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Storage.Database.Host,
		c.Storage.Database.Port,
		c.Storage.Database.User,
		c.Storage.Database.Password,
		c.Storage.Database.Database,
		c.Storage.Database.SSLMode,
	)
}

func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}

	if err := c.DefaultBrokerConfig().Validate(); err != nil {
		errors = append(errors, "default MQTT profile: "+err.Error())
	}

	if c.MQTT.QoS > 2 {
		errors = append(errors, "MQTT_QOS must be 0, 1 or 2")
	}

	if c.Engine.AlertClearDelay <= 0 {
		errors = append(errors, "ALERT_CLEAR_DELAY must be positive")
	}

	if c.Engine.HistoryMaxAge <= 0 {
		errors = append(errors, "HISTORY_MAX_AGE must be positive")
	}

	if c.Engine.HistoryMaxPoints < 1 {
		errors = append(errors, "HISTORY_MAX_POINTS must be at least 1")
	}

	if c.Security.EnableRateLimit && c.Security.RateLimitPerMinute < 1 {
		errors = append(errors, "RATE_LIMIT_PER_MINUTE must be at least 1 when rate limiting is enabled")
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageFile:
		if c.Storage.FilePath == "" {
			errors = append(errors, "STORAGE_FILE_PATH cannot be empty for the file driver")
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			errors = append(errors, "REDIS_ADDR cannot be empty for the redis driver")
		}
	case StoragePostgres:
		if c.Storage.Database.Password == "" {
			errors = append(errors, "DB_PASSWORD cannot be empty for the postgres driver")
		}
		if c.Storage.Database.Port < 1 || c.Storage.Database.Port > 65535 {
			errors = append(errors, "DB_PORT must be between 1 and 65535")
		}
	default:
		errors = append(errors, fmt.Sprintf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func (c *Config) Print() {
	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║             Noise Monitor - Configuration                ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Printf("Environment:     %s\n", c.Server.Environment)
	fmt.Printf("Server:          %s:%d\n", c.Server.Host, c.Server.Port)
	fmt.Printf("Default Broker:  %s\n", c.DefaultBrokerConfig().URL(c.MQTT.MountPath))
	fmt.Printf("Topic:           %s\n", c.MQTT.Topic)
	fmt.Printf("Storage:         %s\n", c.Storage.Driver)
	fmt.Printf("History:         %d points / %s\n", c.Engine.HistoryMaxPoints, c.Engine.HistoryMaxAge)
	fmt.Println("──────────────────────────────────────────────────────────")
}
