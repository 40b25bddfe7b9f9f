package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `envconfig:"SERVER"`
	Database DatabaseConfig `envconfig:"DB"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	NewRelic NewRelicConfig `envconfig:"NEW_RELIC"`
	Log      LogConfig      `envconfig:"LOG"`
	Dispatch DispatchConfig `envconfig:"DISPATCH"`
	Routing  RoutingConfig  `envconfig:"ROUTING"`
	Kafka    KafkaConfig    `envconfig:"KAFKA"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"5432"`
	User     string `envconfig:"USER" default:"postgres"`
	Password string `envconfig:"PASSWORD" default:"postgres"`
	DBName   string `envconfig:"NAME" default:"farmdispatch"`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string `envconfig:"APP_NAME" default:"farmdispatch"`
	LicenseKey string `envconfig:"LICENSE_KEY"`
	Enabled    bool   `envconfig:"ENABLED" default:"false"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"` // json or text
}

// DispatchConfig holds the tunables of offer creation and route commitment.
type DispatchConfig struct {
	OfferWindow     time.Duration `envconfig:"OFFER_WINDOW" default:"10m"`
	MaxDetourM      float64       `envconfig:"MAX_DETOUR_M" default:"2000"`
	MaxRiders       int           `envconfig:"MAX_RIDERS" default:"10"`
	MaxDetourRatio  float64       `envconfig:"MAX_DETOUR_RATIO" default:"0.3"`
	SweeperEnabled  bool          `envconfig:"SWEEPER_ENABLED" default:"true"`
	SweeperInterval time.Duration `envconfig:"SWEEPER_INTERVAL" default:"30s"`
	NotifyQueueSize int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
}

// RoutingConfig selects and configures the routing provider.
type RoutingConfig struct {
	Provider     string        `envconfig:"PROVIDER" default:"osrm"` // google or osrm
	GoogleAPIKey string        `envconfig:"GOOGLE_API_KEY"`
	OSRMEndpoint string        `envconfig:"OSRM_ENDPOINT" default:"http://localhost:5000"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

// KafkaConfig holds the rider-matched task queue configuration.
// With no brokers the task is handled in-process.
type KafkaConfig struct {
	Brokers []string `envconfig:"BROKERS"`
	Topic   string   `envconfig:"TOPIC" default:"rider-matched"`
	GroupID string   `envconfig:"GROUP_ID" default:"farmdispatch-notifier"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Dispatch.OfferWindow <= 0:
		return errors.New("DISPATCH_OFFER_WINDOW must be positive")
	case c.Dispatch.MaxRiders <= 0:
		return errors.New("DISPATCH_MAX_RIDERS must be positive")
	case c.Dispatch.MaxDetourM <= 0:
		return errors.New("DISPATCH_MAX_DETOUR_M must be positive")
	case c.Dispatch.MaxDetourRatio < 0:
		return errors.New("DISPATCH_MAX_DETOUR_RATIO must not be negative")
	case c.Routing.Provider == "google" && c.Routing.GoogleAPIKey == "":
		return errors.New("ROUTING_GOOGLE_API_KEY is required for the google provider")
	}
	return nil
}
