// Package config loads process configuration from the environment, with an
// optional YAML file for engine and control loop timings.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"github.com/junctionflow/junctionflow/internal/controller"
	"github.com/junctionflow/junctionflow/internal/database"
	"github.com/junctionflow/junctionflow/internal/signal"
	"github.com/junctionflow/junctionflow/internal/telemetry"
	"github.com/junctionflow/junctionflow/internal/trafficlog"
)

// ErrInvalidConfiguration is returned when configuration cannot be used.
// Processes treat it as fatal.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Log store drivers.
const (
	StoreMemory   = trafficlog.DriverMemory
	StoreSQLite   = trafficlog.DriverSQLite
	StorePostgres = trafficlog.DriverPostgres
)

// Vision sources.
const (
	VisionSimulated = "simulated"
	VisionDetector  = "detector"
)

// Config is the complete process configuration.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Port     int    `env:"APP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// File is an optional YAML file overriding Tuning.
	File string `env:"JUNCTION_CONFIG_FILE"`

	// RateLimit is the per-IP request budget per minute on the HTTP API.
	RateLimit int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"100"`

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool `env:"REQUIRE_TLS" envDefault:"false"`

	// PredictionCacheTTL is how long historical averages are reused.
	PredictionCacheTTL time.Duration `env:"PREDICTION_CACHE_TTL" envDefault:"1m"`

	Store     StoreConfig
	Vision    VisionConfig
	Auth      AuthConfig
	PubSub    PubSubConfig
	Report    ReportConfig
	Telemetry telemetry.Config
	Database  database.Config

	Tuning Tuning
}

// StoreConfig selects the log store.
type StoreConfig struct {
	Driver     string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"data/traffic.db"`
}

// VisionConfig selects where lane snapshots come from.
type VisionConfig struct {
	Source          string        `env:"VISION_SOURCE" envDefault:"simulated"`
	DetectorURL     string        `env:"DETECTOR_URL"`
	DetectorTimeout time.Duration `env:"DETECTOR_TIMEOUT" envDefault:"2s"`
	DetectorSmooth  bool          `env:"DETECTOR_SMOOTH_AMBULANCE" envDefault:"false"`
	Seed            uint64        `env:"VISION_SEED" envDefault:"1"`
}

// AuthConfig configures operator authentication.
type AuthConfig struct {
	SigningKey           string        `env:"JWT_SIGNING_KEY"`
	Issuer               string        `env:"JWT_ISSUER" envDefault:"junctionflow"`
	Audience             string        `env:"JWT_AUDIENCE" envDefault:"junction-api"`
	OperatorUsername     string        `env:"OPERATOR_USERNAME" envDefault:"operator"`
	OperatorPassword     string        `env:"OPERATOR_PASSWORD"`
	OperatorPasswordHash string        `env:"OPERATOR_PASSWORD_HASH"`
	TokenTTL             time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
}

// PubSubConfig configures the Pub/Sub subscriptions. Empty values disable them.
type PubSubConfig struct {
	ProjectID           string `env:"PUBSUB_PROJECT_ID"`
	CommandSubscription string `env:"PUBSUB_COMMAND_SUBSCRIPTION"`
	JobSubscription     string `env:"PUBSUB_JOB_SUBSCRIPTION"`
}

// CommandsEnabled reports whether operator commands are consumed.
func (c PubSubConfig) CommandsEnabled() bool {
	return c.ProjectID != "" && c.CommandSubscription != ""
}

// JobsEnabled reports whether worker jobs are consumed.
func (c PubSubConfig) JobsEnabled() bool {
	return c.ProjectID != "" && c.JobSubscription != ""
}

// ReportConfig configures the periodic CSV export.
type ReportConfig struct {
	Dir      string        `env:"REPORT_DIR" envDefault:"reports"`
	Interval time.Duration `env:"REPORT_INTERVAL" envDefault:"1h"`
	Timeout  time.Duration `env:"REPORT_TIMEOUT" envDefault:"30s"`
}

// Tuning holds the timings read from the YAML file.
type Tuning struct {
	Engine     signal.EngineConfig       `yaml:"engine"`
	Controller controller.Config         `yaml:"controller"`
	Recorder   controller.RecorderConfig `yaml:"recorder"`
}

// DefaultTuning returns the built-in timings.
func DefaultTuning() Tuning {
	return Tuning{
		Engine:     signal.DefaultEngineConfig(),
		Controller: controller.DefaultConfig(),
		Recorder:   controller.DefaultRecorderConfig(),
	}
}

// Load reads the environment and the optional YAML file, then validates the
// result.
func Load() (Config, error) {
	cfg := Config{Tuning: DefaultTuning()}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	if cfg.File != "" {
		tuning, err := LoadTuning(cfg.File)
		if err != nil {
			return Config{}, err
		}
		cfg.Tuning = tuning
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadTuning reads a YAML file over the default timings. Keys absent from the
// file keep their defaults; unknown keys are rejected.
func LoadTuning(path string) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("%w: reading %s: %w", ErrInvalidConfiguration, path, err)
	}

	tuning := DefaultTuning()
	if err := yaml.UnmarshalStrict(data, &tuning); err != nil {
		return Tuning{}, fmt.Errorf("%w: parsing %s: %w", ErrInvalidConfiguration, path, err)
	}
	return tuning, nil
}

// Validate checks the configuration for values no component can run with.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got %d", c.RateLimit))
	}

	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	switch c.Vision.Source {
	case VisionSimulated:
	case VisionDetector:
		if c.Vision.DetectorURL == "" {
			errs = append(errs, errors.New("detector url is required for the detector source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vision source %q", c.Vision.Source))
	}

	if c.IsProduction() {
		if c.Auth.SigningKey == "" {
			errs = append(errs, errors.New("jwt signing key is required in production"))
		}
		if c.Auth.OperatorPassword == "" && c.Auth.OperatorPasswordHash == "" {
			errs = append(errs, errors.New("operator password is required in production"))
		}
	}

	if err := c.Tuning.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

// StoreOptions returns the options for opening the log store.
func (c Config) StoreOptions() trafficlog.OpenConfig {
	return trafficlog.OpenConfig{
		Driver:     c.Store.Driver,
		SQLitePath: c.Store.SQLitePath,
		Database:   c.Database,
	}
}

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
