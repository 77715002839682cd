// Package config provides the configuration structure for the voice-clone-service.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Configuration validation errors.
var (
	ErrStorageRootEmpty    = errors.New("storage root cannot be empty")
	ErrUnknownBackend      = errors.New("unknown storage backend")
	ErrUnknownRuntime      = errors.New("unknown engine runtime")
	ErrRuntimeURLEmpty     = errors.New("engine runtime URL cannot be empty")
	ErrRuntimeBinaryEmpty  = errors.New("engine runtime binary cannot be empty")
	ErrQueueDepthNotPos    = errors.New("max queue depth must be positive")
	ErrTextLengthNotPos    = errors.New("max text length must be positive")
	ErrNATSURLEmpty        = errors.New("nats url required for nats storage backend")
)

// Storage backend and engine runtime selectors.
const (
	BackendFilesystem = "fs"
	BackendNATS       = "nats"

	RuntimeHTTP    = "http"
	RuntimeCommand = "command"
)

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	ListenAddr             string `toml:"listen_addr"`
	ReadTimeoutSeconds     int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// StorageConfig selects and configures the audio blob store.
type StorageConfig struct {
	Backend    string `toml:"backend"`
	Root       string `toml:"root"`
	VoicesDir  string `toml:"voices_dir"`
	OutputsDir string `toml:"outputs_dir"`
}

// RegistryConfig configures the SQLite-backed voice registry.
type RegistryConfig struct {
	DatabasePath string `toml:"database_path"`
}

// EngineConfig configures the model runtime behind the inference adapter.
type EngineConfig struct {
	Runtime        string  `toml:"runtime"`
	ServiceURL     string  `toml:"service_url"`
	Binary         string  `toml:"binary"`
	ModelPath      string  `toml:"model_path"`
	UseGPU         bool    `toml:"use_gpu"`
	Language       string  `toml:"language"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// LimitsConfig bounds request admission and input validation.
type LimitsConfig struct {
	MaxQueueDepth           int     `toml:"max_queue_depth"`
	MaxTextLength           int     `toml:"max_text_length"`
	MinSampleSeconds        float64 `toml:"min_sample_seconds"`
	MaxUploadBytes          int64   `toml:"max_upload_bytes"`
	JobRetentionHours       int     `toml:"job_retention_hours"`
	JanitorIntervalMinutes  int     `toml:"janitor_interval_minutes"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables both
// the object-store backend and lifecycle notifications.
type NATSConfig struct {
	URL                       string `toml:"url"`
	VoicesBucket              string `toml:"voices_bucket"`
	OutputsBucket             string `toml:"outputs_bucket"`
	ProfileReadySubject       string `toml:"profile_ready_subject"`
	SynthesisCompletedSubject string `toml:"synthesis_completed_subject"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Registry RegistryConfig `toml:"registry"`
	Engine   EngineConfig   `toml:"engine"`
	Limits   LimitsConfig   `toml:"limits"`
	NATS     NATSConfig     `toml:"nats"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration for the voice-clone-service via the central
// configurator, then applies defaults and validates.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.setDefaults()

	validationErr := cfg.Validate()
	if validationErr != nil {
		return nil, validationErr
	}

	return &cfg, nil
}

// LoadFromFile reads configuration from a local TOML file. Intended for
// development and tests, where no configurator endpoint is available.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	cfg.setDefaults()

	validationErr := cfg.Validate()
	if validationErr != nil {
		return nil, validationErr
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}

	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 30
	}

	if c.Server.WriteTimeoutSeconds <= 0 {
		// Synthesis responses wait for queued model work; keep this generous.
		c.Server.WriteTimeoutSeconds = 600
	}

	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 30
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFilesystem
	}

	if c.Storage.VoicesDir == "" {
		c.Storage.VoicesDir = "voices"
	}

	if c.Storage.OutputsDir == "" {
		c.Storage.OutputsDir = "cloned"
	}

	if c.Registry.DatabasePath == "" && c.Storage.Root != "" {
		c.Registry.DatabasePath = c.Storage.Root + "/registry.db"
	}

	if c.Engine.Runtime == "" {
		c.Engine.Runtime = RuntimeHTTP
	}

	if c.Engine.Language == "" {
		c.Engine.Language = "en"
	}

	if c.Engine.Temperature == 0 {
		c.Engine.Temperature = 0.75
	}

	if c.Engine.TimeoutSeconds <= 0 {
		c.Engine.TimeoutSeconds = 300
	}

	if c.Limits.MaxQueueDepth <= 0 {
		c.Limits.MaxQueueDepth = 16
	}

	if c.Limits.MaxTextLength <= 0 {
		c.Limits.MaxTextLength = 2000
	}

	if c.Limits.MinSampleSeconds <= 0 {
		c.Limits.MinSampleSeconds = 1.0
	}

	if c.Limits.MaxUploadBytes <= 0 {
		c.Limits.MaxUploadBytes = 32 << 20 // 32 MiB
	}

	if c.Limits.JobRetentionHours <= 0 {
		c.Limits.JobRetentionHours = 24
	}

	if c.Limits.JanitorIntervalMinutes <= 0 {
		c.Limits.JanitorIntervalMinutes = 30
	}

	if c.NATS.VoicesBucket == "" {
		c.NATS.VoicesBucket = "VOICE_SAMPLES"
	}

	if c.NATS.OutputsBucket == "" {
		c.NATS.OutputsBucket = "CLONED_AUDIO"
	}

	if c.NATS.ProfileReadySubject == "" {
		c.NATS.ProfileReadySubject = "voice.profile.ready"
	}

	if c.NATS.SynthesisCompletedSubject == "" {
		c.NATS.SynthesisCompletedSubject = "voice.synthesis.completed"
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

// Validate checks the configuration for inconsistencies that would only
// surface later as confusing runtime failures.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFilesystem:
		if c.Storage.Root == "" {
			return ErrStorageRootEmpty
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			return ErrNATSURLEmpty
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend)
	}

	switch c.Engine.Runtime {
	case RuntimeHTTP:
		if c.Engine.ServiceURL == "" {
			return ErrRuntimeURLEmpty
		}
	case RuntimeCommand:
		if c.Engine.Binary == "" {
			return ErrRuntimeBinaryEmpty
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRuntime, c.Engine.Runtime)
	}

	if c.Limits.MaxQueueDepth <= 0 {
		return ErrQueueDepthNotPos
	}

	if c.Limits.MaxTextLength <= 0 {
		return ErrTextLengthNotPos
	}

	return nil
}
