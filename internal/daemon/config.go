// Package daemon holds the process configuration: a TOML file layered over
// defaults. Every knob has a working default so `speakd serve` runs with no
// config file at all (mock provider, SQLite queue, checkout disabled).
package daemon

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full speakd configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Database  DatabaseConfig  `toml:"database"`
	Queue     QueueConfig     `toml:"queue"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Provider  ProviderConfig  `toml:"provider"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
	Worker    WorkerConfig    `toml:"worker"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	PublicBaseURL string `toml:"public_base_url"` // used in artifact download URLs
	Metrics       bool   `toml:"metrics"`
}

// DatabaseConfig locates the SQLite system of record.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// QueueConfig selects the work-queue transport.
type QueueConfig struct {
	Backend   string `toml:"backend"`    // "sqlite" (default) or "redis"
	RedisAddr string `toml:"redis_addr"` // required for the redis backend
	Lease     string `toml:"lease"`      // per-delivery visibility window
}

// GatewayConfig configures the gwop checkout integration. An empty APIKey
// disables checkout; the service still runs for TTS with existing credits.
type GatewayConfig struct {
	APIBase       string `toml:"api_base"`
	APIKey        string `toml:"api_key"`
	WebhookSecret string `toml:"webhook_secret"`
}

// ProviderConfig selects the conversion backend.
type ProviderConfig struct {
	Name                string `toml:"name"` // "mock" or "elevenlabs"
	ElevenLabsAPIKey    string `toml:"elevenlabs_api_key"`
	DefaultVoiceID      string `toml:"default_voice_id"`
	DefaultModelID      string `toml:"default_model_id"`
	DefaultOutputFormat string `toml:"default_output_format"`
}

// ArtifactsConfig controls audio artifact storage and retention.
type ArtifactsConfig struct {
	Dir             string `toml:"dir"`
	RetentionHours  int    `toml:"retention_hours"`
	CleanupInterval string `toml:"cleanup_interval"`
}

// WorkerConfig controls job processing.
type WorkerConfig struct {
	Concurrency     int    `toml:"concurrency"`
	Embedded        bool   `toml:"embedded"` // run workers inside `speakd serve`
	StaleJobTimeout string `toml:"stale_job_timeout"`
	SweepInterval   string `toml:"sweep_interval"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:          "127.0.0.1",
			Port:          3020,
			PublicBaseURL: "http://127.0.0.1:3020",
			Metrics:       true,
		},
		Database: DatabaseConfig{
			Path: "speakd.db",
		},
		Queue: QueueConfig{
			Backend: "sqlite",
			Lease:   "5m",
		},
		Gateway: GatewayConfig{
			APIBase: "https://api.gwop.dev",
		},
		Provider: ProviderConfig{
			Name:                "mock",
			DefaultVoiceID:      "mock-neutral",
			DefaultModelID:      "mock-model",
			DefaultOutputFormat: "wav_mock",
		},
		Artifacts: ArtifactsConfig{
			Dir:             "artifacts",
			RetentionHours:  24,
			CleanupInterval: "1h",
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			Embedded:        true,
			StaleJobTimeout: "10m",
			SweepInterval:   "1m",
		},
	}
}

// LoadConfig reads a TOML file over the defaults. An empty path returns the
// defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Queue.Backend {
	case "sqlite":
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("queue.backend %q: must be sqlite or redis", c.Queue.Backend)
	}
	switch c.Provider.Name {
	case "mock":
	case "elevenlabs":
		if c.Provider.ElevenLabsAPIKey == "" {
			return fmt.Errorf("provider.elevenlabs_api_key is required for the elevenlabs provider")
		}
	default:
		return fmt.Errorf("provider.name %q: must be mock or elevenlabs", c.Provider.Name)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Artifacts.RetentionHours < 1 {
		return fmt.Errorf("artifacts.retention_hours must be at least 1")
	}
	return nil
}

// parseDuration parses a duration string, falling back when empty or bad.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// QueueLease returns the parsed per-delivery lease window.
func (c *Config) QueueLease() time.Duration { return parseDuration(c.Queue.Lease, 5*time.Minute) }

// StaleJobTimeout returns how long a running job may go before reclaim.
func (c *Config) StaleJobTimeout() time.Duration {
	return parseDuration(c.Worker.StaleJobTimeout, 10*time.Minute)
}

// SweepInterval returns the stale-job sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.Worker.SweepInterval, time.Minute)
}

// CleanupInterval returns the artifact cleanup cadence.
func (c *Config) CleanupInterval() time.Duration {
	return parseDuration(c.Artifacts.CleanupInterval, time.Hour)
}
