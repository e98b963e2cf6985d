// Package config provides configuration loading for recalld.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, with hardcoded defaults filling anything left unset.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// Config holds the complete recalld configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    logging.Config   `koanf:"logging"`
	Mirror     MirrorConfig     `koanf:"mirror"`
	Remote     RemoteConfig     `koanf:"remote"`
	Faces      FacesConfig      `koanf:"faces"`
	Matcher    MatcherConfig    `koanf:"matcher"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Transcribe TranscribeConfig `koanf:"transcribe"`

	Demo DemoConfig `koanf:"demo"`
}

// DemoConfig controls demo-data seeding.
type DemoConfig struct {
	// Seed inserts a handful of demo people when the mirror is empty
	// after the startup sync.
	Seed bool `koanf:"seed"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MirrorConfig holds the durable local store configuration.
type MirrorConfig struct {
	// Path is the SQLite database file. Empty means
	// ~/.local/share/recalld/recalld.db.
	Path string `koanf:"path"`
}

// RemoteConfig holds the authoritative remote store configuration.
type RemoteConfig struct {
	// Enabled toggles the remote tier entirely. When false the daemon
	// runs on the local mirror alone.
	Enabled bool `koanf:"enabled"`

	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     string `koanf:"api_key"`
	Collection string `koanf:"collection"`

	DialTimeout    time.Duration `koanf:"dial_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RetryAttempts  int           `koanf:"retry_attempts"`
}

// FacesConfig holds the face-embedding provider configuration.
type FacesConfig struct {
	BaseURL string `koanf:"base_url"`

	// VectorSize is the embedding dimension the provider emits.
	VectorSize int `koanf:"vector_size"`

	// Timeout bounds a single extraction call. Exceeding it is treated
	// as an extraction failure, not a hang.
	Timeout time.Duration `koanf:"timeout"`
}

// MatcherConfig holds similarity matching policy.
type MatcherConfig struct {
	// Threshold is the minimum cosine similarity for a match, over the
	// full -1..1 range. It trades false accepts against false rejects
	// and is policy, not a derived value.
	Threshold float32 `koanf:"threshold"`
}

// ExtractionConfig holds the structured-extraction endpoint configuration.
type ExtractionConfig struct {
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// TranscribeConfig holds the transcription endpoint configuration.
type TranscribeConfig struct {
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// applyDefaults fills unset fields with defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Remote.Host == "" {
		cfg.Remote.Host = "localhost"
	}
	if cfg.Remote.Port == 0 {
		cfg.Remote.Port = 6334
	}
	if cfg.Remote.Collection == "" {
		cfg.Remote.Collection = "people"
	}
	if cfg.Remote.DialTimeout == 0 {
		cfg.Remote.DialTimeout = 5 * time.Second
	}
	if cfg.Remote.RequestTimeout == 0 {
		cfg.Remote.RequestTimeout = 30 * time.Second
	}
	if cfg.Remote.RetryAttempts == 0 {
		cfg.Remote.RetryAttempts = 3
	}
	if cfg.Faces.BaseURL == "" {
		cfg.Faces.BaseURL = "http://localhost:8810"
	}
	if cfg.Faces.VectorSize == 0 {
		cfg.Faces.VectorSize = 512
	}
	if cfg.Faces.Timeout == 0 {
		cfg.Faces.Timeout = 2 * time.Second
	}
	if cfg.Matcher.Threshold == 0 {
		cfg.Matcher.Threshold = 0.55
	}
	if cfg.Extraction.BaseURL == "" {
		cfg.Extraction.BaseURL = "http://localhost:11434"
	}
	if cfg.Extraction.Model == "" {
		cfg.Extraction.Model = "phi3:mini"
	}
	if cfg.Extraction.Timeout == 0 {
		cfg.Extraction.Timeout = 30 * time.Second
	}
	if cfg.Transcribe.BaseURL == "" {
		cfg.Transcribe.BaseURL = "http://localhost:8820"
	}
	if cfg.Transcribe.Model == "" {
		cfg.Transcribe.Model = "whisper-base"
	}
	if cfg.Transcribe.Timeout == 0 {
		cfg.Transcribe.Timeout = 60 * time.Second
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Remote.Enabled {
		if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
			return fmt.Errorf("invalid remote port: %d (must be 1-65535)", c.Remote.Port)
		}
		if c.Remote.Collection == "" {
			return fmt.Errorf("remote collection is required")
		}
	}
	if c.Faces.VectorSize <= 0 {
		return fmt.Errorf("invalid faces vector size: %d (must be > 0)", c.Faces.VectorSize)
	}
	if c.Matcher.Threshold < -1.0 || c.Matcher.Threshold > 1.0 {
		return fmt.Errorf("invalid matcher threshold: %v (cosine similarity is -1..1)", c.Matcher.Threshold)
	}
	return nil
}
