package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Limits     LimitsConfig     `yaml:"limits"`
	Profiles   ProfilesConfig   `yaml:"profiles"`
	Credential CredentialConfig `yaml:"credential"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Bind           string        `yaml:"bind" envconfig:"BIND_ADDRESS" default:"0.0.0.0:8080"`
	APIKey         string        `yaml:"api_key" envconfig:"API_KEY"`
	WorkerCount    int           `yaml:"worker_count" envconfig:"WORKER_COUNT" default:"4"`
	LogLevel       string        `yaml:"log_level" envconfig:"LOG_LEVEL" default:"info"`
	ReadTimeout    time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"15m"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"5m"`
}

// StoreConfig holds the download store and reaper configuration.
type StoreConfig struct {
	Dir                      string `yaml:"dir" envconfig:"DOWNLOAD_DIR" default:"/tmp/downloads"`
	ScratchDir               string `yaml:"scratch_dir" envconfig:"SCRATCH_DIR" default:"/tmp/vidgate-scratch"`
	ReaperWindowMinutes      int    `yaml:"reaper_window_minutes" envconfig:"REAPER_WINDOW_MINUTES" default:"30"`
	ReaperTickSeconds        int    `yaml:"reaper_tick_seconds" envconfig:"REAPER_TICK_SECONDS" default:"300"`
	PostResponseDelaySeconds int    `yaml:"post_response_delay_seconds" envconfig:"POST_RESPONSE_DELAY_SECONDS" default:"60"`
}

// LimitsConfig bounds a single fetch.
type LimitsConfig struct {
	MaxDownloadSizeMB  int64  `yaml:"max_download_size_mb" envconfig:"MAX_DOWNLOAD_SIZE_MB" default:"500"`
	MaxDurationSeconds int    `yaml:"max_duration_seconds" envconfig:"MAX_DURATION_SECONDS" default:"7200"`
	DefaultFormat      string `yaml:"default_format" envconfig:"DEFAULT_FORMAT" default:"best[ext=mp4]/best"`
}

// ProfilesConfig controls the fallback order.
type ProfilesConfig struct {
	Default         string `yaml:"default" envconfig:"DEFAULT_PROFILE"`
	Order           string `yaml:"order" envconfig:"DEFAULT_ORDER" default:"tv,ios,cookies,android"`
	AllowCredential bool   `yaml:"allow_credential" envconfig:"ALLOW_CREDENTIAL_PROFILE" default:"true"`
}

// CredentialConfig carries the optional credential source.
type CredentialConfig struct {
	BlobBase64 string `yaml:"blob_base64" envconfig:"CREDENTIAL_BLOB_BASE64"`
}

// ExtractorConfig holds engine invocation settings.
type ExtractorConfig struct {
	BinPath      string        `yaml:"bin_path" envconfig:"EXTRACTOR_PATH" default:"yt-dlp"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" envconfig:"PROBE_TIMEOUT" default:"2m"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT" default:"10m"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Server.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.Store.Dir == "" {
		return fmt.Errorf("DOWNLOAD_DIR is required")
	}
	if c.Limits.MaxDownloadSizeMB <= 0 {
		return fmt.Errorf("MAX_DOWNLOAD_SIZE_MB must be positive")
	}
	if c.Limits.MaxDurationSeconds <= 0 {
		return fmt.Errorf("MAX_DURATION_SECONDS must be positive")
	}
	return nil
}

// MaxSizeBytes converts the configured cap to bytes.
func (c *LimitsConfig) MaxSizeBytes() int64 {
	return c.MaxDownloadSizeMB * 1024 * 1024
}

// ReaperWindow returns the file-age window as a duration.
func (c *StoreConfig) ReaperWindow() time.Duration {
	return time.Duration(c.ReaperWindowMinutes) * time.Minute
}

// ReaperTick returns the sweep period as a duration.
func (c *StoreConfig) ReaperTick() time.Duration {
	return time.Duration(c.ReaperTickSeconds) * time.Second
}

// PostResponseDelay returns the eager deletion delay as a duration.
func (c *StoreConfig) PostResponseDelay() time.Duration {
	return time.Duration(c.PostResponseDelaySeconds) * time.Second
}

// SlogLevel translates the configured log level.
func (c *ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
