// Package config provides configuration for the sparkify-etl job.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects which pipeline stages run.
type Mode string

const (
	ModeAll   Mode = "all"
	ModeSongs Mode = "songs"
	ModeLogs  Mode = "logs"
)

// Config holds the configuration for one pipeline run.
type Config struct {
	// Mode specifies which stages to run: all, songs, logs
	Mode Mode `json:"mode" yaml:"mode"`

	// Input is the root holding song_data/ and log_data/ (s3://, s3a://, file:// or a path)
	Input string `json:"input" yaml:"input"`

	// Output is the root the five datasets are written under
	Output string `json:"output" yaml:"output"`

	// CredentialsFile is the key-value file with the object storage access keys
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`

	// WorkDir is the local directory for staged input and produced files
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// KeepWorkDir leaves the per-run work directory in place after the run
	KeepWorkDir bool `json:"keep_work_dir" yaml:"keep_work_dir"`

	// TimeZone is the IANA zone used to derive start_time from epoch millis.
	// "Local" uses the machine zone.
	TimeZone string `json:"time_zone" yaml:"time_zone"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Engine configuration
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// StorageConfig holds object storage client configuration.
type StorageConfig struct {
	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO, LocalStack)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// Concurrency is the number of parallel object transfers
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MaxAttempts is handed to the SDK retryer; 0 keeps the SDK default
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// EngineConfig holds query engine settings.
type EngineConfig struct {
	// Threads caps engine worker threads; 0 keeps the engine default
	Threads int `json:"threads" yaml:"threads"`

	// MemoryLimit is an engine memory limit such as "4GB"; empty keeps the default
	MemoryLimit string `json:"memory_limit" yaml:"memory_limit"`
}

// MetricsConfig holds metrics push settings.
type MetricsConfig struct {
	// PushgatewayURL receives the run metrics when set
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`

	// Job is the Pushgateway job label
	Job string `json:"job" yaml:"job"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:            ModeAll,
		Input:           "s3a://udacity-dend/",
		Output:          "s3a://udacity-dend/Output121220/",
		CredentialsFile: "dl.cfg",
		WorkDir:         "./data/work",
		TimeZone:        "Local",
		Storage: StorageConfig{
			Region:      "us-west-2",
			Concurrency: 8,
			MaxAttempts: 3,
		},
		Metrics: MetricsConfig{
			Job: "sparkify_etl",
		},
	}
}

// Resolve fills empty fields with defaults.
func (c *Config) Resolve() {
	if c.Mode == "" {
		c.Mode = ModeAll
	}
	if c.WorkDir == "" {
		c.WorkDir = "./data/work"
	}
	if c.TimeZone == "" {
		c.TimeZone = "Local"
	}
	if c.Storage.Concurrency <= 0 {
		c.Storage.Concurrency = 8
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "sparkify_etl"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeSongs, ModeLogs:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, songs, or logs)", c.Mode)
	}

	if c.Input == "" {
		return fmt.Errorf("input is required")
	}
	if c.Output == "" {
		return fmt.Errorf("output is required")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir is required")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Storage.Concurrency < 1 || c.Storage.Concurrency > 256 {
		return fmt.Errorf("storage.concurrency must be between 1 and 256, got %d", c.Storage.Concurrency)
	}
	if c.Storage.MaxAttempts < 0 {
		return fmt.Errorf("storage.max_attempts must not be negative, got %d", c.Storage.MaxAttempts)
	}
	if c.Engine.Threads < 0 {
		return fmt.Errorf("engine.threads must not be negative, got %d", c.Engine.Threads)
	}

	return nil
}

// Location returns the time zone used for timestamp derivation.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || strings.EqualFold(c.TimeZone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// ShouldRunSongs returns true if the song stage should run.
func (c *Config) ShouldRunSongs() bool {
	return c.Mode == ModeAll || c.Mode == ModeSongs
}

// ShouldRunLogs returns true if the log stage should run.
func (c *Config) ShouldRunLogs() bool {
	return c.Mode == ModeAll || c.Mode == ModeLogs
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SPARKIFY_ prefix. A malformed numeric value
// is an error.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("SPARKIFY_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("SPARKIFY_INPUT"); v != "" {
		cfg.Input = v
	}
	if v := os.Getenv("SPARKIFY_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("SPARKIFY_CREDENTIALS_FILE"); v != "" {
		cfg.CredentialsFile = v
	}
	if v := os.Getenv("SPARKIFY_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("SPARKIFY_KEEP_WORK_DIR"); v != "" {
		cfg.KeepWorkDir = v == "true" || v == "1"
	}
	if v := os.Getenv("SPARKIFY_TIME_ZONE"); v != "" {
		cfg.TimeZone = v
	}

	// Storage configuration
	if v := os.Getenv("SPARKIFY_S3_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("SPARKIFY_S3_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("SPARKIFY_S3_PATH_STYLE"); v != "" {
		cfg.Storage.UsePathStyle = v == "true" || v == "1"
	}
	if err := intFromEnv("SPARKIFY_STORAGE_CONCURRENCY", &cfg.Storage.Concurrency); err != nil {
		return err
	}
	if err := intFromEnv("SPARKIFY_S3_MAX_ATTEMPTS", &cfg.Storage.MaxAttempts); err != nil {
		return err
	}

	// Engine configuration
	if err := intFromEnv("SPARKIFY_ENGINE_THREADS", &cfg.Engine.Threads); err != nil {
		return err
	}
	if v := os.Getenv("SPARKIFY_ENGINE_MEMORY_LIMIT"); v != "" {
		cfg.Engine.MemoryLimit = v
	}

	// Metrics configuration
	if v := os.Getenv("SPARKIFY_PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
	return nil
}

func intFromEnv(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

// EnsureDirectories creates all required local directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.WorkDir, err)
	}
	return nil
}
