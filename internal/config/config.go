package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"parseltongue/internal/logging"
)

// Config holds all parseltongue configuration.
type Config struct {
	// Store connection string, per the §6.1 scheme: "mem", "sqlite:<path>", "rocksdb:<path>".
	Store StoreConfig `yaml:"store"`

	Streamer StreamerConfig `yaml:"streamer"`

	Parser ParserConfig `yaml:"parser"`

	QueryEngine QueryEngineConfig `yaml:"query_engine"`

	Exporter ExporterConfig `yaml:"exporter"`

	Logging LoggingConfig `yaml:"logging"`

	CoreLimits CoreLimits `yaml:"core_limits"`
}

type StoreConfig struct {
	Connection string `yaml:"connection"`
}

type StreamerConfig struct {
	IncludeGlobs []string `yaml:"include_globs"`
	ExcludeGlobs []string `yaml:"exclude_globs"`
	MaxSizeBytes int64    `yaml:"max_size_bytes"`
	BatchSize    int      `yaml:"batch_size"`
	Workers      int      `yaml:"workers"`
}

type ParserConfig struct {
	PerFileTimeout string `yaml:"per_file_timeout"`
}

type QueryEngineConfig struct {
	Timeout string `yaml:"timeout"`
	MaxHops int    `yaml:"max_hops"`
}

type ExporterConfig struct {
	DefaultTokenBudget int `yaml:"default_token_budget"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Connection: "mem",
		},
		Streamer: StreamerConfig{
			IncludeGlobs: []string{"**/*"},
			ExcludeGlobs: []string{"**/.git/**", "**/node_modules/**", "**/vendor/**", "**/target/**"},
			MaxSizeBytes: 2 << 20, // 2 MiB
			BatchSize:    100,
			Workers:      4,
		},
		Parser: ParserConfig{
			PerFileTimeout: "5s",
		},
		QueryEngine: QueryEngineConfig{
			Timeout: "10s",
			MaxHops: 5,
		},
		Exporter: ExporterConfig{
			DefaultTokenBudget: 100_000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
		CoreLimits: CoreLimits{
			MaxBatchSize:       10_000,
			MaxTokenBudget:     2_000_000,
			MaxQueryMaxHops:    64,
			MaxSizeBytesCeiling: 64 << 20,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults if the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	logging.Boot("config loaded: store=%s batch_size=%d", cfg.Store.Connection, cfg.Streamer.BatchSize)
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) ParserTimeout() time.Duration {
	d, err := time.ParseDuration(c.Parser.PerFileTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func (c *Config) QueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.QueryEngine.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// Validate rejects out-of-range values before the pipeline starts.
func (c *Config) Validate() error {
	if c.Store.Connection == "" {
		return fmt.Errorf("store.connection must be set (mem, sqlite:<path>, or rocksdb:<path>)")
	}
	if err := c.ValidateCoreLimits(); err != nil {
		return err
	}
	if c.Streamer.BatchSize <= 0 || c.Streamer.BatchSize > c.CoreLimits.MaxBatchSize {
		return fmt.Errorf("streamer.batch_size must be in (0, %d]", c.CoreLimits.MaxBatchSize)
	}
	if c.Streamer.MaxSizeBytes <= 0 || c.Streamer.MaxSizeBytes > c.CoreLimits.MaxSizeBytesCeiling {
		return fmt.Errorf("streamer.max_size_bytes must be in (0, %d]", c.CoreLimits.MaxSizeBytesCeiling)
	}
	if c.QueryEngine.MaxHops <= 0 || c.QueryEngine.MaxHops > c.CoreLimits.MaxQueryMaxHops {
		return fmt.Errorf("query_engine.max_hops must be in (0, %d]", c.CoreLimits.MaxQueryMaxHops)
	}
	if c.Exporter.DefaultTokenBudget <= 0 || c.Exporter.DefaultTokenBudget > c.CoreLimits.MaxTokenBudget {
		return fmt.Errorf("exporter.default_token_budget must be in (0, %d]", c.CoreLimits.MaxTokenBudget)
	}
	return nil
}
