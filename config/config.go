// Package config enables config file parsing.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/longphanquangminh/midnight-explorer/log"
)

// envPrefix is the prefix of environment variables that override file
// settings, e.g. MIDNIGHT_SOURCE__NODE_RPC.
const envPrefix = "MIDNIGHT_"

// Config contains the CLI configuration.
type Config struct {
	Source  *SourceConfig  `koanf:"source"`
	Log     *LogConfig     `koanf:"log"`
	Metrics *MetricsConfig `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Source != nil {
		if err := cfg.Source.Validate(); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// SourceConfig selects and tunes the chain data backend. Exactly one
// backend serves all queries: the indexer when IndexerURL is set, else the
// node when NodeRPC is set, else the synthetic corpus. UseMock short-circuits
// the selection entirely.
type SourceConfig struct {
	// NodeRPC is the websocket or HTTP JSON-RPC endpoint of a chain node.
	NodeRPC string `koanf:"node_rpc"`

	// IndexerURL is the HTTP endpoint of an indexing service.
	IndexerURL string `koanf:"indexer_url"`

	// UseMock forces the deterministic synthetic backend regardless of the
	// configured endpoints.
	UseMock bool `koanf:"use_mock"`

	// ScanDepth bounds how many recent blocks node-backed list operations
	// inspect. Zero selects the default.
	ScanDepth int `koanf:"scan_depth"`

	// LookupDepth bounds how many recent blocks a node-backed transaction
	// lookup walks before reporting not-found. Zero selects the default.
	LookupDepth int `koanf:"lookup_depth"`

	// CacheDir, when set, enables a file-backed cache of immutable node
	// responses under this directory.
	CacheDir string `koanf:"cache_dir"`
}

// Validate validates the source configuration.
func (cfg *SourceConfig) Validate() error {
	if cfg.ScanDepth < 0 {
		return fmt.Errorf("scan_depth must not be negative, got %d", cfg.ScanDepth)
	}
	if cfg.LookupDepth < 0 {
		return fmt.Errorf("lookup_depth must not be negative, got %d", cfg.LookupDepth)
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

// InitConfig initializes configuration from file.
func InitConfig(f string) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(file.Provider(f), yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
