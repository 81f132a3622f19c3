package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/stretchr/testify/require"
)

func TestConfigYAML(t *testing.T) {
	cfgYAML := `
source:
  node_rpc: ws://localhost:9944
  indexer_url: https://indexer.example.com/api/v1/graphql
  scan_depth: 120
  lookup_depth: 400
  cache_dir: /tmp/midnight-cache
log:
  format: json
  level: warn
metrics:
  pull_endpoint: localhost:8009
`

	var cfg Config
	k := koanf.New(".")
	require.NoError(t, k.Load(rawbytes.Provider([]byte(cfgYAML)), yaml.Parser()))
	require.NoError(t, k.Unmarshal("", &cfg))
	require.NoError(t, cfg.Validate())

	require.Equal(t, "ws://localhost:9944", cfg.Source.NodeRPC)
	require.Equal(t, "https://indexer.example.com/api/v1/graphql", cfg.Source.IndexerURL)
	require.False(t, cfg.Source.UseMock)
	require.Equal(t, 120, cfg.Source.ScanDepth)
	require.Equal(t, 400, cfg.Source.LookupDepth)
	require.Equal(t, "/tmp/midnight-cache", cfg.Source.CacheDir)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "localhost:8009", cfg.Metrics.PullEndpoint)
}

func TestConfigValidation(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"mock only", Config{Source: &SourceConfig{UseMock: true}}, true},
		{"negative scan depth", Config{Source: &SourceConfig{ScanDepth: -1}}, false},
		{"negative lookup depth", Config{Source: &SourceConfig{LookupDepth: -5}}, false},
		{"bad log level", Config{Log: &LogConfig{Format: "json", Level: "noisy"}}, false},
		{"bad log format", Config{Log: &LogConfig{Format: "xml", Level: "info"}}, false},
		{"blank metrics endpoint", Config{Metrics: &MetricsConfig{}}, false},
	} {
		err := tc.cfg.Validate()
		if tc.ok {
			require.NoError(t, err, tc.name)
		} else {
			require.Error(t, err, tc.name)
		}
	}
}

func TestInitConfigEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  node_rpc: ws://localhost:9944
log:
  format: logfmt
  level: info
`), 0o600))

	t.Setenv("MIDNIGHT_SOURCE__NODE_RPC", "ws://override:9944")
	t.Setenv("MIDNIGHT_SOURCE__USE_MOCK", "true")

	cfg, err := InitConfig(path)
	require.NoError(t, err)
	require.Equal(t, "ws://override:9944", cfg.Source.NodeRPC)
	require.True(t, cfg.Source.UseMock)
	require.Equal(t, "logfmt", cfg.Log.Format)
}

func TestInitConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
source:
  scan_depth: -3
`), 0o600))

	_, err := InitConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "scan_depth")
}
