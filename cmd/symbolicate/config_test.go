package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/alecthomas/kingpin.v2"
)

func TestParseConfigFileParameter(t *testing.T) {
	for _, tc := range []struct {
		args     []string
		expected string
	}{
		{args: nil, expected: ""},
		{args: []string{"in.pb.gz", "out.pb.gz"}, expected: ""},
		{args: []string{"--config.file", "a.yaml", "in.pb.gz"}, expected: "a.yaml"},
		{args: []string{"-v", "--config.file=b.yaml"}, expected: "b.yaml"},
		{args: []string{"-config.file=c.yaml"}, expected: "c.yaml"},
		{args: []string{"--", "--config.file=d.yaml"}, expected: ""},
		{args: []string{"--config.file"}, expected: ""},
	} {
		assert.Equal(t, tc.expected, parseConfigFileParameter(tc.args), "%v", tc.args)
	}
}

func newTestConfig(t *testing.T, yaml string, args ...string) (config, error) {
	t.Helper()
	var cfg config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if yaml != "" {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
		if err := cfg.loadConfigFile(path); err != nil {
			return cfg, err
		}
	}
	app := kingpin.New("test", "")
	registerFlags(app, fs)
	_, err := app.Parse(args)
	return cfg, err
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := newTestConfig(t, "")
	require.NoError(t, err)
	assert.Equal(t, "./symbols", cfg.SymbolsDir)
	assert.Equal(t, 8, cfg.Symbolication.MaxConcurrency)
	assert.False(t, cfg.Symbolication.IgnoreCache)
	assert.Equal(t, 64, cfg.Symbols.CacheSize)
	require.NoError(t, cfg.Validate())
}

func TestConfigFileAndFlags(t *testing.T) {
	cfg, err := newTestConfig(t, `
symbols_dir: /var/symbols
symbolication:
  max_concurrency: 2
symbols:
  cache_size: 16
`, "--symbols.cache-size=32", "--symbolication.ignore-cache")
	require.NoError(t, err)
	assert.Equal(t, "/var/symbols", cfg.SymbolsDir)
	assert.Equal(t, 2, cfg.Symbolication.MaxConcurrency)
	assert.True(t, cfg.Symbolication.IgnoreCache)
	assert.Equal(t, 32, cfg.Symbols.CacheSize)
}

func TestConfigFileUnknownField(t *testing.T) {
	_, err := newTestConfig(t, "symbol_dir: /tmp\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol_dir")
}

func TestConfigValidate(t *testing.T) {
	cfg, err := newTestConfig(t, "", "--symbols.dir=", "--symbolication.max-concurrency=0", "--symbols.cache-size=0")
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 errors occurred")
}
