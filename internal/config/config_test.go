package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "downloads", cfg.OutputDir)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 0, cfg.MaxDownloads)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.InDelta(t, 0.8, cfg.CompletenessRatio, 1e-9)
	assert.Equal(t, 8192, cfg.ChunkSize)
	assert.Equal(t, Tier{Connect: 2 * time.Second, Read: 5 * time.Second}, cfg.ResolveTier())
	assert.Equal(t, Tier{Connect: 3 * time.Second, Read: 8 * time.Second}, cfg.ProbeTier())
	assert.Equal(t, Tier{Connect: 5 * time.Second, Read: 30 * time.Second}, cfg.TransferTier())
	assert.Equal(t, DefaultEndpoints, cfg.Endpoints)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Empty(t, cfg.Web.BindAddress)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("WORKERS", "8")
	t.Setenv("MAX_DOWNLOADS", "20")
	t.Setenv("ENDPOINTS", "http://a.test/api,http://b.test/api")
	t.Setenv("COMPLETENESS_RATIO", "0.9")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:9100")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 20, cfg.MaxDownloads)
	assert.Equal(t, []string{"http://a.test/api", "http://b.test/api"}, cfg.Endpoints)
	assert.InDelta(t, 0.9, cfg.CompletenessRatio, 1e-9)
	assert.Equal(t, "127.0.0.1:9100", cfg.Web.BindAddress)
}

func TestLoadConfig_RejectsWorkersOutOfRange(t *testing.T) {
	for _, workers := range []string{"0", "17"} {
		t.Run(workers, func(t *testing.T) {
			t.Setenv("WORKERS", workers)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "workers must be between 1 and 16")
		})
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Workers:           3,
			FailureThreshold:  5,
			CompletenessRatio: 0.8,
			ChunkSize:         8192,
			HashAlgorithm:     "md5",
			Endpoints:         []string{"http://a.test"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "sha256 accepted", mutate: func(c *Config) { c.HashAlgorithm = "SHA256" }},
		{name: "ratio zero", mutate: func(c *Config) { c.CompletenessRatio = 0 }, wantErr: "completeness ratio"},
		{name: "ratio above one", mutate: func(c *Config) { c.CompletenessRatio = 1.5 }, wantErr: "completeness ratio"},
		{name: "threshold zero", mutate: func(c *Config) { c.FailureThreshold = 0 }, wantErr: "failure threshold"},
		{name: "unknown hash", mutate: func(c *Config) { c.HashAlgorithm = "crc32" }, wantErr: "unsupported hash"},
		{name: "no endpoints", mutate: func(c *Config) { c.Endpoints = nil }, wantErr: "at least one endpoint"},
		{name: "negative max downloads", mutate: func(c *Config) { c.MaxDownloads = -1 }, wantErr: "max downloads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTargetDir(t *testing.T) {
	now := time.Date(2026, 3, 9, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))

	cfg := Config{OutputDir: "out", DateDirPrefix: "media"}
	assert.Equal(t, "out", cfg.TargetDir(now))

	cfg.DateSubdir = true
	assert.Equal(t, filepath.Join("out", "media_20260310"), cfg.TargetDir(now))
}

func TestLedgerPath(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, filepath.Join("out", "ledger.db"), cfg.LedgerPath("out"))

	cfg.DBPath = "/var/lib/ledger.db"
	assert.Equal(t, "/var/lib/ledger.db", cfg.LedgerPath("out"))
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "debug"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "WARN"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: "nonsense"}).SlogLevel())
}
