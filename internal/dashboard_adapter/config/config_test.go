package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearAdapterEnv blanks every override so tests see file and default values.
func clearAdapterEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SERVER_BIND_ADDR", "DATABASE_DSN", "REDIS_ADDR", "REDIS_PASSWORD", "MONITOR_CONFIG_FILE"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashboard_adapter.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	clearAdapterEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8090", cfg.Server.BindAddr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "config/monitor.yml", cfg.Dashboard.MonitorFile)
	assert.Equal(t, 365, cfg.Dashboard.Days)
	assert.Equal(t, 180, cfg.Dashboard.ChartDays)
}

func TestLoadConfigPartialFileFillsDefaults(t *testing.T) {
	clearAdapterEnv(t)
	path := writeConfig(t, `
server:
  bind_addr: "127.0.0.1:9001"
database:
  dsn: "postgres://ro:ro@replica:5432/fedmon?sslmode=disable"
dashboard:
  days: 90
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9001", cfg.Server.BindAddr)
	assert.Equal(t, "postgres://ro:ro@replica:5432/fedmon?sslmode=disable", cfg.Database.DSN)
	assert.Equal(t, 90, cfg.Dashboard.Days)

	// unset fields fall back to defaults
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 180, cfg.Dashboard.ChartDays)
	assert.Equal(t, "30m", cfg.Dashboard.SnapshotTTL)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearAdapterEnv(t)
	t.Setenv("DATABASE_DSN", "postgres://env:env@db:5432/fedmon")
	t.Setenv("REDIS_ADDR", "redis:6380")

	path := writeConfig(t, `
database:
  dsn: "postgres://file:file@db:5432/fedmon"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env:env@db:5432/fedmon", cfg.Database.DSN)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
}

func TestLoadConfigInvalidSnapshotTTL(t *testing.T) {
	clearAdapterEnv(t)
	path := writeConfig(t, `
dashboard:
  snapshot_ttl: "soon"
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot ttl")
}

func TestGetSnapshotTTL(t *testing.T) {
	tests := []struct {
		name string
		ttl  string
		want time.Duration
	}{
		{name: "empty uses default", ttl: "", want: 30 * time.Minute},
		{name: "configured value", ttl: "1h", want: time.Hour},
		{name: "unparseable falls back", ttl: "soon", want: 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &DashboardConfig{SnapshotTTL: tt.ttl}
			assert.Equal(t, tt.want, c.GetSnapshotTTL())
		})
	}
}
