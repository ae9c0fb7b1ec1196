package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 60*time.Second, cfg.Attendance.Window)
	assert.Equal(t, 30*time.Second, cfg.Attendance.Rotation)
	assert.Equal(t, ScanStoreMemory, cfg.Attendance.ScanStore)
	assert.Equal(t, 8*time.Hour, cfg.Presence.Freshness)
	assert.Equal(t, 20*time.Hour, cfg.Presence.DayCutoff)
	assert.Equal(t, time.UTC, cfg.Presence.Location)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.RateLimit.Disabled)
	assert.Equal(t, 120, cfg.RateLimit.ScansPerWindow)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TOKEN_WINDOW", "2m")
	t.Setenv("TOKEN_ROTATION", "20s")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092,")
	t.Setenv("PRESENCE_TIMEZONE", "Europe/Berlin")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Attendance.Window)
	assert.Equal(t, 20*time.Second, cfg.Attendance.Rotation)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "Europe/Berlin", cfg.Presence.Location.String())
}

func TestLoad_DayCutoffCanBeDisabled(t *testing.T) {
	for _, v := range []string{"0s", "24h"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("PRESENCE_DAY_CUTOFF", v)
			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, v == "24h", cfg.Presence.DayCutoff == 24*time.Hour)
		})
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"rotation not shorter than window", map[string]string{"TOKEN_WINDOW": "30s", "TOKEN_ROTATION": "30s"}},
		{"dev secret in production", map[string]string{"APP_ENV": "production", "JWT_SIGNING_KEY": "real-key"}},
		{"postgres store without database", map[string]string{"SCAN_STORE": "postgres", "DATABASE_URL": ""}},
		{"unknown store", map[string]string{"SCAN_STORE": "etcd"}},
		{"bad timezone", map[string]string{"PRESENCE_TIMEZONE": "Mars/Olympus"}},
		{"zero rate limit window", map[string]string{"RATE_LIMIT_WINDOW": "0s"}},
		{"negative day cutoff", map[string]string{"PRESENCE_DAY_CUTOFF": "-1h"}},
		{"day cutoff past midnight", map[string]string{"PRESENCE_DAY_CUTOFF": "25h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
