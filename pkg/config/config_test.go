package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, []string{"laptop", "monitor", "desktop"}, cfg.CatalogTypes)
	assert.Equal(t, 8*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, 4*time.Second, cfg.ClickVerifyTimeout)
	assert.Equal(t, 6*time.Hour, cfg.FreshTTL)
	assert.Equal(t, 10*time.Minute, cfg.PriceTokenTTL)
	assert.Equal(t, time.Minute, cfg.ConfirmTokenTTL)
	assert.True(t, cfg.StrictPriceGuard)
	assert.False(t, cfg.AllowDegradedRedirect)
	assert.Equal(t, 5.0, cfg.HardMismatchPercent)
	assert.Equal(t, 200, cfg.BatchLimit)
	assert.Zero(t, cfg.ScheduleInterval)
	assert.Nil(t, cfg.TokenSecret)
	assert.Equal(t, 45.0, cfg.Tuning.Match.MinAccept)
	assert.Equal(t, 0.4, cfg.Tuning.Extract.RatioLow)
}

func TestOverrides(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"PORT":                    "8080",
		"LOG_LEVEL":               "debug",
		"STORE_BACKEND":           "Redis",
		"CATALOG_TYPES":           " Laptop, tablet ,,",
		"OFFER_FRESH_TTL_MINUTES": "60",
		"STRICT_PRICE_GUARD":      "off",
		"ALLOW_DEGRADED_REDIRECT": "1",
		"TOKEN_SECRET":            "0123456789abcdef",
		"PUBLIC_BASE_URL":         "https://deals.example.com/",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, []string{"laptop", "tablet"}, cfg.CatalogTypes)
	assert.Equal(t, time.Hour, cfg.FreshTTL)
	assert.False(t, cfg.StrictPriceGuard)
	assert.True(t, cfg.AllowDegradedRedirect)
	assert.Equal(t, []byte("0123456789abcdef"), cfg.TokenSecret)
	assert.Equal(t, "https://deals.example.com", cfg.PublicBaseURL)
}

func TestPriceTokenTTLClampedBelowFreshness(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"OFFER_FRESH_TTL_MINUTES":         "10",
		"LISTING_PRICE_TOKEN_TTL_MINUTES": "30",
	}))
	require.NoError(t, err)
	assert.Less(t, cfg.PriceTokenTTL, cfg.FreshTTL)
}

func TestMalformedValues(t *testing.T) {
	_, err := FromEnv(lookupFrom(map[string]string{
		"VERIFY_TIMEOUT_MS":  "soon",
		"STRICT_PRICE_GUARD": "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VERIFY_TIMEOUT_MS")
	assert.Contains(t, err.Error(), "STRICT_PRICE_GUARD")

	_, err = FromEnv(lookupFrom(map[string]string{"STORE_BACKEND": "mongo"}))
	assert.Error(t, err)
}

func TestTuningFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
match:
  min_accept: 60
  strong_match: 90
extract:
  ratio_high: 3.0
`), 0o644))

	cfg, err := FromEnv(lookupFrom(map[string]string{"TUNING_FILE": path}))
	require.NoError(t, err)
	assert.Equal(t, 60.0, cfg.Tuning.Match.MinAccept)
	assert.Equal(t, 90.0, cfg.Tuning.Match.StrongMatch)
	assert.Equal(t, 100.0, cfg.Tuning.Match.ExactIDWeight)
	assert.Equal(t, 3.0, cfg.Tuning.Extract.RatioHigh)
	assert.Equal(t, 0.4, cfg.Tuning.Extract.RatioLow)

	_, err = FromEnv(lookupFrom(map[string]string{"TUNING_FILE": filepath.Join(t.TempDir(), "missing.yaml")}))
	assert.Error(t, err)
}
