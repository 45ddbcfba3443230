// Package config reads the service configuration from the environment
// (optionally seeded by a .env file) and an optional YAML tuning file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"price-guard/pkg/scrapers"
	"price-guard/pkg/scrapers/browser"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string
	LogLevel slog.Level

	StoreBackend  string
	CatalogDBPath string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CatalogTypes  []string

	EventLogPath     string
	EventLogMaxBytes int64

	VerifyTimeout      time.Duration
	ClickVerifyTimeout time.Duration
	NaverMinInterval   time.Duration
	CoupangMinInterval time.Duration
	BrowserMinInterval time.Duration

	FreshTTL        time.Duration
	PriceTokenTTL   time.Duration
	ConfirmTokenTTL time.Duration
	TokenSecret     []byte

	StrictPriceGuard      bool
	AllowDegradedRedirect bool
	HardMismatchPercent   float64
	BatchLimit            int
	ScheduleInterval      time.Duration

	NaverClientID     string
	NaverClientSecret string
	CoupangAccessKey  string
	CoupangSecretKey  string

	BrowserRender bool
	PublicBaseURL string

	Tuning Tuning
}

// Tuning holds the empirically tuned matching and extraction constants.
type Tuning struct {
	Match   scrapers.MatchConfig  `yaml:"match"`
	Extract browser.ExtractConfig `yaml:"extract"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Match:   scrapers.DefaultMatchConfig(),
		Extract: browser.DefaultExtractConfig(),
	}
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup. Malformed values are errors.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}

	cfg := &Config{
		Port:          e.str("PORT", "9090"),
		StoreBackend:  strings.ToLower(e.str("STORE_BACKEND", "sqlite")),
		CatalogDBPath: e.str("CATALOG_DB_PATH", "./catalog.db"),
		DatabaseURL:   e.str("DATABASE_URL", ""),
		RedisAddr:     e.str("REDIS_ADDR", ""),
		RedisPassword: e.str("REDIS_PASSWORD", ""),
		RedisDB:       e.integer("REDIS_DB", 0),
		CatalogTypes:  e.list("CATALOG_TYPES", []string{"laptop", "monitor", "desktop"}),

		EventLogPath:     e.str("EVENT_LOG_PATH", "./data/verification.ndjson"),
		EventLogMaxBytes: int64(e.integer("EVENT_LOG_MAX_BYTES", 10<<20)),

		VerifyTimeout:      e.millis("VERIFY_TIMEOUT_MS", 8000),
		ClickVerifyTimeout: e.millis("CLICK_VERIFY_TIMEOUT_MS", 4000),
		NaverMinInterval:   e.millis("NAVER_MIN_INTERVAL_MS", 250),
		CoupangMinInterval: e.millis("COUPANG_MIN_INTERVAL_MS", 1000),
		BrowserMinInterval: e.millis("BROWSER_MIN_INTERVAL_MS", 500),

		FreshTTL:        time.Duration(e.integer("OFFER_FRESH_TTL_MINUTES", 360)) * time.Minute,
		PriceTokenTTL:   time.Duration(e.integer("LISTING_PRICE_TOKEN_TTL_MINUTES", 10)) * time.Minute,
		ConfirmTokenTTL: time.Duration(e.integer("CONFIRM_TOKEN_TTL_SECONDS", 60)) * time.Second,

		StrictPriceGuard:      e.flag("STRICT_PRICE_GUARD", true),
		AllowDegradedRedirect: e.flag("ALLOW_DEGRADED_REDIRECT", false),
		HardMismatchPercent:   e.number("HARD_MISMATCH_PERCENT", 5),
		BatchLimit:            e.integer("BATCH_LIMIT", 200),
		ScheduleInterval:      time.Duration(e.integer("VERIFY_SCHEDULE_MINUTES", 0)) * time.Minute,

		NaverClientID:     e.str("NAVER_CLIENT_ID", ""),
		NaverClientSecret: e.str("NAVER_CLIENT_SECRET", ""),
		CoupangAccessKey:  e.str("COUPANG_ACCESS_KEY", ""),
		CoupangSecretKey:  e.str("COUPANG_SECRET_KEY", ""),

		BrowserRender: e.flag("BROWSER_RENDER", false),
		PublicBaseURL: strings.TrimRight(e.str("PUBLIC_BASE_URL", ""), "/"),

		Tuning: DefaultTuning(),
	}

	level, err := parseLevel(e.str("LOG_LEVEL", "INFO"))
	if err != nil {
		e.errs = append(e.errs, err)
	}
	cfg.LogLevel = level

	if secret := e.str("TOKEN_SECRET", ""); secret != "" {
		cfg.TokenSecret = []byte(secret)
	}

	if path := e.str("TUNING_FILE", ""); path != "" {
		if err := cfg.loadTuning(path); err != nil {
			e.errs = append(e.errs, err)
		}
	}

	if len(e.errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(e.errs...))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FreshTTL <= 0 {
		return fmt.Errorf("config: OFFER_FRESH_TTL_MINUTES must be positive")
	}
	if c.VerifyTimeout <= 0 || c.ClickVerifyTimeout <= 0 {
		return fmt.Errorf("config: verification timeouts must be positive")
	}
	if c.PriceTokenTTL <= 0 {
		return fmt.Errorf("config: LISTING_PRICE_TOKEN_TTL_MINUTES must be positive")
	}
	// a listing token never outlives the verification it vouches for
	if c.PriceTokenTTL >= c.FreshTTL {
		c.PriceTokenTTL = c.FreshTTL / 2
	}
	if c.BatchLimit < 0 {
		return fmt.Errorf("config: BATCH_LIMIT must not be negative")
	}
	switch c.StoreBackend {
	case "sqlite", "postgres", "redis", "memory":
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

func (c *Config) loadTuning(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read TUNING_FILE: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Tuning); err != nil {
		return fmt.Errorf("parse TUNING_FILE: %w", err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}
