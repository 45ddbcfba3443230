package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"price-guard/pkg/config"
	"price-guard/pkg/eventlog"
	"price-guard/pkg/logger"
	"price-guard/pkg/queue"
	"price-guard/pkg/scrapers"
	"price-guard/pkg/scrapers/browser"
	"price-guard/pkg/scrapers/coupang"
	"price-guard/pkg/scrapers/naver"
	"price-guard/pkg/store"
	"price-guard/pkg/throttle"
	"price-guard/pkg/token"
	"price-guard/pkg/verify"

	"go.opentelemetry.io/otel"
)

// seedFlags collects repeated -seed type=path flags.
type seedFlags []string

func (s *seedFlags) String() string { return strings.Join(*s, ",") }

func (s *seedFlags) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected type=path, got %q", v)
	}
	*s = append(*s, v)
	return nil
}

func main() {
	var seeds seedFlags
	flag.Var(&seeds, "seed", "import a catalog before serving, as type=path (repeatable)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	l := logger.New(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalogs, err := store.Open(ctx, cfg.StoreBackend, store.Options{
		SQLitePath:    cfg.CatalogDBPath,
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("Failed to open catalog store: %v", err)
	}
	defer catalogs.Close()
	l.Info("catalog store ready", "backend", cfg.StoreBackend)

	for _, seed := range seeds {
		if err := importSeed(ctx, catalogs, seed); err != nil {
			log.Fatalf("Failed to seed catalog: %v", err)
		}
		l.Info("catalog seeded", "seed", seed)
	}

	q := queue.New(l)
	engine, adapters, err := buildEngine(cfg, catalogs, q, l)
	if err != nil {
		log.Fatalf("Failed to build verification engine: %v", err)
	}

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	q.Start(workerCtx)

	if cfg.ScheduleInterval > 0 {
		go runSchedule(ctx, engine, cfg.ScheduleInterval, cfg.BatchLimit, l)
	}

	srv := &server{
		engine:   engine,
		queue:    q,
		adapters: adapters,
		logger:   l,
		docsDir:  "./",
	}

	ip := GetOutboundIP()
	if ip != nil {
		fmt.Printf("Local Network URL: http://%s:%s\n", ip.String(), cfg.Port)
	} else {
		fmt.Println("Could not determine local IP address.")
	}
	fmt.Printf("Access URL: http://localhost:%s\n", cfg.Port)
	fmt.Printf("API Docs: http://localhost:%s/\n", cfg.Port)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		l.Error("server failed", "error", err)
	case <-ctx.Done():
		l.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Warn("http shutdown", "error", err)
	}
	if err := q.Close(shutdownCtx); err != nil {
		l.Warn("queue did not drain", "error", err)
	}
	logger.FlushDedup()
}

// buildEngine wires adapters, the page scraper, tokens and the event log
// into a verification engine running on q.
func buildEngine(cfg *config.Config, catalogs store.Store, q *queue.Queue, l *slog.Logger) (*verify.Engine, []string, error) {
	limits := throttle.New(map[string]time.Duration{
		scrapers.PlatformNaver:   cfg.NaverMinInterval,
		scrapers.PlatformCoupang: cfg.CoupangMinInterval,
		scrapers.PlatformBrowser: cfg.BrowserMinInterval,
	})
	matcher := scrapers.NewMatcher(cfg.Tuning.Match)
	client := &http.Client{Timeout: cfg.VerifyTimeout}

	registry := scrapers.NewRegistry(
		naver.New(naver.Options{
			ClientID:     cfg.NaverClientID,
			ClientSecret: cfg.NaverClientSecret,
			Client:       client,
			Throttle:     limits,
			Matcher:      matcher,
			Logger:       l,
		}),
		coupang.New(coupang.Options{
			AccessKey: cfg.CoupangAccessKey,
			SecretKey: cfg.CoupangSecretKey,
			Client:    client,
			Throttle:  limits,
			Matcher:   matcher,
			Logger:    l,
		}),
	)

	var fetcher browser.Fetcher = browser.NewCollyFetcher(cfg.VerifyTimeout)
	if cfg.BrowserRender {
		fetcher = &browser.ChromeFetcher{Logger: l}
	}
	fallback := browser.NewScraper(browser.Options{
		Fetcher:  fetcher,
		Throttle: limits,
		Config:   cfg.Tuning.Extract,
		Logger:   l,
	})

	secret := cfg.TokenSecret
	if len(secret) == 0 {
		var err error
		if secret, err = token.RandomSecret(); err != nil {
			return nil, nil, err
		}
		l.Warn("TOKEN_SECRET not set, using a per-process secret; price links die with the process")
	}
	tokens, err := token.New(token.Options{
		Secret:     secret,
		PriceTTL:   cfg.PriceTokenTTL,
		ConfirmTTL: cfg.ConfirmTokenTTL,
	})
	if err != nil {
		return nil, nil, err
	}

	events, err := eventlog.New(eventlog.Options{
		Path:     cfg.EventLogPath,
		MaxBytes: cfg.EventLogMaxBytes,
		Logger:   l,
	})
	if err != nil {
		return nil, nil, err
	}
	l.Info("event log open", "path", events.Path())

	engine, err := verify.New(verify.Config{
		FreshTTL:              cfg.FreshTTL,
		VerifyTimeout:         cfg.VerifyTimeout,
		ClickVerifyTimeout:    cfg.ClickVerifyTimeout,
		HardMismatchPercent:   cfg.HardMismatchPercent,
		AllowDegradedRedirect: cfg.AllowDegradedRedirect,
		StrictPriceGuard:      cfg.StrictPriceGuard,
		BatchLimit:            cfg.BatchLimit,
		CatalogTypes:          cfg.CatalogTypes,
		PublicBaseURL:         cfg.PublicBaseURL,
	}, verify.Deps{
		Store:    catalogs,
		Queue:    q,
		Adapters: registry,
		Fallback: fallback,
		Tokens:   tokens,
		Events:   events,
		Logger:   l,
		Meter:    otel.Meter("price-guard"),
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, registry.Names(), nil
}

func importSeed(ctx context.Context, s store.Store, seed string) error {
	productType, path, _ := strings.Cut(seed, "=")
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = store.Import(ctx, s, productType, f)
	return err
}

// runSchedule verifies every catalog on each tick until ctx is done.
func runSchedule(ctx context.Context, engine *verify.Engine, every time.Duration, limit int, l *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	l.Info("scheduled verification enabled", "every", every.String(), "limit", limit)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.VerifyAllOffers(ctx, verify.BatchOptions{Trigger: verify.TriggerSchedule, Limit: limit}); err != nil && ctx.Err() == nil {
				l.Error("scheduled verification failed", "error", err)
			}
		}
	}
}

func GetOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		addrs, _ := net.InterfaceAddrs()
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					return ipnet.IP
				}
			}
		}
		return nil
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}
