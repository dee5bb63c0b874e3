package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aivision-ssr/internal/api"
	"aivision-ssr/internal/backend"
	"aivision-ssr/internal/config"
	"aivision-ssr/internal/crawlerroute"
	"aivision-ssr/internal/fetcher"
	"aivision-ssr/internal/logging"
	"aivision-ssr/internal/metrics"
	"aivision-ssr/internal/preview"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to service configuration (optional)")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	flag.Parse()

	cfg, err := config.Load(resolveConfigPath(*cfgPath))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		log.Fatalf("failed to initialise logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backendFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Headers:      cfg.Backend.Headers,
		Timeout:      cfg.Backend.Timeout.Or(3 * time.Second),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
	})
	if err != nil {
		log.Fatalf("failed to initialise fetcher: %v", err)
	}
	storyFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Backend.Timeout.Or(3 * time.Second),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
	})
	if err != nil {
		log.Fatalf("failed to initialise story fetcher: %v", err)
	}

	storyLimiter := newStoryLimiter(cfg.Fetch.StoryRateLimit)
	if storyLimiter != nil {
		logger.Info("story host rate limit enabled",
			"requests", cfg.Fetch.StoryRateLimit.Requests,
			"window", cfg.Fetch.StoryRateLimit.Window.Duration.String(),
		)
	}

	var collector metrics.Collector
	client, err := backend.NewClient(backendFetcher, backend.Options{
		BaseURL:      cfg.Backend.BaseURL,
		Timeout:      cfg.Backend.Timeout.Or(3 * time.Second),
		StoryLimiter: storyLimiter,
		StoryFetcher: storyFetcher,
		Observer:     collector,
	})
	if err != nil {
		log.Fatalf("failed to initialise backend client: %v", err)
	}

	renderer, err := preview.NewRenderer(client, preview.OptionsFromConfig(*cfg), preview.Observers{
		preview.LogObserver{Logger: logger},
		collector,
	})
	if err != nil {
		log.Fatalf("failed to initialise renderer: %v", err)
	}

	router, err := crawlerroute.New(cfg.Router, logger, collector)
	if err != nil {
		log.Fatalf("failed to initialise crawler router: %v", err)
	}

	spa, err := api.NewSPAHandler(cfg.SPA, logger)
	if err != nil {
		log.Fatalf("failed to initialise spa handler: %v", err)
	}

	server := api.NewServer(renderer, router, api.Options{
		SSRPrefix:     cfg.Router.SSRPrefix,
		BotSignatures: cfg.Router.BotSignatures,
		SPA:           spa,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Or(5 * time.Second),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Or(15*time.Second))
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
	}()

	logger.Info("preview server listening",
		"addr", cfg.Server.Addr,
		"backend", cfg.Backend.BaseURL,
		"bots", cfg.Router.BotSignatures,
		"spa_dir", cfg.SPA.Dir,
		"spa_upstream", cfg.SPA.Upstream,
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("preview server stopped")
}

// resolveConfigPath drops the default path when the file does not exist so
// that a bare binary runs on defaults plus BACKEND_URL.
func resolveConfigPath(path string) string {
	if path == "configs/config.yaml" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return ""
		}
	}
	return path
}

// newStoryLimiter returns nil when the story rate limit is not configured.
func newStoryLimiter(rl config.RateLimitConfig) *fetcher.HostLimiter {
	if !rl.Enabled() {
		return nil
	}
	return fetcher.NewHostLimiter(rl.Requests, rl.Window.Duration)
}
