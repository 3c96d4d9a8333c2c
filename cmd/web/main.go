package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"finitefield.org/university-web/internal/cms"
	"finitefield.org/university-web/internal/handlers"
	"finitefield.org/university-web/internal/i18n"
	uimw "finitefield.org/university-web/internal/middleware"
	"finitefield.org/university-web/internal/platform/config"
	"finitefield.org/university-web/internal/platform/observability"
)

func main() {
	startedAt := time.Now().UTC()

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			fmt.Fprintf(os.Stderr, "invalid configuration: %s\n", strings.Join(invalid.Fields(), ", "))
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLoggerWithLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("web")

	mode, ok := cms.ParseLangMode(cfg.API.LangMode)
	if !ok {
		logger.Fatal("invalid api language mode", zap.String("mode", cfg.API.LangMode))
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	client, err := cms.NewClient(cfg.API.BaseURL,
		cms.WithHTTPClient(&http.Client{Transport: transport}),
		cms.WithTimeout(cfg.API.Timeout),
		cms.WithLangMode(mode),
		cms.WithCacheTTL(cfg.API.CacheTTL),
		cms.WithLogger(logger.Named("cms")),
	)
	if err != nil {
		logger.Fatal("failed to initialise content client", zap.Error(err))
	}

	bundle, err := i18n.LoadEmbedded(cfg.Locale.Default)
	if err != nil {
		logger.Fatal("failed to load ui catalog", zap.Error(err))
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
		handlers.WithReadinessCheck("content_api", client.Ping),
	)
	content := handlers.NewContentHandlers(client,
		handlers.WithContentBundle(bundle),
		handlers.WithHomeSections(cfg.Home.Sections...),
		handlers.WithContentLogger(logger.Named("content")),
		handlers.WithDownloadTimeout(cfg.Server.DownloadTimeout),
	)

	routerOpts := []handlers.Option{
		handlers.WithBundle(bundle),
		handlers.WithHealthHandlers(health),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware,
			observability.RequestLoggerMiddleware,
			observability.RecoveryMiddleware,
			uimw.Locale(cfg.Locale.Default),
			uimw.VaryLocale,
		),
		handlers.WithContentRoutes(content.Routes),
	}
	if cfg.RateLimit.Enabled {
		limiter := uimw.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, handlers.RateLimitDenied(bundle))
		routerOpts = append(routerOpts, handlers.WithAPIMiddlewares(limiter.Middleware))
	}
	router := handlers.NewRouter(routerOpts...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("university web listening",
			zap.String("api", client.BaseURL()),
			zap.String("default_lang", cfg.Locale.Default.String()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			client.PurgeCache()
			logger.Info("content cache purged")
		}
	}()

	<-shutdown
	signal.Stop(reload)
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("UNIWEB_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("UNIWEB_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:   version,
		CommitSHA: commit,
		StartedAt: started,
	}
}
