package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	apihttp "vodstream/searchservice/internal/api/http"
	"vodstream/searchservice/internal/app"
	"vodstream/searchservice/internal/metrics"
	"vodstream/searchservice/internal/providers/maccms"
	"vodstream/searchservice/internal/search"
	"vodstream/searchservice/internal/sources"
	"vodstream/searchservice/internal/telemetry"
)

const serviceName = "vod-search"

func main() {
	cfg := app.LoadConfig()
	logger, closeLog := newLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer closeLog()
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, logger)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("logFile", cfg.LogFile.Path),
		slog.String("sourceConfig", cfg.SourceConfigFile),
		slog.Duration("sourceTimeout", cfg.SourceTimeout),
		slog.Int("maxPages", cfg.MaxPages),
		slog.Int("maxConcurrentSources", cfg.MaxConcurrentSources),
		slog.Bool("parallelPages", cfg.ParallelPages),
		slog.Bool("contentFilter", cfg.ContentFilter),
		slog.Float64("sourceRateLimitRps", cfg.SourceRateLimitRPS),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Bool("hasAuthSecret", cfg.AuthSecret != ""),
	)

	sourceConfig := sources.Config{
		Path: cfg.SourceConfigFile,
		Defaults: sources.Defaults{
			MaxPages:      cfg.MaxPages,
			FilterEnabled: cfg.ContentFilter,
			CacheTime:     cfg.CacheTime,
		},
		Logger: logger,
	}
	if store := buildRuntimeStore(cfg, logger); store != nil {
		sourceConfig.Store = store
	}
	provider := sources.NewProvider(sourceConfig)
	if _, err := provider.Snapshot(context.Background()); err != nil {
		logger.Error("source config unavailable", slog.String("path", cfg.SourceConfigFile), slog.String("error", err.Error()))
		os.Exit(1)
	}

	client := maccms.NewClient(maccms.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.SourceTimeout,
		Client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Logger:    logger,
	})

	searchService := search.NewService(provider, client,
		search.WithTimeout(cfg.SourceTimeout),
		search.WithParallelPages(cfg.ParallelPages),
		search.WithMaxConcurrentSources(cfg.MaxConcurrentSources),
		search.WithSourceRateLimit(cfg.SourceRateLimitRPS, cfg.SourceRateLimitBurst),
		search.WithLogger(logger),
	)

	handler := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithSourceSettings(searchService),
		apihttp.WithAuthSecret(cfg.AuthSecret),
		apihttp.WithRateLimit(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streamed searches run as long as the slowest source.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("vod search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.SourceTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("vod search service stopped")
}

func newLogger(levelRaw, formatRaw string, file app.LogFileConfig) (*slog.Logger, func()) {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if path := strings.TrimSpace(file.Path); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, options)), closeFn
	}
	return slog.New(slog.NewTextHandler(out, options)), closeFn
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildRuntimeStore(cfg app.Config, logger *slog.Logger) *sources.RedisRuntimeStore {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		logger.Info("runtime source settings disabled: no redis url")
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("runtime source settings disabled: invalid redis url", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("runtime source settings disabled: redis unavailable", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return sources.NewRedisRuntimeStore(client, "")
}
