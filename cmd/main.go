package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/callguard/config"
	"github.com/angeloszaimis/callguard/internal/circuitbreaker"
	"github.com/angeloszaimis/callguard/internal/guard"
	"github.com/angeloszaimis/callguard/internal/handler"
	"github.com/angeloszaimis/callguard/internal/httpserver"
	"github.com/angeloszaimis/callguard/internal/metrics"
	"github.com/angeloszaimis/callguard/internal/ratelimit"
	"github.com/angeloszaimis/callguard/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector, err := metrics.NewCollector(1000, prometheus.DefaultRegisterer, log)
	if err != nil {
		log.Error("Failed to create metrics collector", slog.Any("err", err))
		os.Exit(1)
	}
	collector.Start(ctx)

	limiter, err := ratelimit.NewRateLimiter(limiterConfig(cfg))
	if err != nil {
		log.Error("Failed to create rate limiter", slog.Any("err", err))
		os.Exit(1)
	}

	registry, err := createRegistry(cfg, collector)
	if err != nil {
		log.Error("Failed to create breaker registry", slog.Any("err", err))
		os.Exit(1)
	}

	g := guard.New(log, limiter, registry, collector)

	invokeHandler := handler.NewInvokeHandler(log, g, targetURLs(cfg))
	adminHandler := handler.NewAdminHandler(log, registry, limiter)

	mux := setupRouter(invokeHandler, adminHandler, collector)

	srv, err := httpserver.New(cfg.Server.Address, mux)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("callguard started",
		slog.String("address", cfg.Server.Address),
		slog.Int("targets", len(cfg.Targets)))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting callguard", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func limiterConfig(cfg *config.Config) ratelimit.Config {
	rc := ratelimit.Config{
		Rate:  cfg.RateLimit.Rate,
		Burst: cfg.RateLimit.Burst,
	}

	for _, target := range cfg.Targets {
		if !target.HasRateOverride() {
			continue
		}
		if rc.PerTarget == nil {
			rc.PerTarget = make(map[string]ratelimit.Limit)
		}
		rc.PerTarget[target.Name] = ratelimit.Limit{
			Rate:  target.Rate,
			Burst: target.Burst,
		}
	}

	return rc
}

// createRegistry builds the shared registry from the configured defaults
// and pre-creates breakers for targets carrying their own thresholds.
func createRegistry(cfg *config.Config, collector *metrics.Collector) (*circuitbreaker.Registry, error) {
	resetTimeout, err := time.ParseDuration(cfg.Breaker.ResetTimeout)
	if err != nil {
		return nil, err
	}

	defaults := circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     resetTimeout,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OnStateChange:    onStateChange(collector),
	}

	registry, err := circuitbreaker.NewRegistry(defaults)
	if err != nil {
		return nil, err
	}

	for _, target := range cfg.Targets {
		if !target.HasBreakerOverride() {
			continue
		}

		overrides := defaults
		overrides.FailureThreshold = target.FailureThreshold
		if target.ResetTimeout != "" {
			d, err := time.ParseDuration(target.ResetTimeout)
			if err != nil {
				return nil, err
			}
			overrides.ResetTimeout = d
		}

		if _, err := registry.GetOrCreateWithConfig(target.Name, overrides); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func onStateChange(collector *metrics.Collector) func(name string, from, to circuitbreaker.State) {
	return func(name string, from, to circuitbreaker.State) {
		collector.Emit(metrics.MetricEvent{
			Type:      metrics.EventBreakerStateChanged,
			Timestamp: time.Now(),
			Target:    name,
			State:     to.String(),
		})
	}
}

func targetURLs(cfg *config.Config) map[string]string {
	urls := make(map[string]string, len(cfg.Targets))
	for _, target := range cfg.Targets {
		urls[target.Name] = target.URL
	}
	return urls
}
