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

	"github.com/homenavi/llm-service-bridge/internal/config"
	"github.com/homenavi/llm-service-bridge/internal/hass"
	"github.com/homenavi/llm-service-bridge/internal/httpapi"
	"github.com/homenavi/llm-service-bridge/internal/llmapi"
	"github.com/homenavi/llm-service-bridge/internal/mcpserver"
	"github.com/homenavi/llm-service-bridge/internal/mqtt"
	"github.com/homenavi/llm-service-bridge/internal/observability"
	"github.com/homenavi/llm-service-bridge/internal/policy"
	"github.com/homenavi/llm-service-bridge/internal/redisbus"
	"github.com/homenavi/llm-service-bridge/internal/servicecall"
)

const serviceName = "llm-service-bridge"

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		slog.Error("policy load failed", "path", cfg.PolicyPath, "error", err)
		os.Exit(1)
	}

	shutdownTracing, tracer, err := observability.SetupTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	metrics := observability.NewMetrics(serviceName)

	bus, closer, err := newBus(ctx, cfg)
	if err != nil {
		slog.Error("bus init failed", "bus", cfg.BusKind, "error", err)
		os.Exit(1)
	}

	calls := servicecall.NewHandler(pol, bus,
		servicecall.WithSubmissionDeadline(cfg.SubmissionDeadline),
		servicecall.WithObserver(metrics),
		servicecall.WithLogger(slog.Default().With("component", "servicecall")),
	)
	registry := llmapi.NewRegistry()
	llmapi.EnsureRegistered(registry, calls)

	mcpSrv := mcpserver.New(registry, version)
	handler := httpapi.NewHandler(registry, mcpSrv.Handler(), cfg.BusKind)
	router := httpapi.NewRouter(handler, cfg, metrics, tracer)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("llm-service-bridge started", "port", cfg.Port, "bus", cfg.BusKind, "submission_deadline", cfg.SubmissionDeadline.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	if err := closer.Close(); err != nil {
		slog.Warn("bus close failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown failed", "error", err)
	}
	slog.Info("llm api unloaded", "api", llmapi.ServicesAPIID)
}

func newBus(ctx context.Context, cfg *config.Config) (servicecall.Bus, io.Closer, error) {
	switch cfg.BusKind {
	case config.BusMQTT:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mqtt.New(connectCtx, mqtt.Options{BrokerURL: cfg.MQTTBrokerURL, ClientID: cfg.MQTTClientID})
		if err != nil {
			return nil, nil, err
		}
		return mqtt.NewBus(client, cfg.MQTTTopicPrefix, byte(cfg.MQTTQoS)), client, nil
	case config.BusRedis:
		rdb, err := redisbus.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		return redisbus.New(rdb, cfg.RedisStream, redisbus.DefaultMaxLen), rdb, nil
	default:
		client := hass.NewClient(cfg.HassWSURL, cfg.HassToken)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.Connect(connectCtx); err != nil {
			// The client reconnects on the next dispatch.
			slog.Warn("home assistant not reachable at startup", "url", cfg.HassWSURL, "error", err)
		}
		return client, client, nil
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
