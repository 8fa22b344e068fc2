package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
	audithttp "github.com/odyssey-erp/odyssey-authz/internal/audit/http"
	authzhttp "github.com/odyssey-erp/odyssey-authz/internal/authz/http"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping authzd startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	services, err := app.BuildServices(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer services.Close()

	if err := services.Background(ctx); err != nil {
		logger.Error("start cache maintenance", slog.Any("error", err))
		os.Exit(1)
	}
	go reloadOnHangup(ctx, services, logger)

	denials := audithttp.NewHandler(audithttp.Config{
		Logger:    logger,
		Service:   services.Timeline,
		Guard:     services.Guard.Require("audit", "read"),
		Principal: services.Guard.Principal,
		Tenant:    services.Guard.Tenant,
	})
	router := app.NewRouter(app.RouterParams{
		Logger:    logger,
		Config:    cfg,
		Decisions: authzhttp.NewHandler(logger, services.Engine),
		Denials:   denials,
		Metrics:   metrics,
		Ready:     services.Pool.Ping,
	})

	if err := app.Serve(ctx, app.NewServer(cfg, router), 10*time.Second, logger); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}

// reloadOnHangup re-reads policy files on SIGHUP and drops cached decisions.
func reloadOnHangup(ctx context.Context, services *app.Services, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := services.ReloadPolicy(ctx); err != nil {
				logger.Error("policy reload", slog.Any("error", err))
				continue
			}
			logger.Info("policy reloaded, decision cache cleared")
		}
	}
}
