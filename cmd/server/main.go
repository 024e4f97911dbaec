package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"persona-chat/backend/pkg/config"
	"persona-chat/backend/pkg/di"
	"persona-chat/backend/pkg/health"
	"persona-chat/backend/pkg/logger"
	"persona-chat/backend/pkg/router"
	"persona-chat/backend/shared/observability"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.LogError(err, "Server exited with error")
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.TracingEnabled {
		shutdownTracing, err := observability.SetupTracing("persona-chat", os.Stdout)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				log.LogError(err, "Failed to flush traces")
			}
		}()
	}

	container, err := di.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.LogError(err, "Failed to release resources")
		}
	}()

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	container.Health.Start(healthCtx)

	r := router.New(container)
	defer r.Close()
	r.AddOpenAPIValidation(cfg.Observability.OpenAPISchema)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r.Engine,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *health.GRPCServer
	if cfg.Observability.GRPCHealthPort != "" {
		grpcSrv, err = health.ListenGRPC(":"+cfg.Observability.GRPCHealthPort, container.Health, log)
		if err != nil {
			return err
		}
		go func() {
			if err := grpcSrv.Serve(); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-errCh:
		log.LogError(err, "Listener failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	container.Health.Shutdown()
	// Hijacked WebSocket connections are not closed by srv.Shutdown.
	container.Registry.Shutdown()
	if grpcSrv != nil {
		grpcSrv.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
