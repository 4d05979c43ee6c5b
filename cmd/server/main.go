package main

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/app"
	"github.com/yourorg/payment-gateway/internal/config"
	"github.com/yourorg/payment-gateway/internal/telemetry"
)

const serviceName = telemetry.ServiceName

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "payment-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	auditLogger, closeAudit, err := telemetry.NewAuditLogger(cfg.AuditLogPath)
	if err != nil {
		return err
	}
	defer closeAudit()

	shutdownTracing, err := telemetry.InitTracing(stdcontext.Background(), telemetry.TracingConfig{
		Enabled:      cfg.TracesEnabled,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error("Tracer shutdown failed", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	application, err := app.New(cfg, logger, app.Options{Registerer: registry, AuditLogger: auditLogger})
	if err != nil {
		return err
	}
	defer application.Close()

	srv, err := newServer(application.Service, registry, application.BreakerStatus, logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Payment gateway starting", zap.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down server...")
	// In-flight gateway calls may take up to the gateway timeout.
	ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), cfg.GatewayTimeout+5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
	return nil
}
