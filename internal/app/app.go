// Package app assembles the service from configuration. It is shared by the
// HTTP server and the gatewayctl CLI.
package app

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/circuitbreaker"
	"github.com/yourorg/payment-gateway/internal/config"
	"github.com/yourorg/payment-gateway/internal/events"
	"github.com/yourorg/payment-gateway/internal/lock"
	"github.com/yourorg/payment-gateway/internal/orchestrator"
	"github.com/yourorg/payment-gateway/internal/policy"
	"github.com/yourorg/payment-gateway/internal/processor"
)

// App holds the assembled components and the resources they own.
type App struct {
	Service    *orchestrator.Service
	Dispatcher *processor.Dispatcher
	Breaker    *circuitbreaker.CircuitBreaker // nil when disabled

	closers []func() error
}

// Options adjusts what New builds. Zero values are valid.
type Options struct {
	Registerer  prometheus.Registerer // nil skips metric registration
	AuditLogger *zap.Logger
	HTTPClient  *http.Client
	// Extra dispatcher options, applied last.
	DispatcherOptions []processor.Option
}

// New builds the dispatcher, refund guard, event publisher and service.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{}

	retry, err := policy.NewRetryPolicy(cfg.Retry.Rules,
		policy.WithMaxAttempts(cfg.Retry.MaxAttempts),
		policy.WithBackoff(cfg.Retry.Backoff),
		policy.WithLogger(logger.Named("retry")),
	)
	if err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	dopts := []processor.Option{
		processor.WithCardConnectHost(cfg.CardConnectHostname),
		processor.WithPayloadBaseURL(cfg.PayloadAPIURL),
		processor.WithTimeout(cfg.GatewayTimeout),
		processor.WithRetryDecider(retry),
		processor.WithMetrics(opts.Registerer),
		processor.WithLogger(logger.Named("dispatcher")),
	}
	if opts.HTTPClient != nil {
		dopts = append(dopts, processor.WithHTTPClient(opts.HTTPClient))
	}
	if cfg.BreakerEnabled() {
		a.Breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.OpenTimeout,
		})
		dopts = append(dopts, processor.WithCircuitBreaker(a.Breaker))
	}
	a.Dispatcher = processor.NewDispatcher(append(dopts, opts.DispatcherOptions...)...)

	locker, err := a.newLocker(cfg, logger)
	if err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic), logger.Named("events"))
		a.closers = append(a.closers, kp.Close)
		publisher = kp
	}

	a.Service = orchestrator.NewService(a.Dispatcher,
		orchestrator.WithLocker(locker),
		orchestrator.WithPublisher(publisher),
		orchestrator.WithAuditLogger(opts.AuditLogger),
		orchestrator.WithLogger(logger.Named("orchestrator")),
	)
	return a, nil
}

func (a *App) newLocker(cfg *config.Config, logger *zap.Logger) (lock.Locker, error) {
	if cfg.RedisURL == "" {
		return lock.NewMemoryLocker(cfg.RefundLockTTL), nil
	}
	var ropts *redis.Options
	if strings.Contains(cfg.RedisURL, "://") {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		ropts = parsed
	} else {
		ropts = &redis.Options{Addr: cfg.RedisURL}
	}
	client := redis.NewClient(ropts)
	a.closers = append(a.closers, client.Close)
	return lock.NewRedisLocker(client, cfg.RefundLockTTL, lock.WithLogger(logger.Named("lock"))), nil
}

// BreakerStatus reports the circuit state per gateway. It is empty when the
// breaker is disabled.
func (a *App) BreakerStatus() map[string]string {
	status := map[string]string{}
	if a.Breaker == nil {
		return status
	}
	for _, gt := range []adapter.GatewayType{adapter.GatewayPayload, adapter.GatewayCardConnect} {
		state, _ := a.Breaker.GetProviderStatus(gt.String())
		status[gt.String()] = state.String()
	}
	return status
}

// Close releases owned resources in reverse order of creation.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
