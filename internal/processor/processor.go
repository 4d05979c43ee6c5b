// Package processor holds the Dispatcher: it resolves the Gateway for a
// request by gateway type, enforces the credential precondition, and wraps
// every call with a circuit breaker, metrics, tracing and logging.
package processor

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/adapter/cardconnect"
	"github.com/yourorg/payment-gateway/internal/adapter/payload"
	"github.com/yourorg/payment-gateway/internal/circuitbreaker"
	"github.com/yourorg/payment-gateway/internal/context"
)

const tracerName = "github.com/yourorg/payment-gateway/internal/processor"

// ErrUnknownGatewayType is returned by Resolve for a type outside the
// supported set.
var ErrUnknownGatewayType = errors.New("Unknown payment gateway type")

// MissingCredentialsError is returned by Resolve when the credential mapping
// lacks keys the gateway requires.
type MissingCredentialsError struct {
	Gateway adapter.GatewayType
	Missing []string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("Required credentials for %s are not present: %s", e.Gateway, strings.Join(e.Missing, ", "))
}

// Factory builds a Gateway from one request's credentials. The transport is
// shared and holds no credentials.
type Factory func(creds context.Credentials, transport *adapter.Transport, logger *zap.Logger) adapter.Gateway

// Dispatcher is safe for concurrent use. It keeps no per-request state; every
// call constructs a fresh adapter.
type Dispatcher struct {
	cardConnectBaseURL string
	payloadBaseURL     string
	client             *http.Client
	retry              adapter.RetryDecider
	breaker            *circuitbreaker.CircuitBreaker
	metrics            *metrics
	tracer             trace.Tracer
	logger             *zap.Logger
	factories          map[adapter.GatewayType]Factory
	transports         map[adapter.GatewayType]*adapter.Transport
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCardConnectHost points the CardConnect adapter at a host such as
// cardconnect.UATHost.
func WithCardConnectHost(host string) Option {
	return func(d *Dispatcher) {
		if host != "" {
			d.cardConnectBaseURL = "https://" + host + "/cardconnect/rest"
		}
	}
}

// WithCardConnectBaseURL sets the full CardConnect REST base URL.
func WithCardConnectBaseURL(baseURL string) Option {
	return func(d *Dispatcher) {
		if baseURL != "" {
			d.cardConnectBaseURL = baseURL
		}
	}
}

// WithPayloadBaseURL sets the Payload API base URL.
func WithPayloadBaseURL(baseURL string) Option {
	return func(d *Dispatcher) {
		if baseURL != "" {
			d.payloadBaseURL = baseURL
		}
	}
}

// WithTimeout bounds each upstream attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.client = &http.Client{Timeout: timeout}
		}
	}
}

// WithHTTPClient sets the upstream HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryDecider sets the upstream retry policy.
func WithRetryDecider(r adapter.RetryDecider) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.retry = r
		}
	}
}

// WithCircuitBreaker enables the per-gateway circuit breaker.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(d *Dispatcher) {
		d.breaker = cb
	}
}

// WithMetrics registers the dispatcher metrics with reg.
func WithMetrics(reg Registerer) Option {
	return func(d *Dispatcher) {
		d.metrics = newMetrics(reg)
	}
}

// WithTracer overrides the tracer used for dispatch spans and the upstream
// call spans beneath them.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithFactory replaces how the gateway of type gt is constructed. The
// credential precondition is still enforced before f is called.
func WithFactory(gt adapter.GatewayType, f Factory) Option {
	return func(d *Dispatcher) {
		if f != nil {
			d.factories[gt] = f
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cardConnectBaseURL: "https://" + cardconnect.ProductionHost + "/cardconnect/rest",
		payloadBaseURL:     payload.DefaultBaseURL,
		client:             &http.Client{Timeout: adapter.DefaultTimeout},
		retry:              adapter.NoRetry{},
		metrics:            newMetrics(nil),
		tracer:             otel.Tracer(tracerName),
		logger:             zap.NewNop(),
		factories:          make(map[adapter.GatewayType]Factory),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.transports = make(map[adapter.GatewayType]*adapter.Transport)
	for _, gt := range []adapter.GatewayType{adapter.GatewayPayload, adapter.GatewayCardConnect} {
		d.transports[gt] = adapter.NewTransport(gt.String(),
			adapter.WithHTTPClient(d.client),
			adapter.WithRetryDecider(d.retry),
			adapter.WithLogger(d.logger),
			adapter.WithTracer(d.tracer),
		)
	}
	return d
}

// Resolve returns the Gateway for gt built from creds. It fails, without
// constructing anything, when gt is unknown or creds lack a required key.
func (d *Dispatcher) Resolve(gt adapter.GatewayType, creds context.Credentials) (adapter.Gateway, error) {
	var (
		required []string
		build    Factory
	)
	switch gt {
	case adapter.GatewayPayload:
		required = payload.RequiredCredentials
		build = func(creds context.Credentials, t *adapter.Transport, logger *zap.Logger) adapter.Gateway {
			return payload.New(creds,
				payload.WithBaseURL(d.payloadBaseURL),
				payload.WithTransport(t),
				payload.WithLogger(logger),
			)
		}
	case adapter.GatewayCardConnect:
		required = cardconnect.RequiredCredentials
		build = func(creds context.Credentials, t *adapter.Transport, logger *zap.Logger) adapter.Gateway {
			return cardconnect.New(creds,
				cardconnect.WithBaseURL(d.cardConnectBaseURL),
				cardconnect.WithTransport(t),
				cardconnect.WithLogger(logger),
			)
		}
	default:
		return nil, ErrUnknownGatewayType
	}

	if missing := creds.Missing(required); len(missing) > 0 {
		return nil, &MissingCredentialsError{Gateway: gt, Missing: missing}
	}
	if f, ok := d.factories[gt]; ok {
		build = f
	}
	return build(creds, d.transports[gt], d.logger.With(zap.String("gateway", gt.String()))), nil
}

// ProcessPayment dispatches a payment. It always returns a Result.
func (d *Dispatcher) ProcessPayment(ctx stdcontext.Context, req adapter.PaymentRequest) adapter.Result {
	return d.dispatch(ctx, "payment", req.GatewayType, req.Credentials, req.MerchantAccountID, "",
		func(ctx stdcontext.Context, gw adapter.Gateway) adapter.Result {
			return gw.ProcessPayment(ctx, req)
		})
}

// ProcessRefund dispatches a refund. It always returns a Result; the payment
// transaction id is echoed when the refund could not be attempted.
func (d *Dispatcher) ProcessRefund(ctx stdcontext.Context, req adapter.RefundRequest) adapter.Result {
	return d.dispatch(ctx, "refund", req.GatewayType, req.Credentials, req.MerchantAccountID, req.PaymentTransactionID,
		func(ctx stdcontext.Context, gw adapter.Gateway) adapter.Result {
			return gw.ProcessRefund(ctx, req)
		})
}

func (d *Dispatcher) dispatch(
	ctx stdcontext.Context,
	operation string,
	gt adapter.GatewayType,
	creds context.Credentials,
	merchantAccountID string,
	knownTransactionID string,
	call func(stdcontext.Context, adapter.Gateway) adapter.Result,
) adapter.Result {
	start := time.Now()
	gateway := gt.String()

	ctx, span := d.tracer.Start(ctx, "Dispatcher."+operation, trace.WithAttributes(
		attribute.String("gateway", gateway),
		attribute.String("operation", operation),
		attribute.String("merchant_account_id", merchantAccountID),
	))
	defer span.End()

	var result adapter.Result
	gw, err := d.Resolve(gt, creds)
	switch {
	case err != nil:
		result = adapter.Result{
			Status:        adapter.StatusBadRequest,
			Kind:          adapter.KindPrecondition,
			Message:       err.Error(),
			TransactionID: adapter.StringPtr(knownTransactionID),
		}
	case d.breaker != nil && !d.breaker.AllowRequest(gateway):
		result = adapter.Result{
			Status:        adapter.StatusServiceUnavailable,
			Kind:          adapter.KindTransport,
			Message:       gateway + " is temporarily unavailable",
			TransactionID: adapter.StringPtr(knownTransactionID),
		}
	default:
		result = call(ctx, gw)
		if d.breaker != nil {
			if result.UpstreamFault() {
				d.breaker.RecordFailure(gateway)
			} else {
				d.breaker.RecordSuccess(gateway)
			}
		}
	}
	if result.MerchantAccountID == "" {
		result.MerchantAccountID = merchantAccountID
	}

	status := strconv.Itoa(int(result.Status))
	d.metrics.observe(gateway, operation, status, time.Since(start))

	span.SetAttributes(
		attribute.Int("status", int(result.Status)),
		attribute.Bool("success", result.Success),
	)
	fields := []zap.Field{
		zap.String("gateway", gateway),
		zap.String("operation", operation),
		zap.String("merchant_account_id", merchantAccountID),
		zap.Int("status", int(result.Status)),
		zap.String("transaction_id", adapter.Deref(result.TransactionID)),
		zap.Duration("duration", time.Since(start)),
	}
	if result.Success {
		span.SetStatus(codes.Ok, "")
		d.logger.Info("gateway request completed", fields...)
	} else {
		span.SetStatus(codes.Error, result.Message)
		d.logger.Warn("gateway request failed",
			append(fields, zap.String("error_kind", string(result.Kind)), zap.String("message", result.Message))...)
	}
	return result
}
