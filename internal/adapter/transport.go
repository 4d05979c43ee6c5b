package adapter

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single upstream attempt when no client is supplied.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 1 << 20
	tracerName       = "github.com/yourorg/payment-gateway/internal/adapter"
)

// RetryAttempt describes a finished upstream attempt so a RetryDecider can
// judge whether to try again.
type RetryAttempt struct {
	Gateway    string
	Operation  string
	Method     string
	Attempt    int   // attempts made so far, starting at 1
	StatusCode int   // 0 when no response was received
	Err        error // connection-level error, if any
}

// RetryDecider decides whether an upstream call is attempted again and how long
// to wait first.
type RetryDecider interface {
	ShouldRetry(a RetryAttempt) (bool, time.Duration)
}

// NoRetry makes every upstream call a single attempt.
type NoRetry struct{}

// ShouldRetry always declines.
func (NoRetry) ShouldRetry(RetryAttempt) (bool, time.Duration) { return false, 0 }

// Call is one upstream JSON request.
type Call struct {
	Operation string // e.g. "auth", "inquire"; used in logs, spans and retry rules
	Method    string
	URL       string
	Body      any // JSON-encoded when non-nil
	Username  string
	Password  string
}

// Response is the raw upstream reply. A non-2xx status is not an error.
type Response struct {
	StatusCode int
	Body       []byte
	Attempts   int
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport executes upstream calls for one gateway with an explicit timeout
// and retry policy. It holds no credentials; each Call carries its own.
type Transport struct {
	gateway string
	client  *http.Client
	retry   RetryDecider
	tracer  trace.Tracer
	logger  *zap.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHTTPClient sets the HTTP client. Its Timeout bounds each attempt.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithRetryDecider sets the retry policy. The default never retries.
func WithRetryDecider(d RetryDecider) TransportOption {
	return func(t *Transport) {
		if d != nil {
			t.retry = d
		}
	}
}

// WithTracer overrides the tracer used for upstream spans.
func WithTracer(tracer trace.Tracer) TransportOption {
	return func(t *Transport) {
		if tracer != nil {
			t.tracer = tracer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTransport creates a Transport for the named gateway.
func NewTransport(gateway string, opts ...TransportOption) *Transport {
	t := &Transport{
		gateway: gateway,
		client:  &http.Client{Timeout: DefaultTimeout},
		retry:   NoRetry{},
		tracer:  otel.Tracer(tracerName),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do sends the call, retrying while the RetryDecider allows it. A connection
// failure on the last attempt is returned as an error; any HTTP response,
// whatever its status, is returned as a Response.
func (t *Transport) Do(ctx stdcontext.Context, call Call) (*Response, error) {
	var payload []byte
	if call.Body != nil {
		var err error
		payload, err = json.Marshal(call.Body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encoding request body: %w", t.gateway, call.Operation, err)
		}
	}

	ctx, span := t.tracer.Start(ctx, t.gateway+"."+call.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway", t.gateway),
			attribute.String("gateway.operation", call.Operation),
			attribute.String("http.request.method", call.Method),
		),
	)
	defer span.End()

	for attempt := 1; ; attempt++ {
		resp, err := t.attempt(ctx, call, payload)

		decision := RetryAttempt{
			Gateway:   t.gateway,
			Operation: call.Operation,
			Method:    call.Method,
			Attempt:   attempt,
			Err:       err,
		}
		if resp != nil {
			decision.StatusCode = resp.StatusCode
		}

		retry, wait := t.retry.ShouldRetry(decision)
		if !retry || ctx.Err() != nil {
			span.SetAttributes(attribute.Int("gateway.attempts", attempt))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("%s %s: %w", t.gateway, call.Operation, err)
			}
			resp.Attempts = attempt
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
			if resp.StatusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
			}
			return resp, nil
		}

		t.logger.Warn("Retrying upstream call",
			zap.String("gateway", t.gateway),
			zap.String("operation", call.Operation),
			zap.Int("attempt", attempt),
			zap.Int("status", decision.StatusCode),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				span.RecordError(ctx.Err())
				return nil, fmt.Errorf("%s %s: waiting to retry: %w", t.gateway, call.Operation, ctx.Err())
			case <-timer.C:
			}
		}
	}
}

func (t *Transport) attempt(ctx stdcontext.Context, call Call, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if call.Username != "" || call.Password != "" {
		req.SetBasicAuth(call.Username, call.Password)
	}

	start := time.Now()
	httpResp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	t.logger.Debug("Upstream call completed",
		zap.String("gateway", t.gateway),
		zap.String("operation", call.Operation),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	return &Response{StatusCode: httpResp.StatusCode, Body: respBody}, nil
}
