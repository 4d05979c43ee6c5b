// Package orchestrator runs one inbound payment or refund request end to end:
// it checks the request metadata, guards refunds against concurrent
// submission, dispatches to the gateway, shapes the caller-facing response,
// and records the audit entry and result event.
package orchestrator

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/context"
	"github.com/yourorg/payment-gateway/internal/events"
	"github.com/yourorg/payment-gateway/internal/lock"
	"github.com/yourorg/payment-gateway/internal/reporting"
)

const tracerName = "github.com/yourorg/payment-gateway/internal/orchestrator"

// Response detail texts.
const (
	DetailIncompleteRequest = "Incomplete request"
	DetailPaymentApproved   = "Transaction approved"
	DetailRefundProcessed   = "Refund successfully processed"
	DetailUnknownPayment    = "The provided payment transaction id does not exist"
	DetailRefundInProgress  = "A refund for this payment transaction is already in progress."
	DetailLockUnavailable   = "Unable to confirm that no other refund is in progress for this payment transaction."
)

// Dispatcher executes a request against its gateway and always returns a Result.
type Dispatcher interface {
	ProcessPayment(ctx stdcontext.Context, req adapter.PaymentRequest) adapter.Result
	ProcessRefund(ctx stdcontext.Context, req adapter.RefundRequest) adapter.Result
}

// Invocation describes how the request arrived.
type Invocation struct {
	RequestURI string
	Method     string
	MetaHeader string // raw X-Request-Meta value
}

// Response is the caller-facing body. The gateway audit trail is never part of it.
type Response struct {
	Operation             string
	Success               bool
	TransactionID         *string
	StatusCode            *string
	GatewayHTTPStatusCode *int // nil when no gateway was involved
	ResponseMessage       *string
	ResponseDetail        string
	MerchantAccountID     string
}

type responseFields struct {
	StatusCode            *string `json:"statusCode"`
	GatewayHTTPStatusCode *int    `json:"gatewayHttpStatusCode"`
	ResponseMessage       *string `json:"responseMessage"`
	ResponseDetail        string  `json:"responseDetail"`
	MerchantAccountID     string  `json:"merchantAccountId"`
}

// MarshalJSON names the transaction id after the operation:
// paymentTransactionId or refundTransactionId.
func (r Response) MarshalJSON() ([]byte, error) {
	fields := responseFields{
		StatusCode:            r.StatusCode,
		GatewayHTTPStatusCode: r.GatewayHTTPStatusCode,
		ResponseMessage:       r.ResponseMessage,
		ResponseDetail:        r.ResponseDetail,
		MerchantAccountID:     r.MerchantAccountID,
	}
	if r.Operation == reporting.OperationRefund {
		return json.Marshal(struct {
			Success             bool    `json:"success"`
			RefundTransactionID *string `json:"refundTransactionId"`
			responseFields
		}{r.Success, r.TransactionID, fields})
	}
	return json.Marshal(struct {
		Success              bool    `json:"success"`
		PaymentTransactionID *string `json:"paymentTransactionId"`
		responseFields
	}{r.Success, r.TransactionID, fields})
}

// Outcome is what the HTTP surface and CLI render.
type Outcome struct {
	HTTPStatus int
	Body       Response
	// Result is the full gateway result, audit trail included. It is zero
	// when no gateway was involved.
	Result adapter.Result
}

// Service is safe for concurrent use.
type Service struct {
	dispatcher  Dispatcher
	locker      lock.Locker
	publisher   events.Publisher
	auditLogger *zap.Logger
	logger      *zap.Logger
	tracer      trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLocker sets the in-flight refund guard.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithPublisher sets the result event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithAuditLogger sets where audit entries are written.
func WithAuditLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.auditLogger = logger
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a Service.
func NewService(d Dispatcher, opts ...Option) *Service {
	if d == nil {
		panic("Dispatcher cannot be nil")
	}
	s := &Service{
		dispatcher:  d,
		locker:      lock.NewMemoryLocker(lock.DefaultTTL),
		publisher:   events.NopPublisher{},
		auditLogger: zap.NewNop(),
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessPayment handles one payment request.
func (s *Service) ProcessPayment(ctx stdcontext.Context, inv Invocation, req adapter.PaymentRequest) Outcome {
	return s.run(ctx, inv, request{
		operation:         reporting.OperationPayment,
		gatewayType:       req.GatewayType,
		merchantAccountID: req.MerchantAccountID,
		data:              reporting.SanitizePayment(req),
		dispatch: func(ctx stdcontext.Context) adapter.Result {
			return s.dispatcher.ProcessPayment(ctx, req)
		},
	})
}

// ProcessRefund handles one refund request. Only one refund per payment
// transaction may be in flight at a time.
func (s *Service) ProcessRefund(ctx stdcontext.Context, inv Invocation, req adapter.RefundRequest) Outcome {
	return s.run(ctx, inv, request{
		operation:         reporting.OperationRefund,
		gatewayType:       req.GatewayType,
		merchantAccountID: req.MerchantAccountID,
		lockKey:           lock.RefundKey(req.GatewayType, req.PaymentTransactionID),
		data:              reporting.SanitizeRefund(req),
		dispatch: func(ctx stdcontext.Context) adapter.Result {
			return s.dispatcher.ProcessRefund(ctx, req)
		},
	})
}

type request struct {
	operation         string
	gatewayType       adapter.GatewayType
	merchantAccountID string
	lockKey           string
	data              reporting.RequestData
	dispatch          func(stdcontext.Context) adapter.Result
}

func (s *Service) run(ctx stdcontext.Context, inv Invocation, r request) Outcome {
	ctx, span := s.tracer.Start(ctx, "Service."+r.operation, trace.WithAttributes(
		attribute.String("operation", r.operation),
		attribute.Int("gateway_type", int(r.gatewayType)),
	))
	defer span.End()

	traceCtx, meta, err := context.BuildContexts(inv.MetaHeader)
	if err != nil {
		s.logger.Warn("Rejected request without valid metadata", zap.String("operation", r.operation), zap.Error(err))
		out := s.local(r, http.StatusBadRequest, DetailIncompleteRequest)
		s.audit(inv, meta, r, out)
		return out
	}
	for k, v := range traceCtx.Baggage {
		span.SetAttributes(attribute.String(k, v))
	}
	logger := s.logger.With(
		zap.String("trace_id", traceCtx.TraceID),
		zap.String("transaction_id", meta.TransactionID),
		zap.String("tenant_id", meta.TenantID),
		zap.String("operation", r.operation),
	)

	if r.lockKey != "" {
		release, err := s.locker.Acquire(ctx, r.lockKey)
		switch {
		case errors.Is(err, lock.ErrLocked):
			logger.Info("Refund already in progress", zap.String("lock_key", r.lockKey))
			out := s.local(r, http.StatusConflict, DetailRefundInProgress)
			s.audit(inv, meta, r, out)
			return out
		case err != nil:
			logger.Error("Refund lock unavailable", zap.String("lock_key", r.lockKey), zap.Error(err))
			out := s.local(r, http.StatusServiceUnavailable, DetailLockUnavailable)
			s.audit(inv, meta, r, out)
			return out
		}
		defer release()
	}

	result := r.dispatch(ctx)
	out := s.shape(r, result)
	span.SetAttributes(attribute.Int("http_status", out.HTTPStatus))

	s.audit(inv, meta, r, out)
	eventType := events.TypePaymentProcessed
	if r.operation == reporting.OperationRefund {
		eventType = events.TypeRefundProcessed
	}
	if err := s.publisher.Publish(ctx, events.NewEvent(eventType, r.gatewayType, result)); err != nil {
		logger.Warn("Failed to publish result event", zap.Error(err))
	}

	logger.Info("Request processed",
		zap.Int("http_status", out.HTTPStatus),
		zap.Bool("success", result.Success),
	)
	return out
}

// local builds an outcome for a request rejected before dispatch.
func (s *Service) local(r request, status int, detail string) Outcome {
	return Outcome{
		HTTPStatus: status,
		Body: Response{
			Operation:         r.operation,
			ResponseDetail:    detail,
			MerchantAccountID: r.merchantAccountID,
		},
	}
}

// shape maps a gateway result onto the caller-facing outcome. Gateway 5xx
// statuses are reported as 400, since a 5xx from this service would read as
// this service being broken.
func (s *Service) shape(r request, result adapter.Result) Outcome {
	status := int(result.Status)
	if result.Status.IsServerError() {
		status = http.StatusBadRequest
	}

	var detail string
	switch {
	case status == http.StatusOK && r.operation == reporting.OperationRefund:
		detail = DetailRefundProcessed
	case status == http.StatusOK:
		detail = DetailPaymentApproved
	case result.Kind == adapter.KindPrecondition:
		detail = result.Message
	case r.operation == reporting.OperationRefund && r.gatewayType == adapter.GatewayPayload && status == http.StatusNotFound:
		detail = DetailUnknownPayment
	case r.operation == reporting.OperationRefund:
		detail = fmt.Sprintf("Error encountered during refund request to %s refund processing endpoint", r.gatewayType)
	default:
		detail = fmt.Sprintf("Error encountered during payment attempt to %s payment processing endpoint", r.gatewayType)
	}

	responseDetail := detail
	if result.Message != "" {
		responseDetail = result.Message
	}
	var gatewayStatus *int
	if result.Kind != adapter.KindPrecondition {
		code := int(result.Status)
		gatewayStatus = &code
	}
	merchant := result.MerchantAccountID
	if merchant == "" {
		merchant = r.merchantAccountID
	}

	return Outcome{
		HTTPStatus: status,
		Body: Response{
			Operation:             r.operation,
			Success:               result.Success,
			TransactionID:         result.TransactionID,
			StatusCode:            result.GatewayStatus,
			GatewayHTTPStatusCode: gatewayStatus,
			ResponseMessage:       adapter.StringPtr(result.Message),
			ResponseDetail:        responseDetail,
			MerchantAccountID:     merchant,
		},
		Result: result,
	}
}

func (s *Service) audit(inv Invocation, meta context.RequestMeta, r request, out Outcome) {
	data := r.data
	if out.HTTPStatus != http.StatusOK {
		data.Status = out.Body.ResponseDetail
	}
	gateway := ""
	if r.gatewayType.Known() {
		gateway = r.gatewayType.String()
	}
	reporting.Emit(s.auditLogger, reporting.NewAuditEntry(meta, reporting.AuditData{
		RequestURI:          inv.RequestURI,
		RequestType:         inv.Method,
		Operation:           r.operation,
		Gateway:             gateway,
		RequestData:         data,
		ResponseDetail:      out.Body,
		GatewayResponseData: out.Result.GatewayResponseData,
		HTTPResponseCode:    out.HTTPStatus,
	}))
}
