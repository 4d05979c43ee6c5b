package context

import (
	"github.com/google/uuid"
)

// Baggage keys copied from the request metadata.
const (
	BaggageTransactionID = "transaction_id"
	BaggageTenantID      = "tenant_id"
	BaggageUserID        = "user_id"
)

// TraceContext carries only cross-cutting concerns needed for observability.
type TraceContext struct {
	TraceID string            // Globally unique ID for logs and events
	SpanID  string            // Current span identifier
	Baggage map[string]string // Correlation data copied from request metadata
}

// NewTraceContext creates a new TraceContext with a unique TraceID and an initial SpanID.
func NewTraceContext() TraceContext {
	return TraceContext{
		TraceID: uuid.NewString(),
		SpanID:  uuid.NewString(),
		Baggage: make(map[string]string),
	}
}

// WithMeta copies the request metadata into the baggage.
func (tc TraceContext) WithMeta(meta RequestMeta) TraceContext {
	if tc.Baggage == nil {
		tc.Baggage = make(map[string]string)
	}
	tc.Baggage[BaggageTransactionID] = meta.TransactionID
	tc.Baggage[BaggageTenantID] = meta.TenantID
	tc.Baggage[BaggageUserID] = meta.UserID
	return tc
}
