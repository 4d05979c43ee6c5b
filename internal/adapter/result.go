package adapter

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Status is the canonical HTTP-style status every gateway outcome maps onto.
type Status int

const (
	StatusApproved            Status = 200
	StatusBadRequest          Status = 400
	StatusUnauthorized        Status = 401
	StatusForbidden           Status = 403
	StatusNotFound            Status = 404
	StatusConflict            Status = 409
	StatusInvalidAttributes   Status = 422
	StatusTooManyRequests     Status = 429
	StatusInternalServerError Status = 500
	StatusServiceUnavailable  Status = 503
)

var statusByName = map[string]Status{
	"Approved":            StatusApproved,
	"BadRequest":          StatusBadRequest,
	"Unauthorized":        StatusUnauthorized,
	"Forbidden":           StatusForbidden,
	"NotFound":            StatusNotFound,
	"Conflict":            StatusConflict,
	"InvalidAttributes":   StatusInvalidAttributes,
	"TooManyRequests":     StatusTooManyRequests,
	"InternalServerError": StatusInternalServerError,
	"ServiceUnavailable":  StatusServiceUnavailable,
}

// StatusByName resolves a canonical status from its enumeration name
// (e.g., "InvalidAttributes"). Vendors that report faults by type name use it.
func StatusByName(name string) (Status, bool) {
	s, ok := statusByName[name]
	return s, ok
}

// IsServerError reports whether s is in the 5xx range.
func (s Status) IsServerError() bool {
	return s >= 500 && s <= 599
}

// ErrorKind classifies why a Result is not a success. Callers may use it for
// logging and metrics; it is derived from control flow, never from the audit trail.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindPrecondition ErrorKind = "precondition"
	KindTransport    ErrorKind = "transport"
	KindDecline      ErrorKind = "decline"
	KindInternal     ErrorKind = "internal"
)

// Result is the canonical outcome of a payment or refund. It is shared by all
// gateways.
type Result struct {
	Success           bool    `json:"success"`
	TransactionID     *string `json:"transactionId"`
	Status            Status  `json:"gatewayHttpStatusCode"`
	GatewayStatus     *string `json:"statusCode"`
	Message           string  `json:"responseMessage"`
	MerchantAccountID string  `json:"merchantAccountId"`
	// Kind is KindNone on success.
	Kind ErrorKind `json:"errorKind,omitempty"`
	// Unreachable is set when no reply was received from the gateway.
	Unreachable bool `json:"-"`
	// GatewayResponseData holds every raw upstream fragment seen while producing
	// the result, in order. It is for humans and logs only.
	GatewayResponseData AuditTrail `json:"gatewayResponseData"`
}

// UpstreamFault reports whether the result indicates the gateway itself is
// unhealthy: a 5xx, rate limiting, or no reply at all. Other 4xx replies are
// rejections of the request and never count.
func (r Result) UpstreamFault() bool {
	return r.Status.IsServerError() || r.Status == StatusTooManyRequests || r.Unreachable
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Truncate shortens s to at most n characters (runes), never splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// AuditTrail is the ordered list of raw upstream response fragments.
type AuditTrail []any

// AppendBody records an upstream response body. JSON bodies are kept decoded;
// anything else is kept verbatim behind a note explaining why decoding failed.
func (a AuditTrail) AppendBody(body []byte) AuditTrail {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return append(a, fmt.Sprintf("error decoding string into json: %v", err), string(body))
	}
	return append(a, decoded)
}

// AppendFault records an unexpected fault with the operation it happened in.
func (a AuditTrail) AppendFault(operation string, err error) AuditTrail {
	return append(a, fmt.Sprintf("%s exception: %v", operation, err))
}
