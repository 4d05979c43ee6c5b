package reporting

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/context"
)

// ServiceName identifies this service in audit entries.
const ServiceName = "payment_gateway"

// Level is the audit entry level.
type Level string

const (
	LevelAudit Level = "AUDIT" // the gateway approved the request
	LevelError Level = "ERROR"
)

// Operation names used in audit entries and reports.
const (
	OperationPayment = "payment"
	OperationRefund  = "refund"
)

// RequestData is the loggable copy of an inbound request. It never holds the
// card number, CVV or credentials.
type RequestData struct {
	GatewayTypeID        int              `json:"gatewayTypeId"`
	MerchantAccountID    string           `json:"merchantAccountId"`
	MaskedCardNumber     string           `json:"maskedCardNumber,omitempty"`
	ExpDate              string           `json:"expDate,omitempty"`
	Amount               *decimal.Decimal `json:"amount,omitempty"`
	CurrencyType         int              `json:"currencyType,omitempty"`
	Name                 string           `json:"name,omitempty"`
	Street               string           `json:"street,omitempty"`
	City                 string           `json:"city,omitempty"`
	State                string           `json:"state,omitempty"`
	Zip                  string           `json:"zip,omitempty"`
	Country              string           `json:"country,omitempty"`
	Comment              string           `json:"comment,omitempty"`
	UserName             string           `json:"userName,omitempty"`
	UserID               string           `json:"userId,omitempty"`
	PaymentTransactionID string           `json:"paymentTransactionId,omitempty"`
	// Status holds the failure detail text when the request was not approved.
	Status string `json:"status,omitempty"`
}

// MaskCardNumber replaces all but the last four digits with 'x'.
func MaskCardNumber(account string) string {
	if len(account) <= 4 {
		return account
	}
	return strings.Repeat("x", len(account)-4) + account[len(account)-4:]
}

// SanitizePayment copies the loggable fields of a payment request.
func SanitizePayment(req adapter.PaymentRequest) RequestData {
	amount := req.Amount
	return RequestData{
		GatewayTypeID:     int(req.GatewayType),
		MerchantAccountID: req.MerchantAccountID,
		MaskedCardNumber:  MaskCardNumber(req.Account),
		ExpDate:           req.Expiry,
		Amount:            &amount,
		CurrencyType:      req.CurrencyCode,
		Name:              req.Name,
		Street:            req.Street,
		City:              req.City,
		State:             req.State,
		Zip:               req.Zip,
		Country:           req.Country,
		Comment:           req.Comment,
		UserName:          req.UserName,
		UserID:            req.UserID,
	}
}

// SanitizeRefund copies the loggable fields of a refund request.
func SanitizeRefund(req adapter.RefundRequest) RequestData {
	return RequestData{
		GatewayTypeID:        int(req.GatewayType),
		MerchantAccountID:    req.MerchantAccountID,
		MaskedCardNumber:     req.MaskedCardNumber,
		Amount:               req.Amount,
		CurrencyType:         req.CurrencyCode,
		Comment:              req.Comment,
		PaymentTransactionID: req.PaymentTransactionID,
	}
}

// AuditData is the body of an audit entry.
type AuditData struct {
	RequestURI          string             `json:"requestUri"`
	RequestType         string             `json:"requestType"`
	Operation           string             `json:"operation"`
	Gateway             string             `json:"gateway,omitempty"`
	RequestData         RequestData        `json:"requestData"`
	ResponseDetail      any                `json:"responseDetail"`
	GatewayResponseData adapter.AuditTrail `json:"gatewayResponseData"`
	HTTPResponseCode    int                `json:"http_response_code"`
}

// AuditEntry is one line of the audit log, written once per request.
type AuditEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Service       string    `json:"service"`
	Level         Level     `json:"level"`
	TransactionID string    `json:"transactionId,omitempty"`
	TenantID      string    `json:"tenantId,omitempty"`
	UserID        string    `json:"userId,omitempty"`
	Data          AuditData `json:"data"`
}

// NewAuditEntry builds an entry stamped with the current time. Approved
// requests (HTTP 200) are logged at LevelAudit, everything else at LevelError.
func NewAuditEntry(meta context.RequestMeta, data AuditData) AuditEntry {
	level := LevelError
	if data.HTTPResponseCode == 200 {
		level = LevelAudit
	}
	return AuditEntry{
		Timestamp:     time.Now().UTC(),
		Service:       ServiceName,
		Level:         level,
		TransactionID: meta.TransactionID,
		TenantID:      meta.TenantID,
		UserID:        meta.UserID,
		Data:          data,
	}
}

// Fields renders the entry as top-level zap fields, so a logger with empty
// message and level keys writes lines ReadAuditLog can parse.
func (e AuditEntry) Fields() []zap.Field {
	return []zap.Field{
		zap.String("timestamp", e.Timestamp.Format(time.RFC3339Nano)),
		zap.String("service", e.Service),
		zap.String("level", string(e.Level)),
		zap.String("transactionId", e.TransactionID),
		zap.String("tenantId", e.TenantID),
		zap.String("userId", e.UserID),
		zap.Any("data", e.Data),
	}
}

// Emit writes the entry to logger.
func Emit(logger *zap.Logger, e AuditEntry) {
	logger.Info("", e.Fields()...)
}

// ReadAuditLog parses JSON lines written by Emit. Blank lines are skipped.
func ReadAuditLog(r io.Reader) ([]AuditEntry, error) {
	var entries []AuditEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return entries, nil
}
