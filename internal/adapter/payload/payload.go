// Package payload implements the Payload (payload.com) adapter over its REST
// API. Each adapter value carries its own API key; nothing is shared between
// requests.
package payload

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/context"
)

const (
	DefaultBaseURL = "https://api.payload.com"

	gatewayName = "Payload"

	// MaxDescriptionLength is the longest description the API accepts.
	MaxDescriptionLength = 128
)

// RequiredCredentials is the credential key set this adapter needs.
var RequiredCredentials = []string{"apiKey", "processingId"}

// Funding and transaction status values that drive the refund branch.
const (
	StatusVoided         = "voided"
	FundingStatusPending = "pending"
	FundingStatusBatched = "batched"
)

// Adapter is constructed per request from that request's credentials.
type Adapter struct {
	apiKey       string
	processingID string
	baseURL      string
	transport    *adapter.Transport
	logger       *zap.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		if baseURL != "" {
			a.baseURL = baseURL
		}
	}
}

// WithTransport sets the upstream transport.
func WithTransport(t *adapter.Transport) Option {
	return func(a *Adapter) {
		if t != nil {
			a.transport = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Adapter. The caller is responsible for checking creds
// against RequiredCredentials first.
func New(creds context.Credentials, opts ...Option) *Adapter {
	a := &Adapter{
		apiKey:       creds.Get("apiKey"),
		processingID: creds.Get("processingId"),
		baseURL:      DefaultBaseURL,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.transport == nil {
		a.transport = adapter.NewTransport(gatewayName, adapter.WithLogger(a.logger))
	}
	return a
}

// GetName returns "Payload".
func (a *Adapter) GetName() string {
	return gatewayName
}

// Transaction is the subset of the Payload transaction object this adapter reads.
type Transaction struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	StatusCode    string          `json:"status_code"`
	StatusMessage string          `json:"status_message"`
	FundingStatus string          `json:"funding_status"`
	Amount        decimal.Decimal `json:"amount"`
}

type card struct {
	CardNumber string `json:"card_number"`
	Expiry     string `json:"expiry"`
	CardCode   string `json:"card_code"`
}

type paymentMethod struct {
	Type          string `json:"type"`
	AccountHolder string `json:"account_holder,omitempty"`
	Card          card   `json:"card"`
}

type createPayment struct {
	Type          string        `json:"type"`
	Amount        json.Number   `json:"amount"`
	ProcessingID  string        `json:"processing_id"`
	Description   string        `json:"description"`
	PaymentMethod paymentMethod `json:"payment_method"`
}

type ledgerEntry struct {
	AssocTransactionID string `json:"assoc_transaction_id"`
}

type createRefund struct {
	Type        string        `json:"type"`
	Amount      json.Number   `json:"amount"`
	Description string        `json:"description"`
	Ledger      []ledgerEntry `json:"ledger"`
}

type updateStatus struct {
	Status      string `json:"status"`
	Description string `json:"description"`
}

// FormatExpiry turns MMYY into the MM/YY form the API expects.
func FormatExpiry(mmyy string) (string, error) {
	if len(mmyy) != 4 {
		return "", fmt.Errorf("expiration date '%s' must be 4 digits in MMYY format", mmyy)
	}
	return mmyy[:2] + "/" + mmyy[2:], nil
}

func amountNumber(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// ProcessPayment creates a card payment.
func (a *Adapter) ProcessPayment(ctx stdcontext.Context, req adapter.PaymentRequest) (result adapter.Result) {
	const op = "process_payment"
	result = adapter.Result{Status: adapter.StatusApproved, MerchantAccountID: req.MerchantAccountID}
	defer recoverFault(&result, op)

	expiry, err := FormatExpiry(req.Expiry)
	if err != nil {
		result.Status = adapter.StatusBadRequest
		result.Kind = adapter.KindPrecondition
		result.Message = err.Error()
		return result
	}

	body := createPayment{
		Type:         "payment",
		Amount:       amountNumber(req.Amount),
		ProcessingID: a.processingID,
		Description:  adapter.Truncate(req.Comment, MaxDescriptionLength),
		PaymentMethod: paymentMethod{
			Type:          "card",
			AccountHolder: req.Name,
			Card: card{
				CardNumber: req.Account,
				Expiry:     expiry,
				CardCode:   req.CVV,
			},
		},
	}

	resp, err := a.transport.Do(ctx, a.call("create_payment", http.MethodPost, "/transactions", body))
	if err != nil {
		return unknownFault(result, op, err, nil)
	}
	if !resp.OK() {
		return vendorFault(result, op, resp, true)
	}

	var txn Transaction
	if err := json.Unmarshal(resp.Body, &txn); err != nil {
		return unknownFault(result, op, err, resp)
	}
	result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)
	result.Success = true
	result.GatewayStatus = adapter.StringPtr(txn.StatusCode)
	result.Message = txn.StatusMessage
	result.TransactionID = adapter.StringPtr(txn.ID)

	a.logger.Info("Payload payment processed",
		zap.String("transaction_id", txn.ID),
		zap.String("status_code", txn.StatusCode),
	)
	return result
}

// ProcessRefund looks up the payment and then, by its state, reports it as
// already voided, voids it (funds not yet settled) or refunds the full
// original amount (settled).
func (a *Adapter) ProcessRefund(ctx stdcontext.Context, req adapter.RefundRequest) (result adapter.Result) {
	const op = "process_refund"
	paymentID := req.PaymentTransactionID
	result = adapter.Result{
		Status:            adapter.StatusApproved,
		MerchantAccountID: req.MerchantAccountID,
		TransactionID:     adapter.StringPtr(paymentID),
	}
	defer recoverFault(&result, op)

	resp, err := a.transport.Do(ctx, a.call("get_transaction", http.MethodGet, a.transactionPath(paymentID), nil))
	if err != nil {
		return unknownFault(result, op, err, nil)
	}
	if !resp.OK() {
		return vendorFault(result, op, resp, false)
	}

	var payment Transaction
	if err := json.Unmarshal(resp.Body, &payment); err != nil {
		return unknownFault(result, op, err, resp)
	}
	result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)

	if payment.Status == StatusVoided {
		result.Success = true
		result.TransactionID = nil
		result.GatewayStatus = adapter.StringPtr(payment.Status)
		result.Message = "Payment transaction has already been voided.  No further action has been taken."
		return result
	}

	description := adapter.Truncate(req.Comment, MaxDescriptionLength)
	var call adapter.Call
	switch payment.FundingStatus {
	case FundingStatusPending:
		call = a.call("void", http.MethodPut, a.transactionPath(paymentID),
			updateStatus{Status: StatusVoided, Description: description})
	case FundingStatusBatched:
		call = a.call("create_refund", http.MethodPost, "/transactions", createRefund{
			Type:        "refund",
			Amount:      amountNumber(payment.Amount),
			Description: description,
			Ledger:      []ledgerEntry{{AssocTransactionID: paymentID}},
		})
	default:
		result.Status = adapter.StatusBadRequest
		result.Kind = adapter.KindDecline
		result.Message = fmt.Sprintf("Unknown funding status '%s' encountered during refund process.  Payment was not refunded.", payment.FundingStatus)
		return result
	}

	a.logger.Info("Payload refund path selected",
		zap.String("transaction_id", paymentID),
		zap.String("funding_status", payment.FundingStatus),
		zap.String("operation", call.Operation),
	)

	resp, err = a.transport.Do(ctx, call)
	if err != nil {
		return unknownFault(result, op, err, nil)
	}
	if !resp.OK() {
		return vendorFault(result, op, resp, false)
	}

	var reversal Transaction
	if err := json.Unmarshal(resp.Body, &reversal); err != nil {
		return unknownFault(result, op, err, resp)
	}
	result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)
	result.Success = true
	result.GatewayStatus = adapter.StringPtr(reversal.Status)
	result.Message = reversal.StatusMessage
	if reversal.ID != "" {
		result.TransactionID = adapter.StringPtr(reversal.ID)
	}
	return result
}

func (a *Adapter) call(operation, method, path string, body any) adapter.Call {
	return adapter.Call{
		Operation: operation,
		Method:    method,
		URL:       a.baseURL + path,
		Body:      body,
		Username:  a.apiKey,
	}
}

func (a *Adapter) transactionPath(id string) string {
	return "/transactions/" + url.PathEscape(id)
}
