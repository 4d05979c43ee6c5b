// Package cardconnect implements the CardConnect (CardPointe Gateway) adapter.
//
// Payments are a single authorize-and-capture call. Refunds first inquire the
// prior transaction and then either void it (not yet settled) or refund it
// (settled), as reported by the gateway's voidable and refundable flags.
package cardconnect

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/context"
)

const (
	ProductionHost = "fts.cardconnect.com"
	UATHost        = "fts-uat.cardconnect.com"

	gatewayName = "CardConnect"

	captureYes      = "Y"
	ecommerceOrigin = "E"
)

// RequiredCredentials is the credential key set this adapter needs.
var RequiredCredentials = []string{"username", "password", "merchantId"}

// RespStat is the tri-state authorization outcome.
type RespStat string

const (
	RespStatApproved RespStat = "A"
	RespStatRetry    RespStat = "B"
	RespStatDeclined RespStat = "C"
)

// Void authcode values.
const (
	AuthCodeReversed = "REVERS"
	AuthCodeNull     = "NULL"
)

// Adapter is constructed per request from that request's credentials.
type Adapter struct {
	username   string
	password   string
	merchantID string
	baseURL    string
	transport  *adapter.Transport
	logger     *zap.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHost points the adapter at a CardConnect host, e.g. UATHost.
func WithHost(host string) Option {
	return func(a *Adapter) {
		if host != "" {
			a.baseURL = "https://" + host + "/cardconnect/rest"
		}
	}
}

// WithBaseURL overrides the full REST base URL (scheme, host and path prefix).
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
		username:   creds.Get("username"),
		password:   creds.Get("password"),
		merchantID: creds.Get("merchantId"),
		logger:     zap.NewNop(),
	}
	WithHost(ProductionHost)(a)
	for _, opt := range opts {
		opt(a)
	}
	if a.transport == nil {
		a.transport = adapter.NewTransport(gatewayName, adapter.WithLogger(a.logger))
	}
	return a
}

// GetName returns "CardConnect".
func (a *Adapter) GetName() string {
	return gatewayName
}

type authRequest struct {
	MerchID    string              `json:"merchid"`
	Account    string              `json:"account"`
	Expiry     string              `json:"expiry"`
	Amount     string              `json:"amount"`
	Capture    string              `json:"capture"`
	CVV2       string              `json:"cvv2"`
	Currency   string              `json:"currency"`
	Ecomind    string              `json:"ecomind"`
	Postal     string              `json:"postal,omitempty"`
	Name       string              `json:"name,omitempty"`
	UserFields []map[string]string `json:"userfields"`
}

type authResponse struct {
	RespStat RespStat `json:"respstat"`
	RespText string   `json:"resptext"`
	RetRef   string   `json:"retref"`
	AuthCode string   `json:"authcode"`
}

// ProcessPayment authorizes and captures in one call.
func (a *Adapter) ProcessPayment(ctx stdcontext.Context, req adapter.PaymentRequest) (result adapter.Result) {
	const op = "process_payment"
	result = adapter.Result{Status: adapter.StatusApproved, MerchantAccountID: req.MerchantAccountID}
	defer recoverFault(&result, op, "There was an internal service error with your request.")

	currency, ok := adapter.CurrencySymbol(req.CurrencyCode)
	if !ok {
		result.Status = adapter.StatusBadRequest
		result.Kind = adapter.KindPrecondition
		result.Message = fmt.Sprintf("Unsupported currency code %d.", req.CurrencyCode)
		return result
	}

	body := authRequest{
		MerchID:    a.merchantID,
		Account:    req.Account,
		Expiry:     req.Expiry,
		Amount:     req.Amount.StringFixed(2),
		Capture:    captureYes,
		CVV2:       req.CVV,
		Currency:   currency,
		Ecomind:    ecommerceOrigin,
		Postal:     req.Zip,
		Name:       req.Name,
		UserFields: []map[string]string{{"Description": req.Comment}},
	}

	resp, err := a.transport.Do(ctx, a.call("auth", http.MethodPost, "/auth", body))
	if err != nil {
		return internalFault(result, op, err, nil, "There was an internal service error with your request.")
	}
	if !resp.OK() {
		return transportFailure(result, resp,
			"There was an authorization error with your request.",
			"There was a network error with your request.")
	}

	var auth authResponse
	if err := json.Unmarshal(resp.Body, &auth); err != nil {
		return internalFault(result, op, err, resp, "There was an internal service error with your request.")
	}
	result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)
	result.GatewayStatus = adapter.StringPtr(string(auth.RespStat))
	result.TransactionID = adapter.StringPtr(auth.RetRef)

	switch auth.RespStat {
	case RespStatApproved:
		result.Success = true
		result.Message = "Success."
	case RespStatRetry:
		result.Status = adapter.StatusBadRequest
		result.Kind = adapter.KindDecline
		result.Message = withVendorSentence("Please retry the request.", auth.RespText)
	default:
		result.Status = adapter.StatusBadRequest
		result.Kind = adapter.KindDecline
		result.Message = withVendorSentence("Authorization failed.", auth.RespText)
	}

	a.logger.Info("CardConnect payment processed",
		zap.Bool("success", result.Success),
		zap.Int("status", int(result.Status)),
		zap.String("respstat", string(auth.RespStat)),
		zap.String("retref", auth.RetRef),
	)
	return result
}

func (a *Adapter) call(operation, method, path string, body any) adapter.Call {
	return adapter.Call{
		Operation: operation,
		Method:    method,
		URL:       a.baseURL + path,
		Body:      body,
		Username:  a.username,
		Password:  a.password,
	}
}

func (a *Adapter) inquirePath(retref string) string {
	return "/inquire/" + url.PathEscape(retref) + "/" + url.PathEscape(a.merchantID)
}
