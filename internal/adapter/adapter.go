// Package adapter defines the Gateway capability implemented by each payment
// gateway adapter, the request values handed to it, and the canonical Result
// every upstream outcome is normalized into.
// Adapters own all vendor knowledge: serialization, the sequence of upstream
// calls, and the mapping of vendor status codes onto the canonical vocabulary.
package adapter

import (
	stdcontext "context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-gateway/internal/context"
)

// GatewayType identifies a supported payment gateway. The set is closed.
type GatewayType int

const (
	GatewayPayload     GatewayType = 1
	GatewayCardConnect GatewayType = 2
)

// String returns the display name used in messages, metrics and logs.
func (g GatewayType) String() string {
	switch g {
	case GatewayPayload:
		return "Payload"
	case GatewayCardConnect:
		return "CardConnect"
	default:
		return fmt.Sprintf("GatewayType(%d)", int(g))
	}
}

// Known reports whether g is a member of the closed gateway enumeration.
func (g GatewayType) Known() bool {
	return g == GatewayPayload || g == GatewayCardConnect
}

// PaymentRequest is a normalized card payment. Expiry is MMYY.
// Amount is always positive; it is sent to gateways as a two-place decimal.
type PaymentRequest struct {
	GatewayType       GatewayType         `json:"gatewayTypeId"`
	MerchantAccountID string              `json:"merchantAccountId"`
	Credentials       context.Credentials `json:"credentials"`
	Account           string              `json:"account"`
	Expiry            string              `json:"expDate"`
	Amount            decimal.Decimal     `json:"amount"`
	CurrencyCode      int                 `json:"currencyType"`
	CVV               string              `json:"cvv2"`
	Name              string              `json:"name,omitempty"`
	Street            string              `json:"street,omitempty"`
	City              string              `json:"city,omitempty"`
	State             string              `json:"state,omitempty"`
	Zip               string              `json:"zip,omitempty"`
	Country           string              `json:"country,omitempty"`
	Comment           string              `json:"comment,omitempty"`
	UserName          string              `json:"userName,omitempty"`
	UserID            string              `json:"userId,omitempty"`
}

// RefundRequest reverses a prior payment identified by the gateway-assigned
// PaymentTransactionID. A nil Amount means the full original amount.
type RefundRequest struct {
	GatewayType          GatewayType         `json:"gatewayTypeId"`
	MerchantAccountID    string              `json:"merchantAccountId"`
	Credentials          context.Credentials `json:"credentials"`
	PaymentTransactionID string              `json:"paymentTransactionId"`
	Amount               *decimal.Decimal    `json:"amount,omitempty"`
	Comment              string              `json:"comment,omitempty"`
	MaskedCardNumber     string              `json:"maskedCardNumber,omitempty"`
	CurrencyCode         int                 `json:"currencyType,omitempty"`
}

// Gateway is implemented by each payment gateway adapter. Both operations are
// total: every failure mode, including panics in vendor decoding, ends in a
// populated Result rather than an error.
type Gateway interface {
	// ProcessPayment authorizes and captures a payment in the gateway.
	ProcessPayment(ctx stdcontext.Context, req PaymentRequest) Result

	// ProcessRefund voids or refunds a prior payment, whichever the gateway's
	// current view of that payment allows.
	ProcessRefund(ctx stdcontext.Context, req RefundRequest) Result

	// GetName returns the gateway display name (e.g., "CardConnect").
	GetName() string
}
