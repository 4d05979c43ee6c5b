package payload_test

import (
	stdcontext "context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/adapter/payload"
	"github.com/yourorg/payment-gateway/internal/adapter/payload/payloadtest"
	"github.com/yourorg/payment-gateway/internal/context"
)

func testCredentials() context.Credentials {
	return context.Credentials{"apiKey": payloadtest.APIKey, "processingId": payloadtest.ProcessingID}
}

func newAdapter(server *payloadtest.Server) *payload.Adapter {
	return payload.New(testCredentials(), payload.WithBaseURL(server.URL))
}

func paymentRequest(account string) adapter.PaymentRequest {
	return adapter.PaymentRequest{
		GatewayType:       adapter.GatewayPayload,
		MerchantAccountID: "acct-9",
		Credentials:       testCredentials(),
		Account:           account,
		Expiry:            "0927",
		Amount:            decimal.RequireFromString("25"),
		CurrencyCode:      adapter.CurrencyUSD,
		CVV:               "321",
		Name:              "Sam Smith",
		Comment:           "Annual membership",
	}
}

func refundRequest(id string) adapter.RefundRequest {
	return adapter.RefundRequest{
		GatewayType:          adapter.GatewayPayload,
		MerchantAccountID:    "acct-9",
		Credentials:          testCredentials(),
		PaymentTransactionID: id,
		Comment:              "Customer request",
	}
}

func TestProcessPayment_Approved(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()

	result := newAdapter(server).ProcessPayment(stdcontext.Background(), paymentRequest(payloadtest.ApprovalCard))

	assert.True(t, result.Success)
	assert.Equal(t, adapter.StatusApproved, result.Status)
	assert.Equal(t, "Transaction approved.", result.Message)
	require.NotNil(t, result.GatewayStatus)
	assert.Equal(t, "approved", *result.GatewayStatus)
	require.NotNil(t, result.TransactionID)
	assert.True(t, strings.HasPrefix(*result.TransactionID, "txn_"))
	assert.Equal(t, "acct-9", result.MerchantAccountID)

	body := server.LastBody(payloadtest.OpCreatePayment)
	assert.Equal(t, "payment", body["type"])
	assert.Equal(t, float64(25), body["amount"])
	assert.Equal(t, payloadtest.ProcessingID, body["processing_id"])
	assert.Equal(t, "Annual membership", body["description"])
	pm := body["payment_method"].(map[string]any)
	assert.Equal(t, "card", pm["type"])
	assert.Equal(t, "Sam Smith", pm["account_holder"])
	assert.Equal(t, map[string]any{"card_number": payloadtest.ApprovalCard, "expiry": "09/27", "card_code": "321"}, pm["card"])
}

func TestProcessPayment_CommentTruncated(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()

	req := paymentRequest(payloadtest.ApprovalCard)
	req.Comment = strings.Repeat("x", 300)
	newAdapter(server).ProcessPayment(stdcontext.Background(), req)

	description := server.LastBody(payloadtest.OpCreatePayment)["description"].(string)
	assert.Len(t, description, payload.MaxDescriptionLength)
}

func TestProcessPayment_Declined(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()

	result := newAdapter(server).ProcessPayment(stdcontext.Background(), paymentRequest(payloadtest.DeclinedCard))

	assert.False(t, result.Success)
	assert.Equal(t, adapter.Status(http.StatusPaymentRequired), result.Status, "status taken from the decline fault")
	assert.Equal(t, adapter.KindDecline, result.Kind)
	assert.Equal(t, "Card Declined", result.Message)
	require.NotNil(t, result.GatewayStatus)
	assert.Equal(t, "card_declined", *result.GatewayStatus)
}

func TestProcessPayment_InvalidCardShowsFieldMessage(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()

	result := newAdapter(server).ProcessPayment(stdcontext.Background(), paymentRequest(payloadtest.InvalidCardCard))

	assert.False(t, result.Success)
	assert.Equal(t, adapter.StatusInvalidAttributes, result.Status)
	assert.Equal(t, "Invalid card number", result.Message)
	assert.Nil(t, result.GatewayStatus)
}

func TestProcessPayment_VendorFaults(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected adapter.Status
		message  string
	}{
		{"Unauthorized", 401, `{"error_type":"Unauthorized","error_description":"Invalid API key"}`, adapter.StatusUnauthorized, "Invalid API key"},
		{"Forbidden", 403, `{"error_type":"Forbidden","error_description":"Not allowed"}`, adapter.StatusForbidden, "Not allowed"},
		{"NotFound", 404, `{"error_type":"NotFound","error_description":"No such object"}`, adapter.StatusNotFound, "No such object"},
		{"RateLimited", 429, `{"error_type":"TooManyRequests","error_description":"Slow down"}`, adapter.StatusTooManyRequests, "Slow down"},
		{"Unavailable", 503, `{"error_type":"ServiceUnavailable","error_description":"Maintenance"}`, adapter.StatusServiceUnavailable, "Maintenance"},
		{"Internal", 500, `{"error_type":"InternalServerError"}`, adapter.StatusInternalServerError, `{"error_type":"InternalServerError"}`},
		{"BadRequest", 400, `{"error_type":"BadRequest","error_description":"Malformed"}`, adapter.StatusBadRequest, "Malformed"},
		{"Unrecognized", 418, `{"error_type":"Teapot","error_description":"I'm a teapot"}`, adapter.StatusBadRequest, "Unrecognized Payload error response"},
		{"NotJSON", 502, `<html>Bad Gateway</html>`, adapter.StatusInvalidAttributes, "Unknown Payload response type"},
		{"NoErrorType", 500, `{"message":"oops"}`, adapter.StatusInvalidAttributes, "Unknown Payload response type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := payloadtest.NewServer()
			defer server.Close()
			server.SetReply(payloadtest.OpCreatePayment, tt.status, tt.body)

			result := newAdapter(server).ProcessPayment(stdcontext.Background(), paymentRequest(payloadtest.ApprovalCard))
			assert.False(t, result.Success)
			assert.Equal(t, tt.expected, result.Status)
			assert.Equal(t, tt.message, result.Message)
			assert.NotEmpty(t, result.GatewayResponseData)
		})
	}
}

func TestProcessPayment_BadExpiry(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()

	req := paymentRequest(payloadtest.ApprovalCard)
	req.Expiry = "927"
	result := newAdapter(server).ProcessPayment(stdcontext.Background(), req)

	assert.Equal(t, adapter.StatusBadRequest, result.Status)
	assert.Equal(t, 0, server.Calls(payloadtest.OpCreatePayment))
}

func TestProcessPayment_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	result := payload.New(testCredentials(), payload.WithBaseURL(url)).
		ProcessPayment(stdcontext.Background(), paymentRequest(payloadtest.ApprovalCard))
	assert.Equal(t, adapter.StatusInvalidAttributes, result.Status)
	assert.Equal(t, adapter.KindTransport, result.Kind)
	assert.True(t, result.Unreachable)
	assert.True(t, result.UpstreamFault())
	assert.Contains(t, result.GatewayResponseData[0], "process_payment exception")
}

func TestProcessRefund_AlreadyVoided(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()
	server.AddTransaction(map[string]any{"id": "txn_v", "status": "voided", "funding_status": "pending", "amount": 10})

	result := newAdapter(server).ProcessRefund(stdcontext.Background(), refundRequest("txn_v"))

	assert.True(t, result.Success)
	assert.Equal(t, "Payment transaction has already been voided.  No further action has been taken.", result.Message)
	assert.Nil(t, result.TransactionID, "no new transaction id")
	require.NotNil(t, result.GatewayStatus)
	assert.Equal(t, "voided", *result.GatewayStatus)
	assert.Equal(t, 0, server.Calls(payloadtest.OpUpdate))
	assert.Equal(t, 0, server.Calls(payloadtest.OpCreateRefund))
}

func TestProcessRefund_PendingIsVoided(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()
	server.AddTransaction(map[string]any{"id": "txn_p", "status": "processed", "funding_status": "pending", "amount": 10})

	req := refundRequest("txn_p")
	req.Comment = strings.Repeat("r", 200)
	result := newAdapter(server).ProcessRefund(stdcontext.Background(), req)

	assert.True(t, result.Success)
	assert.Equal(t, "Transaction voided.", result.Message)
	require.NotNil(t, result.TransactionID)
	assert.Equal(t, "txn_p", *result.TransactionID)
	assert.Equal(t, 1, server.Calls(payloadtest.OpUpdate))
	assert.Equal(t, 0, server.Calls(payloadtest.OpCreateRefund))

	update := server.LastBody(payloadtest.OpUpdate)
	assert.Equal(t, "voided", update["status"])
	assert.Len(t, update["description"], payload.MaxDescriptionLength)
	assert.Equal(t, "voided", server.Transaction("txn_p")["status"])
}

func TestProcessRefund_BatchedIsRefundedInFull(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()
	server.AddTransaction(map[string]any{"id": "txn_b", "status": "processed", "funding_status": "batched", "amount": "42.50"})

	req := refundRequest("txn_b")
	partial := decimal.RequireFromString("1.00")
	req.Amount = &partial
	result := newAdapter(server).ProcessRefund(stdcontext.Background(), req)

	assert.True(t, result.Success)
	assert.Equal(t, "Refund processed.", result.Message)
	require.NotNil(t, result.TransactionID)
	assert.NotEqual(t, "txn_b", *result.TransactionID)

	refund := server.LastBody(payloadtest.OpCreateRefund)
	assert.Equal(t, "refund", refund["type"])
	assert.Equal(t, 42.5, refund["amount"], "full original amount, caller amount ignored")
	assert.Equal(t, []any{map[string]any{"assoc_transaction_id": "txn_b"}}, refund["ledger"])
	assert.Equal(t, 0, server.Calls(payloadtest.OpUpdate))
}

func TestProcessRefund_UnknownFundingStatus(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()
	server.AddTransaction(map[string]any{"id": "txn_x", "status": "processed", "funding_status": "settled", "amount": 3})

	result := newAdapter(server).ProcessRefund(stdcontext.Background(), refundRequest("txn_x"))

	assert.False(t, result.Success)
	assert.Equal(t, adapter.StatusBadRequest, result.Status)
	assert.Equal(t, "Unknown funding status 'settled' encountered during refund process.  Payment was not refunded.", result.Message)
	assert.Equal(t, 0, server.Calls(payloadtest.OpUpdate))
	assert.Equal(t, 0, server.Calls(payloadtest.OpCreateRefund))
}

func TestProcessRefund_NotFound(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()

	result := newAdapter(server).ProcessRefund(stdcontext.Background(), refundRequest("txn_missing"))

	assert.False(t, result.Success)
	assert.Equal(t, adapter.StatusNotFound, result.Status)
	require.NotNil(t, result.TransactionID)
	assert.Equal(t, "txn_missing", *result.TransactionID)
}

func TestProcessRefund_VoidFails(t *testing.T) {
	server := payloadtest.NewServer()
	defer server.Close()
	server.AddTransaction(map[string]any{"id": "txn_p", "status": "processed", "funding_status": "pending", "amount": 10})
	server.SetReply(payloadtest.OpUpdate, http.StatusServiceUnavailable, `{"error_type":"ServiceUnavailable","error_description":"Try later"}`)

	result := newAdapter(server).ProcessRefund(stdcontext.Background(), refundRequest("txn_p"))
	assert.False(t, result.Success)
	assert.Equal(t, adapter.StatusServiceUnavailable, result.Status)
	assert.Equal(t, "Try later", result.Message)
	assert.Len(t, result.GatewayResponseData, 2)
}

func TestFormatExpiry(t *testing.T) {
	expiry, err := payload.FormatExpiry("1230")
	require.NoError(t, err)
	assert.Equal(t, "12/30", expiry)

	_, err = payload.FormatExpiry("12/30")
	assert.Error(t, err)
}

func TestGetName(t *testing.T) {
	assert.Equal(t, "Payload", payload.New(testCredentials()).GetName())
}
