package mock

import (
	stdcontext "context"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/payment-gateway/internal/adapter"
)

// MockAdapter is a mock implementation of the Gateway interface for testing.
type MockAdapter struct {
	Name        string
	PaymentFunc func(ctx stdcontext.Context, req adapter.PaymentRequest) adapter.Result
	RefundFunc  func(ctx stdcontext.Context, req adapter.RefundRequest) adapter.Result

	mu       sync.Mutex
	payments []adapter.PaymentRequest
	refunds  []adapter.RefundRequest
}

// NewMockAdapter creates a new MockAdapter.
func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{Name: name}
}

// ProcessPayment calls PaymentFunc if defined, otherwise approves with a
// random transaction id.
func (m *MockAdapter) ProcessPayment(ctx stdcontext.Context, req adapter.PaymentRequest) adapter.Result {
	m.mu.Lock()
	m.payments = append(m.payments, req)
	m.mu.Unlock()

	if m.PaymentFunc != nil {
		return m.PaymentFunc(ctx, req)
	}
	return approved(req.MerchantAccountID, uuid.NewString())
}

// ProcessRefund calls RefundFunc if defined, otherwise approves and echoes
// the payment transaction id.
func (m *MockAdapter) ProcessRefund(ctx stdcontext.Context, req adapter.RefundRequest) adapter.Result {
	m.mu.Lock()
	m.refunds = append(m.refunds, req)
	m.mu.Unlock()

	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, req)
	}
	return approved(req.MerchantAccountID, req.PaymentTransactionID)
}

// GetName implements the Gateway interface.
func (m *MockAdapter) GetName() string {
	return m.Name
}

// Payments returns the payment requests received so far.
func (m *MockAdapter) Payments() []adapter.PaymentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.PaymentRequest(nil), m.payments...)
}

// Refunds returns the refund requests received so far.
func (m *MockAdapter) Refunds() []adapter.RefundRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.RefundRequest(nil), m.refunds...)
}

func approved(merchantAccountID, id string) adapter.Result {
	return adapter.Result{
		Success:           true,
		TransactionID:     adapter.StringPtr(id),
		Status:            adapter.StatusApproved,
		GatewayStatus:     adapter.StringPtr("mock_approved"),
		Message:           "Success.",
		MerchantAccountID: merchantAccountID,
	}
}
