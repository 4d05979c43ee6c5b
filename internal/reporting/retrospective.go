package reporting

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-gateway/internal/adapter"
)

// RetrospectiveReport summarizes gateway activity from a collection of audit entries.
type RetrospectiveReport struct {
	TotalRequests      int                        `json:"totalRequests" yaml:"total_requests"`
	Succeeded          int                        `json:"succeeded" yaml:"succeeded"`
	Failed             int                        `json:"failed" yaml:"failed"`
	Payments           int                        `json:"payments" yaml:"payments"`
	Refunds            int                        `json:"refunds" yaml:"refunds"`
	AmountByCurrency   map[string]decimal.Decimal `json:"amountByCurrency" yaml:"amount_by_currency"` // approved payments only, keyed by currency symbol
	StatusBreakdown    map[int]int                `json:"statusBreakdown" yaml:"status_breakdown"`    // HTTP status of each failed request
	GatewayUsage       map[string]int             `json:"gatewayUsage" yaml:"gateway_usage"`
	DateFrom           time.Time                  `json:"dateFrom" yaml:"date_from"`
	DateTo             time.Time                  `json:"dateTo" yaml:"date_to"`
	ProcessingDuration time.Duration              `json:"processingDuration" yaml:"processing_duration"` // time covered by the entries
}

// RetrospectiveReporter generates retrospective reports from audit entries.
type RetrospectiveReporter struct{}

// NewRetrospectiveReporter creates a new RetrospectiveReporter.
func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective analyzes entries and produces a RetrospectiveReport.
func (rr *RetrospectiveReporter) GenerateRetrospective(entries []AuditEntry) (*RetrospectiveReport, error) {
	report := &RetrospectiveReport{
		AmountByCurrency: make(map[string]decimal.Decimal),
		StatusBreakdown:  make(map[int]int),
		GatewayUsage:     make(map[string]int),
	}

	for i, e := range entries {
		report.TotalRequests++

		if i == 0 || e.Timestamp.Before(report.DateFrom) {
			report.DateFrom = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(report.DateTo) {
			report.DateTo = e.Timestamp
		}

		if e.Data.Gateway != "" {
			report.GatewayUsage[e.Data.Gateway]++
		}
		switch e.Data.Operation {
		case OperationPayment:
			report.Payments++
		case OperationRefund:
			report.Refunds++
		}

		if e.Level != LevelAudit {
			report.Failed++
			report.StatusBreakdown[e.Data.HTTPResponseCode]++
			continue
		}
		report.Succeeded++
		if e.Data.Operation == OperationPayment && e.Data.RequestData.Amount != nil {
			currency := currencyKey(e.Data.RequestData.CurrencyType)
			report.AmountByCurrency[currency] = report.AmountByCurrency[currency].Add(*e.Data.RequestData.Amount)
		}
	}

	report.ProcessingDuration = report.DateTo.Sub(report.DateFrom)
	return report, nil
}

func currencyKey(code int) string {
	if sym, ok := adapter.CurrencySymbol(code); ok {
		return sym
	}
	return strconv.Itoa(code)
}
