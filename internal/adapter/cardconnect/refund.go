package cardconnect

import (
	stdcontext "context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
)

// Flag values for voidable and refundable.
const (
	flagYes = "Y"
	flagNo  = "N"
)

// InquireResponse is the gateway's current view of a prior transaction.
type InquireResponse struct {
	RespStat   RespStat `json:"respstat"`
	RespText   string   `json:"resptext"`
	RetRef     string   `json:"retref"`
	Voidable   string   `json:"voidable"`
	Refundable string   `json:"refundable"`
	Amount     string   `json:"amount"`
}

// Reversal is the path chosen for a refund request.
type Reversal int

const (
	ReversalNotAuthorized Reversal = iota
	ReversalVoid
	ReversalRefund
	ReversalNotPossible
)

// DecideReversal picks the reversal path. Authorization is checked first, then
// voidable, then refundable; an unsettled transaction is voided even if the
// gateway also reports it refundable.
func DecideReversal(inq InquireResponse) Reversal {
	if inq.RespStat != RespStatApproved {
		return ReversalNotAuthorized
	}
	if inq.Voidable == flagYes {
		return ReversalVoid
	}
	if inq.Refundable == flagYes {
		return ReversalRefund
	}
	return ReversalNotPossible
}

type voidRequest struct {
	RetRef  string `json:"retref"`
	MerchID string `json:"merchid"`
}

type voidResponse struct {
	RespStat RespStat `json:"respstat"`
	RespText string   `json:"resptext"`
	RetRef   string   `json:"retref"`
	AuthCode *string  `json:"authcode"`
}

type refundRequest struct {
	RetRef  string `json:"retref"`
	MerchID string `json:"merchid"`
	Amount  string `json:"amount,omitempty"`
}

type refundResponse struct {
	RespStat RespStat `json:"respstat"`
	RespText string   `json:"resptext"`
	RetRef   string   `json:"retref"`
}

// ProcessRefund runs inquire, then void or refund. The original transaction
// id is echoed on every outcome that did not mint a new one.
func (a *Adapter) ProcessRefund(ctx stdcontext.Context, req adapter.RefundRequest) (result adapter.Result) {
	const op = "process_refund inquiry"
	const faultMsg = "An unknown error occurred while retrieving your payment status. The refund was unsuccessful."
	result = adapter.Result{
		Status:            adapter.StatusApproved,
		MerchantAccountID: req.MerchantAccountID,
		TransactionID:     adapter.StringPtr(req.PaymentTransactionID),
	}
	defer recoverFault(&result, op, faultMsg)

	resp, err := a.transport.Do(ctx, a.call("inquire", http.MethodGet, a.inquirePath(req.PaymentTransactionID), nil))
	if err != nil {
		return internalFault(result, op, err, nil, faultMsg)
	}
	if !resp.OK() {
		return transportFailure(result, resp,
			"There was an authorization error while accessing your previous payment status.",
			"Unable to complete request for payment status.")
	}

	var inq InquireResponse
	if err := json.Unmarshal(resp.Body, &inq); err != nil {
		return internalFault(result, op, err, resp, faultMsg)
	}
	result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)
	result.GatewayStatus = adapter.StringPtr(string(inq.RespStat))

	reversal := DecideReversal(inq)
	a.logger.Info("CardConnect refund path selected",
		zap.String("retref", req.PaymentTransactionID),
		zap.String("respstat", string(inq.RespStat)),
		zap.String("voidable", inq.Voidable),
		zap.String("refundable", inq.Refundable),
		zap.Int("reversal", int(reversal)),
	)

	switch reversal {
	case ReversalVoid:
		return a.void(ctx, result, req)
	case ReversalRefund:
		return a.refund(ctx, result, req)
	case ReversalNotPossible:
		result.Status = adapter.StatusConflict
		result.Kind = adapter.KindDecline
		result.Message = "The refund cannot be processed at this time."
		return result
	default:
		result.Status = adapter.StatusConflict
		result.Kind = adapter.KindDecline
		result.Message = "The payment requested was not authorized or does not exist."
		return result
	}
}

// void cancels the full original amount; partial voids are not supported.
func (a *Adapter) void(ctx stdcontext.Context, result adapter.Result, req adapter.RefundRequest) adapter.Result {
	const op = "process_refund void"
	const faultMsg = "An unknown error occurred while processing void transaction."

	body := voidRequest{RetRef: req.PaymentTransactionID, MerchID: a.merchantID}
	resp, err := a.transport.Do(ctx, a.call("void", http.MethodPost, "/void", body))
	if err != nil {
		return internalFault(result, op, err, nil, faultMsg)
	}
	if !resp.OK() {
		return transportFailure(result, resp,
			"There was an authorization error while processing a void request.",
			"Unable to complete void transaction.")
	}

	var vr voidResponse
	if err := json.Unmarshal(resp.Body, &vr); err != nil {
		return internalFault(result, op, err, resp, faultMsg)
	}
	result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)
	result.GatewayStatus = adapter.StringPtr(string(vr.RespStat))
	if vr.RetRef != "" {
		result.TransactionID = adapter.StringPtr(vr.RetRef)
	}

	if vr.RespStat == RespStatApproved && adapter.Deref(vr.AuthCode) == "" {
		a.logger.Info("Void approved without authcode",
			zap.String("retref", req.PaymentTransactionID),
			zap.String("resptext", vr.RespText),
		)
	}
	return interpretVoid(result, vr)
}

// interpretVoid maps a void reply. An approved reply without an authcode counts
// as voided but stays a separate branch from the REVERS confirmation.
func interpretVoid(result adapter.Result, vr voidResponse) adapter.Result {
	authCode := adapter.Deref(vr.AuthCode)

	switch {
	case vr.RespStat == RespStatApproved && authCode == AuthCodeReversed:
		result.Success = true
		result.Message = "Successfully voided transaction."
	case vr.RespStat == RespStatApproved && authCode == AuthCodeNull:
		result.Status = adapter.StatusBadRequest
		result.Kind = adapter.KindDecline
		result.Message = withVendorText("Void transaction was unsuccessful.", vr.RespText)
	case vr.RespStat == RespStatApproved && authCode == "":
		result.Success = true
		result.Message = "Successfully voided transaction."
	case vr.RespStat == RespStatApproved:
		result.Status = adapter.StatusConflict
		result.Kind = adapter.KindDecline
		result.Message = withVendorText("Void transaction could not be confirmed.", vr.RespText)
	case vr.RespStat == RespStatRetry:
		result.Status = adapter.StatusConflict
		result.Kind = adapter.KindDecline
		result.Message = withVendorText("Unable to complete void transaction.", vr.RespText)
	default:
		result.Status = adapter.StatusConflict
		result.Kind = adapter.KindDecline
		result.Message = withVendorText("Void transaction was declined.", vr.RespText)
	}
	return result
}

// refund returns the caller-specified amount, or the full amount when none is given.
func (a *Adapter) refund(ctx stdcontext.Context, result adapter.Result, req adapter.RefundRequest) adapter.Result {
	const op = "process_refund refund"
	const faultMsg = "An unknown error occurred while processing refund transaction."

	body := refundRequest{RetRef: req.PaymentTransactionID, MerchID: a.merchantID}
	if req.Amount != nil {
		body.Amount = req.Amount.StringFixed(2)
	}

	resp, err := a.transport.Do(ctx, a.call("refund", http.MethodPost, "/refund", body))
	if err != nil {
		return internalFault(result, op, err, nil, faultMsg)
	}
	if !resp.OK() {
		return transportFailure(result, resp,
			"There was an authorization error while processing the refund request.",
			"Unable to complete refund transaction.")
	}

	var rr refundResponse
	if err := json.Unmarshal(resp.Body, &rr); err != nil {
		return internalFault(result, op, err, resp, faultMsg)
	}
	result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)
	result.GatewayStatus = adapter.StringPtr(string(rr.RespStat))
	if rr.RetRef != "" {
		result.TransactionID = adapter.StringPtr(rr.RetRef)
	}

	switch rr.RespStat {
	case RespStatApproved:
		result.Success = true
		result.Message = "Successful refund transaction."
	case RespStatRetry:
		result.Status = adapter.StatusBadRequest
		result.Kind = adapter.KindDecline
		result.Message = withVendorText("Please retry the request.", rr.RespText)
	default:
		result.Status = adapter.StatusBadRequest
		result.Kind = adapter.KindDecline
		result.Message = withVendorText("Refund failed.", rr.RespText)
	}
	return result
}
