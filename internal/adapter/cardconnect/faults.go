package cardconnect

import (
	"fmt"
	"net/http"

	"github.com/yourorg/payment-gateway/internal/adapter"
)

// transportFailure maps a non-2xx upstream reply. The vendor status is passed
// through as the canonical status.
func transportFailure(result adapter.Result, resp *adapter.Response, unauthorizedMsg, otherMsg string) adapter.Result {
	result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)
	result.Success = false
	result.Kind = adapter.KindTransport
	result.Status = adapter.Status(resp.StatusCode)
	if resp.StatusCode == http.StatusUnauthorized {
		result.Message = unauthorizedMsg
	} else {
		result.Message = otherMsg
	}
	return result
}

// internalFault records an unexpected error as a 500 result. The reply body,
// if one was read, follows the fault text in the audit trail.
func internalFault(result adapter.Result, op string, err error, resp *adapter.Response, msg string) adapter.Result {
	result.GatewayResponseData = result.GatewayResponseData.AppendFault(op, err)
	if resp != nil && len(resp.Body) > 0 {
		result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)
	}
	result.Success = false
	result.Kind = adapter.KindInternal
	result.Status = adapter.StatusInternalServerError
	result.Unreachable = resp == nil
	result.Message = msg
	return result
}

func recoverFault(result *adapter.Result, op, msg string) {
	if rec := recover(); rec != nil {
		*result = internalFault(*result, op, fmt.Errorf("panic: %v", rec), nil, msg)
		result.Unreachable = false
	}
}

// withVendorSentence appends the vendor text as its own sentence.
func withVendorSentence(msg, vendorText string) string {
	if vendorText == "" {
		return msg
	}
	return msg + " " + vendorText + "."
}

func withVendorText(msg, vendorText string) string {
	if vendorText == "" {
		return msg
	}
	return msg + " " + vendorText
}
