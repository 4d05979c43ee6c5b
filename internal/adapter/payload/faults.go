package payload

import (
	"encoding/json"
	"fmt"

	"github.com/yourorg/payment-gateway/internal/adapter"
)

const (
	errorTypeDeclined = "TransactionDeclined"

	unknownResponseMessage      = "Unknown Payload response type"
	unrecognizedResponseMessage = "Unrecognized Payload error response"
)

// recognizedFaults lists the vendor fault types mapped by name onto the
// canonical status enumeration. The kind separates gateway health problems
// from rejections of the request itself.
var recognizedFaults = map[string]adapter.ErrorKind{
	"InvalidAttributes":   adapter.KindDecline,
	"BadRequest":          adapter.KindDecline,
	"NotFound":            adapter.KindDecline,
	"Forbidden":           adapter.KindTransport,
	"Unauthorized":        adapter.KindTransport,
	"TooManyRequests":     adapter.KindTransport,
	"InternalServerError": adapter.KindTransport,
	"ServiceUnavailable":  adapter.KindTransport,
}

// APIError is the Payload error body.
type APIError struct {
	ErrorType        string          `json:"error_type"`
	ErrorDescription string          `json:"error_description"`
	Details          json.RawMessage `json:"details"`
	Transaction      *Transaction    `json:"transaction"`
}

// declinedTransaction returns the transaction attached to a decline, which the
// API carries either under "transaction" or as the details object.
func (e APIError) declinedTransaction() Transaction {
	if e.Transaction != nil {
		return *e.Transaction
	}
	var txn Transaction
	if len(e.Details) > 0 {
		_ = json.Unmarshal(e.Details, &txn)
	}
	return txn
}

// cardNumberMessage extracts details.payment_method.card.card_number, the
// message shown next to the card number field in front ends.
func (e APIError) cardNumberMessage() (string, bool) {
	var details struct {
		PaymentMethod struct {
			Card struct {
				CardNumber json.RawMessage `json:"card_number"`
			} `json:"card"`
		} `json:"payment_method"`
	}
	if len(e.Details) == 0 || json.Unmarshal(e.Details, &details) != nil {
		return "", false
	}
	raw := details.PaymentMethod.Card.CardNumber
	if len(raw) == 0 {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg, true
	}
	return string(raw), true
}

// vendorFault maps a non-2xx reply by its error type.
func vendorFault(result adapter.Result, op string, resp *adapter.Response, withCardMessage bool) adapter.Result {
	result.Success = false

	var apiErr APIError
	if err := json.Unmarshal(resp.Body, &apiErr); err != nil || apiErr.ErrorType == "" {
		if err == nil {
			err = fmt.Errorf("HTTP %d reply without error_type", resp.StatusCode)
		}
		return unknownFault(result, op, err, resp)
	}
	result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)

	if apiErr.ErrorType == errorTypeDeclined {
		txn := apiErr.declinedTransaction()
		result.Status = adapter.Status(resp.StatusCode)
		result.Kind = adapter.KindDecline
		result.GatewayStatus = adapter.StringPtr(txn.StatusCode)
		result.Message = txn.StatusMessage
		if txn.ID != "" {
			result.TransactionID = adapter.StringPtr(txn.ID)
		}
		return result
	}

	kind, recognized := recognizedFaults[apiErr.ErrorType]
	status, named := adapter.StatusByName(apiErr.ErrorType)
	if !recognized || !named {
		result.Status = adapter.StatusBadRequest
		result.Kind = adapter.KindTransport
		result.Message = unrecognizedResponseMessage
		return result
	}

	result.Status = status
	result.Kind = kind
	switch msg, ok := apiErr.cardNumberMessage(); {
	case withCardMessage && ok:
		result.Message = msg
	case apiErr.ErrorDescription != "":
		result.Message = apiErr.ErrorDescription
	default:
		result.Message = string(resp.Body)
	}
	return result
}

// unknownFault covers anything that is not a well-formed vendor reply,
// including connection failures.
func unknownFault(result adapter.Result, op string, err error, resp *adapter.Response) adapter.Result {
	result.GatewayResponseData = result.GatewayResponseData.AppendFault(op, err)
	if resp != nil && len(resp.Body) > 0 {
		result.GatewayResponseData = result.GatewayResponseData.AppendBody(resp.Body)
	}
	result.Success = false
	result.Status = adapter.StatusInvalidAttributes
	result.Unreachable = resp == nil
	if resp == nil {
		result.Kind = adapter.KindTransport
	} else {
		result.Kind = adapter.KindInternal
	}
	result.Message = unknownResponseMessage
	return result
}

func recoverFault(result *adapter.Result, op string) {
	if rec := recover(); rec != nil {
		*result = unknownFault(*result, op, fmt.Errorf("panic: %v", rec), nil)
		result.Kind = adapter.KindInternal
		result.Unreachable = false
	}
}
