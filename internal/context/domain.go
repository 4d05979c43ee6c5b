package context

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RequestMetaHeader is the header carrying caller correlation metadata as a JSON object.
const RequestMetaHeader = "X-Request-Meta"

// ErrIncompleteRequest is returned when the metadata header is absent or lacks a required key.
var ErrIncompleteRequest = errors.New("incomplete request")

// RequestMeta identifies who asked for a payment operation. It is used for
// audit logging and correlation only and never reaches a gateway.
type RequestMeta struct {
	TransactionID string `json:"transactionId"`
	TenantID      string `json:"tenantId"`
	UserID        string `json:"userId"`
}

// ParseRequestMeta decodes the metadata header value. All three keys must be
// present and non-empty.
func ParseRequestMeta(header string) (RequestMeta, error) {
	if strings.TrimSpace(header) == "" {
		return RequestMeta{}, fmt.Errorf("%w: %s header is missing", ErrIncompleteRequest, RequestMetaHeader)
	}

	var meta RequestMeta
	if err := json.Unmarshal([]byte(header), &meta); err != nil {
		return RequestMeta{}, fmt.Errorf("%w: %s header is not a JSON object: %v", ErrIncompleteRequest, RequestMetaHeader, err)
	}

	var missing []string
	if meta.TransactionID == "" {
		missing = append(missing, "transactionId")
	}
	if meta.TenantID == "" {
		missing = append(missing, "tenantId")
	}
	if meta.UserID == "" {
		missing = append(missing, "userId")
	}
	if len(missing) > 0 {
		return RequestMeta{}, fmt.Errorf("%w: %s header is missing %s", ErrIncompleteRequest, RequestMetaHeader, strings.Join(missing, ", "))
	}
	return meta, nil
}
