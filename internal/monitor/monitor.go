// Package monitor validates inbound request bodies against their JSON schema
// contracts before they are decoded.
package monitor

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ContractMonitor validates incoming requests against a JSON schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor creates a new ContractMonitor with the given schema file path.
// The schemaPath should be an absolute path or relative to the execution directory.
func NewContractMonitor(schemaPath string) (*ContractMonitor, error) {
	return compile(gojsonschema.NewReferenceLoader("file://"+schemaPath), schemaPath)
}

// NewPaymentMonitor validates processPayment bodies.
func NewPaymentMonitor() (*ContractMonitor, error) {
	return embedded("payment.json")
}

// NewRefundMonitor validates processRefund bodies.
func NewRefundMonitor() (*ContractMonitor, error) {
	return embedded("refund.json")
}

func embedded(name string) (*ContractMonitor, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("error reading schema %s: %w", name, err)
	}
	return compile(gojsonschema.NewBytesLoader(raw), name)
}

func compile(loader gojsonschema.JSONLoader, name string) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema %s: %w", name, err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate validates the given request body against the loaded JSON schema.
// It returns true if valid, or false and a list of validation errors if invalid.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, desc.String())
	}
	return false, errors, nil
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
