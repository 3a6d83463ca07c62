// Package validation checks plaintext health metrics before they are
// encrypted. Nothing leaves the client unless it passes.
package validation

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"healthcoach/core/health"
)

//go:embed schemas/health_metrics_v1.json
var schemaFS embed.FS

const schemaPath = "schemas/health_metrics_v1.json"

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError names the first offending field. It never includes the
// offending value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid health metrics: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := schemaFS.ReadFile(schemaPath)
		if err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	})
	return schema, schemaErr
}

// ValidateMetrics checks m against the health metrics schema.
func ValidateMetrics(m health.Metrics) error {
	return validate(gojsonschema.NewGoLoader(m))
}

// ValidatePayload checks a raw JSON document, as submitted over the API or CLI.
func ValidatePayload(payload []byte) error {
	return validate(gojsonschema.NewBytesLoader(payload))
}

func validate(doc gojsonschema.JSONLoader) error {
	s, err := loadSchema()
	if err != nil {
		return fmt.Errorf("load health metrics schema: %w", err)
	}
	result, err := s.Validate(doc)
	if err != nil {
		return &ValidationError{Reason: "malformed document"}
	}
	if result.Valid() {
		return nil
	}
	first := result.Errors()[0]
	field := first.Field()
	if field == "(root)" {
		if p, ok := first.Details()["property"].(string); ok {
			field = p
		} else {
			field = ""
		}
	}
	return &ValidationError{Field: field, Reason: reason(first)}
}

func reason(e gojsonschema.ResultError) string {
	switch e.Type() {
	case "number_gte", "number_lte", "number_gt", "number_lt":
		return "out of range"
	case "enum":
		return "not an allowed value"
	case "required":
		return "missing"
	case "invalid_type":
		return "must be an integer"
	case "additional_property_not_allowed":
		return "unknown field"
	default:
		return strings.ToLower(e.Type())
	}
}
