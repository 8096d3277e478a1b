// Package schemas provides JSON Schema validation for model outputs.
package schemas

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed criteria.schema.json
var criteriaSchema string

//go:embed evaluation.schema.json
var evaluationSchema string

// Schema names
const (
	CriteriaSchemaName   = "criteria"
	EvaluationSchemaName = "evaluation"
)

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Schema string
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	if ve.Schema != "" {
		sb.WriteString(fmt.Sprintf("%s validation failed:\n", ve.Schema))
	} else {
		sb.WriteString("validation failed:\n")
	}
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Summary returns the first few field errors on one line, for logs and API responses.
func (ve *ValidationError) Summary() string {
	parts := make([]string, 0, 3)
	for i, err := range ve.Errors {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("and %d more", len(ve.Errors)-3))
			break
		}
		parts = append(parts, err.Field+": "+err.Message)
	}
	return strings.Join(parts, "; ")
}

type compiled struct {
	once   sync.Once
	name   string
	source string
	schema *gojsonschema.Schema
	err    error
}

func (c *compiled) get() (*gojsonschema.Schema, error) {
	c.once.Do(func() {
		c.schema, c.err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(c.source))
		if c.err != nil {
			c.err = &SchemaLoadError{Path: c.name, Message: "invalid embedded schema", Cause: c.err}
		}
	})
	return c.schema, c.err
}

var (
	criteria   = &compiled{name: CriteriaSchemaName, source: criteriaSchema}
	evaluation = &compiled{name: EvaluationSchemaName, source: evaluationSchema}
)

// ValidateCriteria validates a structured criteria document.
func ValidateCriteria(jsonContent string) error {
	return validateCompiled(criteria, jsonContent)
}

// ValidateEvaluation validates a scoring response.
func ValidateEvaluation(jsonContent string) error {
	return validateCompiled(evaluation, jsonContent)
}

func validateCompiled(c *compiled, jsonContent string) error {
	schema, err := c.get()
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(jsonContent))
	if err != nil {
		return fmt.Errorf("failed to read %s document: %w", c.name, err)
	}
	return toValidationError(c.name, result)
}

// ValidateJSONString validates JSON string content against schema string content
func ValidateJSONString(schemaContent, jsonContent string) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaContent)
	documentLoader := gojsonschema.NewStringLoader(jsonContent)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &SchemaLoadError{
			Path:    "(string schema)",
			Message: "schema validation failed during load",
			Cause:   err,
		}
	}
	return toValidationError("", result)
}

func toValidationError(name string, result *gojsonschema.Result) error {
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Schema: name,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
