package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorType classifies an engine error
type ErrorType string

const (
	// ErrTypeConfiguration represents fatal startup errors; the process must not start
	ErrTypeConfiguration ErrorType = "configuration"
	// ErrTypeValidation represents recoverable per-request input errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeUnsupported represents operations a connector did not declare a capability for
	ErrTypeUnsupported ErrorType = "unsupported_operation"
	// ErrTypeConnector represents backend-reported failures during execute/write
	ErrTypeConnector ErrorType = "connector"
	// ErrTypePipeline represents failures raised by a pipeline step
	ErrTypePipeline ErrorType = "pipeline"
	// ErrTypeNotFound represents a missing model or record
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents unexpected internal failures
	ErrTypeInternal ErrorType = "internal"
)

// FieldError carries field-level detail on a validation failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// EngineError is the structured error every engine component returns.
// Connector errors additionally carry a transient flag so the transaction
// coordinator can decide whether a bounded retry is allowed.
type EngineError struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Fields    []FieldError           `json:"fields,omitempty"`
	Transient bool                   `json:"transient,omitempty"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if len(e.Fields) > 0 {
		fieldParts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			fieldParts = append(fieldParts, fmt.Sprintf("%s: %s", f.Field, f.Message))
		}
		parts = append(parts, fmt.Sprintf("fields={%s}", strings.Join(fieldParts, "; ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithField appends field-level detail
func (e *EngineError) WithField(field, message string) *EngineError {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	return e
}

// ConfigurationError creates a fatal startup error
func ConfigurationError(msg string) *EngineError {
	return &EngineError{
		Type:    ErrTypeConfiguration,
		Message: msg,
	}
}

// ConfigurationErrorf creates a fatal startup error with formatting
func ConfigurationErrorf(format string, args ...interface{}) *EngineError {
	return ConfigurationError(fmt.Sprintf(format, args...))
}

// ValidationError creates a per-request input error
func ValidationError(msg string) *EngineError {
	return &EngineError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// FieldValidationError creates a validation error citing one field
func FieldValidationError(field, msg string) *EngineError {
	return &EngineError{
		Type:    ErrTypeValidation,
		Message: fmt.Sprintf("invalid value for field %q", field),
		Fields:  []FieldError{{Field: field, Message: msg}},
	}
}

// UnsupportedError reports a capability the connector did not declare
func UnsupportedError(connector, capability string) *EngineError {
	return &EngineError{
		Type:    ErrTypeUnsupported,
		Message: fmt.Sprintf("connector %q does not support %s", connector, capability),
		Context: map[string]interface{}{"connector": connector, "capability": capability},
	}
}

// ConnectorError creates a permanent backend failure
func ConnectorError(connector string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrTypeConnector,
		Message: fmt.Sprintf("backend %q failed", connector),
		Cause:   cause,
		Context: map[string]interface{}{"connector": connector},
	}
}

// TransientConnectorError creates a retriable backend failure such as a
// serialization conflict or deadlock
func TransientConnectorError(connector string, cause error) *EngineError {
	err := ConnectorError(connector, cause)
	err.Transient = true
	return err
}

// PipelineError creates a step failure identifying the originating step
func PipelineError(step string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrTypePipeline,
		Message: fmt.Sprintf("pipeline step %q failed", step),
		Cause:   cause,
		Context: map[string]interface{}{"step": step},
	}
}

// PipelineMessageError creates a step failure with an explicit message
func PipelineMessageError(step, msg string) *EngineError {
	return &EngineError{
		Type:    ErrTypePipeline,
		Message: msg,
		Context: map[string]interface{}{"step": step},
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *EngineError {
	return &EngineError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *EngineError {
	return &EngineError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error (or anything it wraps) is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var engineErr *EngineError
	if !stderrors.As(err, &engineErr) {
		return false
	}

	return engineErr.Type == errType
}

// GetType returns the error type, defaulting to ErrTypeInternal for foreign errors
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var engineErr *EngineError
	if !stderrors.As(err, &engineErr) {
		return ErrTypeInternal
	}

	return engineErr.Type
}

// IsTransient reports whether the error is a retriable connector failure
func IsTransient(err error) bool {
	var engineErr *EngineError
	if !stderrors.As(err, &engineErr) {
		return false
	}
	return engineErr.Type == ErrTypeConnector && engineErr.Transient
}

// IsValidation reports whether the error is a validation failure
func IsValidation(err error) bool {
	return IsType(err, ErrTypeValidation)
}

// IsNotFound reports whether the error is a missing model or record
func IsNotFound(err error) bool {
	return IsType(err, ErrTypeNotFound)
}

// StepName extracts the originating step from a pipeline error, or ""
func StepName(err error) string {
	var engineErr *EngineError
	if !stderrors.As(err, &engineErr) {
		return ""
	}
	if engineErr.Type != ErrTypePipeline || engineErr.Context == nil {
		return ""
	}
	if step, ok := engineErr.Context["step"].(string); ok {
		return step
	}
	return ""
}

// FieldErrors extracts field-level detail from a validation error, or nil
func FieldErrors(err error) []FieldError {
	var engineErr *EngineError
	if !stderrors.As(err, &engineErr) {
		return nil
	}
	return engineErr.Fields
}
