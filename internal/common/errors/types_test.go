package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestEngineError_Error(t *testing.T) {
	tests := []struct {
		name      string
		engineErr *EngineError
		want      string
	}{
		{
			name: "basic error",
			engineErr: &EngineError{
				Type:    ErrTypeConfiguration,
				Message: "relation target missing",
			},
			want: "configuration: relation target missing",
		},
		{
			name: "error with code",
			engineErr: &EngineError{
				Type:    ErrTypeValidation,
				Message: "filter rejected",
				Code:    "Q001",
			},
			want: "validation: filter rejected: code=Q001",
		},
		{
			name: "error with cause",
			engineErr: &EngineError{
				Type:    ErrTypeConnector,
				Message: "backend \"postgres\" failed",
				Cause:   errors.New("connection reset"),
			},
			want: "connector: backend \"postgres\" failed: cause=connection reset",
		},
		{
			name: "error with fields",
			engineErr: &EngineError{
				Type:    ErrTypeValidation,
				Message: "constraint violation",
				Fields: []FieldError{
					{Field: "email", Message: "must be unique"},
				},
			},
			want: "validation: constraint violation: fields={email: must be unique}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.engineErr.Error()
			if got != tt.want {
				t.Errorf("EngineError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	engineErr := &EngineError{
		Type:    ErrTypeInternal,
		Message: "wrapper error",
		Cause:   cause,
	}

	if unwrapped := engineErr.Unwrap(); unwrapped != cause {
		t.Errorf("EngineError.Unwrap() = %v, want %v", unwrapped, cause)
	}

	noCause := &EngineError{Type: ErrTypeValidation, Message: "no cause"}
	if unwrapped := noCause.Unwrap(); unwrapped != nil {
		t.Errorf("EngineError.Unwrap() without cause = %v, want nil", unwrapped)
	}
}

func TestEngineError_WithContext(t *testing.T) {
	engineErr := ValidationError("validation failed")

	result := engineErr.WithContext("model", "User")

	if result != engineErr {
		t.Error("WithContext should return the same instance")
	}

	if engineErr.Context["model"] != "User" {
		t.Errorf("Context[model] = %v, want User", engineErr.Context["model"])
	}

	engineErr.WithContext("operation", "create")
	if len(engineErr.Context) != 2 {
		t.Errorf("Context length = %d, want 2", len(engineErr.Context))
	}
}

func TestEngineError_WithField(t *testing.T) {
	engineErr := ValidationError("constraint violation").
		WithField("email", "must be unique").
		WithField("name", "is required")

	if len(engineErr.Fields) != 2 {
		t.Fatalf("Fields length = %d, want 2", len(engineErr.Fields))
	}

	if engineErr.Fields[0].Field != "email" || engineErr.Fields[1].Field != "name" {
		t.Errorf("Fields = %v, field order not preserved", engineErr.Fields)
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name      string
		err       *EngineError
		wantType  ErrorType
		wantMsg   string
		wantCause error
	}{
		{
			name:     "configuration",
			err:      ConfigurationError("registry is sealed"),
			wantType: ErrTypeConfiguration,
			wantMsg:  "registry is sealed",
		},
		{
			name:     "configurationf",
			err:      ConfigurationErrorf("model %q has no primary key", "User"),
			wantType: ErrTypeConfiguration,
			wantMsg:  "model \"User\" has no primary key",
		},
		{
			name:     "validation",
			err:      ValidationError("bad filter"),
			wantType: ErrTypeValidation,
			wantMsg:  "bad filter",
		},
		{
			name:     "field validation",
			err:      FieldValidationError("age", "must be numeric"),
			wantType: ErrTypeValidation,
			wantMsg:  "invalid value for field \"age\"",
		},
		{
			name:     "unsupported",
			err:      UnsupportedError("redis", "Aggregation"),
			wantType: ErrTypeUnsupported,
			wantMsg:  "connector \"redis\" does not support Aggregation",
		},
		{
			name:      "connector",
			err:       ConnectorError("sqlite", cause),
			wantType:  ErrTypeConnector,
			wantMsg:   "backend \"sqlite\" failed",
			wantCause: cause,
		},
		{
			name:      "pipeline",
			err:       PipelineError("lowercase-email", cause),
			wantType:  ErrTypePipeline,
			wantMsg:   "pipeline step \"lowercase-email\" failed",
			wantCause: cause,
		},
		{
			name:     "not found",
			err:      NotFoundError("model User"),
			wantType: ErrTypeNotFound,
			wantMsg:  "model User not found",
		},
		{
			name:      "internal",
			err:       InternalError("unexpected state", cause),
			wantType:  ErrTypeInternal,
			wantMsg:   "unexpected state",
			wantCause: cause,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", tt.err.Type, tt.wantType)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %v, want %v", tt.err.Message, tt.wantMsg)
			}
			if tt.err.Cause != tt.wantCause {
				t.Errorf("Cause = %v, want %v", tt.err.Cause, tt.wantCause)
			}
		})
	}
}

func TestIsType(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		errType ErrorType
		want    bool
	}{
		{
			name:    "matching type",
			err:     ValidationError("test"),
			errType: ErrTypeValidation,
			want:    true,
		},
		{
			name:    "non-matching type",
			err:     ValidationError("test"),
			errType: ErrTypeConnector,
			want:    false,
		},
		{
			name:    "wrapped engine error",
			err:     fmt.Errorf("outer: %w", PipelineError("step", errors.New("x"))),
			errType: ErrTypePipeline,
			want:    true,
		},
		{
			name:    "foreign error",
			err:     errors.New("regular error"),
			errType: ErrTypeValidation,
			want:    false,
		},
		{
			name:    "nil error",
			err:     nil,
			errType: ErrTypeValidation,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsType(tt.err, tt.errType)
			if got != tt.want {
				t.Errorf("IsType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{
			name: "engine error",
			err:  UnsupportedError("memory", "JoinedIncludes"),
			want: ErrTypeUnsupported,
		},
		{
			name: "foreign error",
			err:  errors.New("regular error"),
			want: ErrTypeInternal,
		},
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetType(tt.err)
			if got != tt.want {
				t.Errorf("GetType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	cause := errors.New("deadlock detected")

	if !IsTransient(TransientConnectorError("postgres", cause)) {
		t.Error("IsTransient should be true for transient connector errors")
	}

	if IsTransient(ConnectorError("postgres", cause)) {
		t.Error("IsTransient should be false for permanent connector errors")
	}

	if IsTransient(ValidationError("nope")) {
		t.Error("IsTransient should be false for validation errors")
	}

	wrapped := fmt.Errorf("retrying: %w", TransientConnectorError("postgres", cause))
	if !IsTransient(wrapped) {
		t.Error("IsTransient should see through wrapping")
	}
}

func TestStepName(t *testing.T) {
	if got := StepName(PipelineError("hash-password", errors.New("x"))); got != "hash-password" {
		t.Errorf("StepName() = %v, want hash-password", got)
	}

	if got := StepName(ValidationError("x")); got != "" {
		t.Errorf("StepName() on non-pipeline error = %v, want empty", got)
	}
}

func TestFieldErrors(t *testing.T) {
	err := FieldValidationError("email", "must be unique")

	fields := FieldErrors(err)
	if len(fields) != 1 || fields[0].Field != "email" {
		t.Errorf("FieldErrors() = %v, want one entry for email", fields)
	}

	if FieldErrors(errors.New("plain")) != nil {
		t.Error("FieldErrors() on foreign error should be nil")
	}
}

func TestErrorChaining(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := InternalError("wrapped error", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("errors.Is should work through EngineError")
	}

	var engineErr *EngineError
	if !errors.As(wrappedErr, &engineErr) {
		t.Error("errors.As should work with EngineError")
	}

	if engineErr.Type != ErrTypeInternal {
		t.Errorf("Unwrapped EngineError type = %v, want %v", engineErr.Type, ErrTypeInternal)
	}
}
