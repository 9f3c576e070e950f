package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredError_Error(t *testing.T) {
	// Test error without cause
	err := New(ErrorTypePrecondition, "evaluate", "test file not found")
	expected := "[precondition] evaluate: test file not found"
	assert.Equal(t, expected, err.Error())

	// Test error with cause
	cause := errors.New("connection refused")
	err = Wrap(cause, ErrorTypeService, "execute", "query service request failed")
	assert.Contains(t, err.Error(), "[service] execute: query service request failed")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, cause, err.Unwrap())
}

func TestStructuredError_WithContext(t *testing.T) {
	err := New(ErrorTypePrecondition, "ingest", "dataset file not found")
	err = err.WithContext("path", "/tmp/x_train.jsonl").WithContext("records", 500)

	assert.Equal(t, "/tmp/x_train.jsonl", err.Context["path"])
	assert.Equal(t, 500, err.Context["records"])
}

func TestErrorConstructors(t *testing.T) {
	assert.Equal(t, ErrorTypePrecondition, NewPreconditionError("op", "msg").Type)
	assert.Equal(t, ErrorTypeService, NewServiceError("op", "msg").Type)
	assert.Equal(t, ErrorTypeConfiguration, NewConfigurationError("op", "msg").Type)
	assert.Equal(t, ErrorTypeUsage, NewUsageError("op", "msg").Type)
}

func TestErrorWrapping(t *testing.T) {
	originalErr := errors.New("original error")

	wrapped := WrapDecodeError(originalErr, "load_queries", "invalid record")
	assert.Equal(t, ErrorTypeDecode, wrapped.Type)
	assert.Equal(t, "load_queries", wrapped.Operation)
	assert.Equal(t, "invalid record", wrapped.Message)
	assert.Equal(t, originalErr, wrapped.Unwrap())

	// Test that Wrap returns nil for nil error
	assert.Nil(t, Wrap(nil, ErrorTypeStorage, "op", "msg"))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"usage", NewUsageError("op", "msg"), ExitUsage},
		{"precondition", NewPreconditionError("op", "msg"), ExitPrecondition},
		{"service", NewServiceError("op", "msg"), ExitService},
		{"configuration", NewConfigurationError("op", "msg"), ExitConfiguration},
		{"decode", WrapDecodeError(errors.New("x"), "op", "msg"), ExitDecode},
		{"storage", WrapStorageError(errors.New("x"), "op", "msg"), ExitStorage},
		{"plain", errors.New("boom"), 1},
		{"wrapped with fmt", fmt.Errorf("stage ingest: %w", NewServiceError("op", "msg")), ExitService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	inner := NewPreconditionError("load", "missing file")
	outer := Wrap(inner, ErrorTypeStorage, "stage", "failed")

	assert.True(t, Is(outer, ErrorTypeStorage))
	assert.True(t, Is(outer, ErrorTypePrecondition))
	assert.False(t, Is(outer, ErrorTypeService))
	assert.False(t, Is(errors.New("plain"), ErrorTypeService))
}

func TestStackTraceCapture(t *testing.T) {
	err := New(ErrorTypePrecondition, "test", "message")
	// Should have captured some stack frames
	assert.Greater(t, len(err.Stack), 0)
}
