package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with Error
	err := New(ErrCodeNotFound, "index not found", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "storage error",
			code:     ErrCodeNotFound,
			message:  "index.json not found",
			expected: "[ERR_201_NOT_FOUND] index.json not found",
		},
		{
			name:     "invalid state",
			code:     ErrCodeInvalidState,
			message:  "task is processing",
			expected: "[ERR_402_INVALID_STATE] task is processing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeInvalidState, "task a", nil)
	err2 := New(ErrCodeInvalidState, "task b", nil)
	other := New(ErrCodeNotFound, "missing", nil)

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, other))
}

func TestError_Is_ThroughFmtWrapping(t *testing.T) {
	// Given: a structured error wrapped by fmt.Errorf
	wrapped := fmt.Errorf("cancel task: %w", New(ErrCodeInvalidState, "not pending", nil))

	// Then: code matching and helpers see through the wrapper
	assert.True(t, errors.Is(wrapped, New(ErrCodeInvalidState, "", nil)))
	assert.Equal(t, ErrCodeInvalidState, GetCode(wrapped))
	assert.Equal(t, CategoryValidation, GetCategory(wrapped))
}

func TestError_WithDetailAndSuggestion(t *testing.T) {
	err := New(ErrCodeStorageIO, "put failed", nil).
		WithDetail("path", "index/quiz-index.json").
		WithSuggestion("Check bucket permissions")

	assert.Equal(t, "index/quiz-index.json", err.Details["path"])
	assert.Equal(t, "Check bucket permissions", err.Suggestion)
}

func TestError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeNotFound, CategoryStorage},
		{ErrCodeConcurrentModification, CategoryStorage},
		{ErrCodeEmbeddingFailed, CategoryNetwork},
		{ErrCodeGenerationFailed, CategoryNetwork},
		{ErrCodeQueryEmpty, CategoryValidation},
		{ErrCodeMaintenanceActive, CategoryInternal},
		{"BAD", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.wantCategory, categoryFromCode(tt.code))
		})
	}
}

func TestError_SeverityAndRetryable(t *testing.T) {
	tests := []struct {
		code          string
		wantSeverity  Severity
		wantRetryable bool
	}{
		{ErrCodeCorruptIndex, SeverityFatal, false},
		{ErrCodeStorageIO, SeverityWarning, true},
		{ErrCodeConcurrentModification, SeverityWarning, true},
		{ErrCodeNetworkTimeout, SeverityWarning, true},
		{ErrCodeInvalidState, SeverityError, false},
		{ErrCodeNotFound, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIsRetryableAndIsFatal(t *testing.T) {
	assert.True(t, IsRetryable(NetworkError("timeout", nil)))
	assert.True(t, IsRetryable(fmt.Errorf("save: %w", StorageError("put", nil))))
	assert.False(t, IsRetryable(ValidationError("bad", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))

	assert.True(t, IsFatal(New(ErrCodeCorruptIndex, "bad json", nil)))
	assert.False(t, IsFatal(InternalError("x", nil)))
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	err := ConfigError("unknown storage backend", nil).WithSuggestion("Use local, memory, s3 or minio")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: unknown storage backend")
	assert.Contains(t, out, "Hint: Use local, memory, s3 or minio")
	assert.Contains(t, out, "Code: ERR_102_CONFIG_INVALID")
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatJSON_WrapsPlainErrors(t *testing.T) {
	data, err := FormatJSON(errors.New("boom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"code":"ERR_501_INTERNAL"`)
	assert.Contains(t, string(data), `"cause":"boom"`)
}

func TestFormatForLog(t *testing.T) {
	attrs := FormatForLog(New(ErrCodeStorageIO, "put failed", errors.New("503")).WithDetail("path", "p"))

	assert.Equal(t, ErrCodeStorageIO, attrs["error_code"])
	assert.Equal(t, "503", attrs["cause"])
	assert.Equal(t, "p", attrs["detail_path"])
	assert.Equal(t, map[string]any{"error": "plain"}, FormatForLog(errors.New("plain")))
}
