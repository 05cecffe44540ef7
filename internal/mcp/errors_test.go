package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
	"github.com/Aman-CERP/quizrag/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, 0},
		{"missing index", fmt.Errorf("load: %w", store.ErrNotFound), ErrCodeIndexNotFound},
		{"coded not found", qerrors.New(qerrors.ErrCodeNotFound, "no index", nil), ErrCodeIndexNotFound},
		{"embedding failed", qerrors.New(qerrors.ErrCodeEmbeddingFailed, "all embeddings failed", nil), ErrCodeEmbeddingFailed},
		{"network timeout", qerrors.New(qerrors.ErrCodeNetworkTimeout, "slow", nil), ErrCodeTimeout},
		{"maintenance", qerrors.New(qerrors.ErrCodeMaintenanceActive, "rebuilding", nil), ErrCodeMaintenance},
		{"empty query", qerrors.New(qerrors.ErrCodeQueryEmpty, "query is empty", nil), ErrCodeInvalidParams},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", fmt.Errorf("search: %w", context.Canceled), ErrCodeTimeout},
		{"unknown", errors.New("boom"), ErrCodeInternalError},
		{"passthrough", NewInvalidParamsError("bad"), ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: mapping the error
			got := MapError(tt.err)

			// Then: the MCP code matches
			if tt.err == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.code, got.Code)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestMapError_AppendsSuggestion(t *testing.T) {
	// Given: a coded error with a suggestion
	err := qerrors.New(qerrors.ErrCodeNotFound, "Index not found.", nil).
		WithSuggestion("Run 'quizrag rebuild'.")

	// When: mapping it
	got := MapError(err)

	// Then: the message carries both parts
	assert.Equal(t, "Index not found. Run 'quizrag rebuild'.", got.Message)
	assert.Contains(t, got.Error(), "-32001")
}
