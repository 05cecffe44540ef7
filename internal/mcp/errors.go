// Package mcp exposes retrieval and index diagnostics as Model Context
// Protocol tools over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
	"github.com/Aman-CERP/quizrag/internal/store"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexNotFound indicates no index has been built yet.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEmbeddingFailed indicates embedding generation failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeMaintenance indicates a full rebuild is running.
	ErrCodeMaintenance = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. Validation problems
// become invalid-params errors; everything unrecognized is internal.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var qe *qerrors.Error
	if errors.As(err, &qe) {
		return mapCodedError(qe)
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return &MCPError{Code: ErrCodeIndexNotFound, Message: "Index not found. Run 'quizrag rebuild' first."}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func mapCodedError(e *qerrors.Error) *MCPError {
	message := e.Message
	if e.Suggestion != "" {
		message = fmt.Sprintf("%s %s", e.Message, e.Suggestion)
	}

	switch e.Code {
	case qerrors.ErrCodeNotFound:
		return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
	case qerrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case qerrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case qerrors.ErrCodeMaintenanceActive:
		return &MCPError{Code: ErrCodeMaintenance, Message: message}
	}

	if e.Category == qerrors.CategoryValidation {
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	}
	return &MCPError{Code: ErrCodeInternalError, Message: message}
}
