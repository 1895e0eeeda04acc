// Package mcp exposes the ranking pipeline as a Model Context Protocol server.
package mcp

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// Custom MCP error codes for amanrank.
const (
	// ErrCodeIndexNotFound indicates the store holds no documents.
	ErrCodeIndexNotFound = -32001

	// ErrCodeStageUnavailable indicates a collaborator (embedder, reranker,
	// cache) failed and no fallback produced results.
	ErrCodeStageUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
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

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var re *amerrors.RankError
	if errors.As(err, &re) {
		return mapRankError(re)
	}

	return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

func mapRankError(re *amerrors.RankError) *MCPError {
	message := re.Message
	if message == "" {
		message = re.Code
	}
	if re.Suggestion != "" {
		message = fmt.Sprintf("%s %s", message, re.Suggestion)
	}

	switch re.Code {
	case amerrors.ErrCodeEmptyCorpus:
		return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
	case amerrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case amerrors.ErrCodeNoRetrieverAvailable:
		return &MCPError{Code: ErrCodeStageUnavailable, Message: message}
	}

	switch re.Category {
	case amerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case amerrors.CategoryCollaborator:
		return &MCPError{Code: ErrCodeStageUnavailable, Message: message}
	default: // config, IO, internal
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
