// Package errors provides structured error handling for amanrank.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (corpus files, document store)
//   - 3XX: Collaborator errors (embedding provider, vector index, reranker, remote cache)
//   - 4XX: Validation errors
//   - 5XX: Pipeline and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and document store errors.
	CategoryIO Category = "IO"
	// CategoryCollaborator indicates a failing external collaborator.
	CategoryCollaborator Category = "COLLABORATOR"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates pipeline and unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCorpusRead   = "ERR_202_CORPUS_READ"
	ErrCodeStoreFailed  = "ERR_203_STORE_FAILED"
	ErrCodeStoreLocked  = "ERR_204_STORE_LOCKED"

	// Collaborator errors (300-399)
	ErrCodeEmbeddingUnavailable = "ERR_301_EMBEDDING_UNAVAILABLE"
	ErrCodeIndexUnavailable     = "ERR_302_INDEX_UNAVAILABLE"
	ErrCodeRerankerUnavailable  = "ERR_303_RERANKER_UNAVAILABLE"
	ErrCodeNetworkTimeout       = "ERR_304_NETWORK_TIMEOUT"
	ErrCodeCacheUnavailable     = "ERR_305_CACHE_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeEmptyCorpus       = "ERR_401_EMPTY_CORPUS"
	ErrCodeInvalidDocument   = "ERR_402_INVALID_DOCUMENT"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"
	ErrCodeDimensionMismatch = "ERR_404_DIMENSION_MISMATCH"
	ErrCodeInvalidInput      = "ERR_405_INVALID_INPUT"

	// Pipeline and internal errors (500-599)
	ErrCodeNoRetrieverAvailable = "ERR_501_NO_RETRIEVER_AVAILABLE"
	ErrCodeInternal             = "ERR_502_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "301" from "ERR_301_EMBEDDING_UNAVAILABLE"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryCollaborator
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeEmptyCorpus, ErrCodeStoreLocked:
		return SeverityFatal
	}

	// Collaborator outages degrade a stage, they don't fail the call
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingUnavailable, ErrCodeIndexUnavailable, ErrCodeRerankerUnavailable,
		ErrCodeNetworkTimeout, ErrCodeCacheUnavailable:
		return true
	default:
		return false
	}
}
