package errors

import (
	stderrors "errors"
	"fmt"
)

// RankError is the structured error type for amanrank.
// It carries the failing pipeline stage so callers can log and degrade.
type RankError struct {
	// Code is the unique error code (e.g., "ERR_301_EMBEDDING_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Stage names the pipeline stage that failed ("bm25", "vector", "rerank", "cache").
	Stage string

	// Category is the error category (Config, IO, Collaborator, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrEmptyCorpus          = &RankError{Code: ErrCodeEmptyCorpus}
	ErrInvalidDocument      = &RankError{Code: ErrCodeInvalidDocument}
	ErrEmbeddingUnavailable = &RankError{Code: ErrCodeEmbeddingUnavailable}
	ErrIndexUnavailable     = &RankError{Code: ErrCodeIndexUnavailable}
	ErrRerankerUnavailable  = &RankError{Code: ErrCodeRerankerUnavailable}
	ErrNoRetrieverAvailable = &RankError{Code: ErrCodeNoRetrieverAvailable}
	ErrQueryEmpty           = &RankError{Code: ErrCodeQueryEmpty}
	ErrDimensionMismatch    = &RankError{Code: ErrCodeDimensionMismatch}
)

// Error implements the error interface.
func (e *RankError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Stage, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RankError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *RankError) Is(target error) bool {
	if t, ok := target.(*RankError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithStage records the pipeline stage the error originated from.
func (e *RankError) WithStage(stage string) *RankError {
	e.Stage = stage
	return e
}

// WithDetail adds a key-value detail to the error.
func (e *RankError) WithDetail(key, value string) *RankError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RankError) WithSuggestion(suggestion string) *RankError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RankError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RankError {
	return &RankError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RankError from an existing error.
func Wrap(code string, err error) *RankError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// StageError creates a RankError attributed to a pipeline stage.
func StageError(code, stage string, cause error) *RankError {
	msg := "stage failed"
	if cause != nil {
		msg = cause.Error()
	}
	return New(code, msg, cause).WithStage(stage)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RankError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RankError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RankError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var re *RankError
	if stderrors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var re *RankError
	if stderrors.As(err, &re) {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a RankError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var re *RankError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetStage extracts the stage from a RankError in the chain.
func GetStage(err error) string {
	var re *RankError
	if stderrors.As(err, &re) {
		return re.Stage
	}
	return ""
}
