package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses, job error details and internal error handling.
const (
	ErrCodeTimeout      = "SCRAPE_TIMEOUT"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeBrowserCrash = "BROWSER_CRASH"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"

	// Target-site session errors.
	ErrCodeAuthRejected   = "AUTH_REJECTED"
	ErrCodeSessionMissing = "SESSION_MISSING"

	// Page content errors.
	ErrCodeParse             = "PARSE_FAILED"
	ErrCodeStructure         = "STRUCTURE_NOT_FOUND"
	ErrCodePaginationStalled = "PAGINATION_STALLED"

	// Job lifecycle.
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeJobTerminal = "JOB_TERMINAL"
	ErrCodeCanceled    = "CANCELED"
	ErrCodeInterrupted = "INTERRUPTED"

	// Exports.
	ErrCodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
)

// Cancellation causes attached to a job's context.
var (
	ErrJobCanceled = errors.New("job canceled by user")
	ErrShutdown    = errors.New("server shutting down")
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the outermost ScrapeError in err's chain,
// or ErrCodeInternal.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a transient page failure worth
// another attempt: timeouts, navigation failures and stalled pagination.
// Authentication, parsing and cancellation are never retried.
func IsRetryable(err error) bool {
	var se *ScrapeError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case ErrCodeTimeout, ErrCodeNavigation, ErrCodePaginationStalled:
		return true
	default:
		return false
	}
}
