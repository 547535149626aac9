package errors

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure. Kinds are part of the wire
// contract: they are returned verbatim in the error_kind field and
// recorded on failed analyses.
type Kind string

const (
	KindInputInvalid       Kind = "InputInvalid"
	KindWeakPassword       Kind = "WeakPassword"
	KindAuthExpired        Kind = "AuthExpired"
	KindInvalidCredentials Kind = "InvalidCredentials"
	KindForbidden          Kind = "Forbidden"
	KindNotFound           Kind = "NotFound"
	KindConflict           Kind = "Conflict"
	KindNotCancellable     Kind = "NotCancellable"
	KindQuotaExceeded      Kind = "QuotaExceeded"
	KindSizeExceeded       Kind = "SizeExceeded"
	KindRateLimited        Kind = "RateLimited"
	KindInvalidArchive     Kind = "InvalidArchive"
	KindUnsupportedArchive Kind = "UnsupportedArchive"
	KindCorruptArchive     Kind = "CorruptArchive"
	KindParserFailure      Kind = "ParserFailure"
	KindParserTimeout      Kind = "ParserTimeout"
	KindParserOOM          Kind = "ParserOOM"
	KindUrlFetchFailed     Kind = "UrlFetchFailed"
	KindPartial            Kind = "partial"
	KindInternal           Kind = "Internal"
)

// AppError is the structured error carried between components. Only the
// HTTP layer converts it to a status code and response body.
type AppError struct {
	Kind       Kind                   `json:"error_kind"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewInputInvalid(code, message string) *AppError {
	return &AppError{
		Kind:       KindInputInvalid,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewWeakPassword(message string) *AppError {
	return &AppError{
		Kind:       KindWeakPassword,
		Code:       "WEAK_PASSWORD",
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewAuthExpired() *AppError {
	return &AppError{
		Kind:       KindAuthExpired,
		Code:       "AUTH_EXPIRED",
		Message:    "Authentication required",
		Retryable:  false,
		StatusCode: 401,
	}
}

func NewInvalidCredentials() *AppError {
	return &AppError{
		Kind:       KindInvalidCredentials,
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid handle or password",
		Retryable:  false,
		StatusCode: 401,
	}
}

func NewForbidden(message string) *AppError {
	return &AppError{
		Kind:       KindForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		Retryable:  false,
		StatusCode: 403,
	}
}

func NewNotFound(resource string) *AppError {
	return &AppError{
		Kind:       KindNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflict(message string) *AppError {
	return &AppError{
		Kind:       KindConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewNotCancellable(message string) *AppError {
	return &AppError{
		Kind:       KindNotCancellable,
		Code:       "NOT_CANCELLABLE",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewQuotaExceeded(message string) *AppError {
	return &AppError{
		Kind:       KindQuotaExceeded,
		Code:       "QUOTA_EXCEEDED",
		Message:    message,
		Retryable:  false,
		StatusCode: 413,
	}
}

func NewSizeExceeded(message string) *AppError {
	return &AppError{
		Kind:       KindSizeExceeded,
		Code:       "SIZE_EXCEEDED",
		Message:    message,
		Retryable:  false,
		StatusCode: 413,
	}
}

func NewRateLimited(message string) *AppError {
	return &AppError{
		Kind:       KindRateLimited,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    message,
		Retryable:  true,
		StatusCode: 429,
	}
}

func NewInvalidArchive(message string) *AppError {
	return &AppError{
		Kind:       KindInvalidArchive,
		Code:       "INVALID_ARCHIVE",
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewUnsupportedArchive(message string) *AppError {
	return &AppError{
		Kind:       KindUnsupportedArchive,
		Code:       "UNSUPPORTED_ARCHIVE",
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewCorruptArchive(message string) *AppError {
	return &AppError{
		Kind:       KindCorruptArchive,
		Code:       "CORRUPT_ARCHIVE",
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewParserFailure(message string) *AppError {
	return &AppError{
		Kind:       KindParserFailure,
		Code:       "PARSER_FAILURE",
		Message:    message,
		Retryable:  false,
		StatusCode: 500,
	}
}

func NewParserTimeout(message string) *AppError {
	return &AppError{
		Kind:       KindParserTimeout,
		Code:       "PARSER_TIMEOUT",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewParserOOM(message string) *AppError {
	return &AppError{
		Kind:       KindParserOOM,
		Code:       "PARSER_OOM",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewUrlFetchFailed(message string) *AppError {
	return &AppError{
		Kind:       KindUrlFetchFailed,
		Code:       "URL_FETCH_FAILED",
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewInternal(message string) *AppError {
	return &AppError{
		Kind:       KindInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// Predefined common errors
var (
	ErrPrincipalNotFound = NewNotFound("principal")
	ErrSessionNotFound   = NewNotFound("session")
	ErrLogFileNotFound   = NewNotFound("log file")
	ErrAnalysisNotFound  = NewNotFound("analysis")
	ErrModeNotFound      = NewNotFound("parse mode")
	ErrHandleTaken       = NewConflict("Handle is already in use")
	ErrEmailTaken        = NewConflict("Email is already in use")
	ErrPrincipalInactive = NewForbidden("Account is deactivated")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsKind checks whether an error carries a specific kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// KindOf extracts the kind from an error, defaulting to Internal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}

// AsAppError returns the AppError in err's chain, if any.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
