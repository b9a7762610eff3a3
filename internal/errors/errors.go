package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a KeyAI error code.
type ErrorCode string

const (
	ErrPermissionDenied  ErrorCode = "PERMISSION_DENIED"  // 403, exit 3
	ErrHookUnavailable   ErrorCode = "HOOK_UNAVAILABLE"   // 501, exit 4
	ErrConfigInvalid     ErrorCode = "CONFIG_INVALID"     // 400, exit 2
	ErrChannelOverflow   ErrorCode = "CHANNEL_OVERFLOW"   // 503, recovered locally
	ErrStoreTransient    ErrorCode = "STORE_TRANSIENT"    // 503, retried
	ErrStorePersistent   ErrorCode = "STORE_PERSISTENT"   // 500, dead-lettered
	ErrStoreCorrupt      ErrorCode = "STORE_CORRUPT"      // 500, exit 4
	ErrStoreOpen         ErrorCode = "STORE_OPEN"         // 500, exit 4
	ErrInvalidQuery      ErrorCode = "INVALID_QUERY"      // 400
	ErrSearchUnavailable ErrorCode = "SEARCH_UNAVAILABLE" // 503
	ErrTimeout           ErrorCode = "TIMEOUT"            // 504, partial results marker
	ErrPatternMatch      ErrorCode = "PATTERN_MATCH"      // 500, pattern disabled
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// KeyError represents a structured error with code, status, and details.
type KeyError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPermissionDenied creates a 403 error for a refused hook or device grant.
func NewPermissionDenied(resource string, err error) *KeyError {
	msg := fmt.Sprintf("permission denied: %s", resource)
	details := map[string]any{"resource": resource}
	if err != nil {
		details["cause"] = err.Error()
	}
	return &KeyError{
		Code:    ErrPermissionDenied,
		Status:  403,
		Message: msg,
		Details: details,
	}
}

// NewHookUnavailable creates a 501 error for unsupported platforms or display servers.
func NewHookUnavailable(reason string) *KeyError {
	return &KeyError{
		Code:    ErrHookUnavailable,
		Status:  501,
		Message: fmt.Sprintf("keyboard hook unavailable: %s", reason),
		Details: map[string]any{"reason": reason},
	}
}

// NewConfigInvalid creates a 400 error for a configuration that fails validation.
func NewConfigInvalid(field, msg string) *KeyError {
	return &KeyError{
		Code:    ErrConfigInvalid,
		Status:  400,
		Message: fmt.Sprintf("invalid configuration: %s: %s", field, msg),
		Details: map[string]any{"field": field},
	}
}

// NewChannelOverflow creates a 503 error recording loss at the hook seam.
func NewChannelOverflow(channel string, dropped int64) *KeyError {
	return &KeyError{
		Code:    ErrChannelOverflow,
		Status:  503,
		Message: fmt.Sprintf("channel %q overflowed; %d events dropped", channel, dropped),
		Details: map[string]any{"channel": channel, "dropped": dropped},
	}
}

// NewStoreTransient creates a 503 error for a retryable store failure.
func NewStoreTransient(err error) *KeyError {
	msg := "transient store failure"
	if err != nil {
		msg = err.Error()
	}
	return &KeyError{
		Code:    ErrStoreTransient,
		Status:  503,
		Message: msg,
	}
}

// NewStorePersistent creates a 500 error after retries are exhausted.
func NewStorePersistent(attempts int, err error) *KeyError {
	msg := "store failure"
	if err != nil {
		msg = err.Error()
	}
	return &KeyError{
		Code:    ErrStorePersistent,
		Status:  500,
		Message: fmt.Sprintf("store failed after %d attempts: %s", attempts, msg),
		Details: map[string]any{"attempts": attempts},
	}
}

// NewStoreCorrupt creates a 500 error for an integrity check failure.
func NewStoreCorrupt(detail string) *KeyError {
	return &KeyError{
		Code:    ErrStoreCorrupt,
		Status:  500,
		Message: fmt.Sprintf("store integrity check failed: %s", detail),
		Details: map[string]any{"detail": detail},
	}
}

// NewStoreOpen creates a 500 error for a database that cannot be opened.
func NewStoreOpen(path string, err error) *KeyError {
	msg := "cannot open store"
	if err != nil {
		msg = err.Error()
	}
	return &KeyError{
		Code:    ErrStoreOpen,
		Status:  500,
		Message: fmt.Sprintf("cannot open store at %s: %s", path, msg),
		Details: map[string]any{"path": path},
	}
}

// NewInvalidQuery creates a 400 error for empty or malformed search input.
func NewInvalidQuery(msg string) *KeyError {
	return &KeyError{
		Code:    ErrInvalidQuery,
		Status:  400,
		Message: msg,
	}
}

// NewSearchUnavailable creates a 503 error when every search mode failed.
func NewSearchUnavailable(textErr, semanticErr error) *KeyError {
	details := map[string]any{}
	if textErr != nil {
		details["text"] = textErr.Error()
	}
	if semanticErr != nil {
		details["semantic"] = semanticErr.Error()
	}
	return &KeyError{
		Code:    ErrSearchUnavailable,
		Status:  503,
		Message: "all search modes failed",
		Details: details,
	}
}

// NewTimeout creates a 504 marker for an operation that returned partial results.
func NewTimeout(op string) *KeyError {
	return &KeyError{
		Code:    ErrTimeout,
		Status:  504,
		Message: fmt.Sprintf("%s deadline elapsed", op),
		Details: map[string]any{"operation": op},
	}
}

// NewPatternMatch creates a 500 error for a redaction pattern that failed at runtime.
func NewPatternMatch(pattern string, err error) *KeyError {
	msg := "pattern match failed"
	if err != nil {
		msg = err.Error()
	}
	return &KeyError{
		Code:    ErrPatternMatch,
		Status:  500,
		Message: fmt.Sprintf("pattern %q: %s", pattern, msg),
		Details: map[string]any{"pattern": pattern},
	}
}

// NewInternal creates a 500 error for unexpected internal errors. The message
// stays generic; the cause is kept in Details for logging so that raw input
// never reaches a caller-visible payload.
func NewInternal(err error) *KeyError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &KeyError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error is (or wraps) a KeyError with the given code.
func Is(err error, code ErrorCode) bool {
	var kErr *KeyError
	if stderrors.As(err, &kErr) {
		return kErr.Code == code
	}
	return false
}

// ExitCode maps an error to the CLI exit code contract: 0 success,
// 2 bad input (configuration or query), 3 permission denied, 4 hook or
// store failure, 5 fatal runtime error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var kErr *KeyError
	if !stderrors.As(err, &kErr) {
		return 5
	}
	switch kErr.Code {
	// InvalidQuery shares 2 with ConfigInvalid: both are caller input
	// the process rejected before doing any work.
	case ErrConfigInvalid, ErrInvalidQuery:
		return 2
	case ErrPermissionDenied:
		return 3
	case ErrHookUnavailable, ErrStoreOpen, ErrStoreCorrupt:
		return 4
	default:
		return 5
	}
}
