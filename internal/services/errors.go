package services

import "net/http"

// FailureKind classifies every way a verification request can fail. Handlers
// inspect the kind and code; they never see raw transport or storage errors.
type FailureKind int

const (
	FailureInvalidRequest FailureKind = iota
	FailureUnauthorized
	FailureRateLimited
	FailureUpstreamUnavailable
	FailureUpstreamRejected
	FailureStorage
)

// VerifyError is the classified failure surfaced to callers.
type VerifyError struct {
	Kind    FailureKind
	Code    string
	Message string
	Status  int
}

func (e *VerifyError) Error() string {
	return e.Message
}

// Retryable reports whether the caller may usefully retry the request.
func (e *VerifyError) Retryable() bool {
	switch e.Kind {
	case FailureRateLimited, FailureUpstreamUnavailable, FailureStorage:
		return true
	default:
		return false
	}
}

func errInvalidRequest(message string) *VerifyError {
	return &VerifyError{
		Kind:    FailureInvalidRequest,
		Code:    "INVALID_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func errForbiddenApp(message string) *VerifyError {
	return &VerifyError{
		Kind:    FailureInvalidRequest,
		Code:    "FORBIDDEN_APP",
		Message: message,
		Status:  http.StatusForbidden,
	}
}

func errUnauthorized() *VerifyError {
	return &VerifyError{
		Kind:    FailureUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: "Missing or invalid X-Client-Key",
		Status:  http.StatusUnauthorized,
	}
}

func errRateLimited(message string) *VerifyError {
	return &VerifyError{
		Kind:    FailureRateLimited,
		Code:    "RATE_LIMITED",
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
}

func errUpstreamUnavailable(message string) *VerifyError {
	return &VerifyError{
		Kind:    FailureUpstreamUnavailable,
		Code:    "GOOGLE_API_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
	}
}

func errUpstreamRejected(message string) *VerifyError {
	return &VerifyError{
		Kind:    FailureUpstreamRejected,
		Code:    "GOOGLE_API_ERROR",
		Message: message,
		Status:  http.StatusBadGateway,
	}
}

func errStorage() *VerifyError {
	return &VerifyError{
		Kind:    FailureStorage,
		Code:    "DATABASE_ERROR",
		Message: "Failed to persist verification",
		Status:  http.StatusServiceUnavailable,
	}
}
