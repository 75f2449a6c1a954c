package normalize

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Code is the fixed error vocabulary surfaced on a failed turn.
type Code string

const (
	CodeRateLimit      Code = "RATE_LIMIT"
	CodeAuth           Code = "AUTH"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeServerError    Code = "SERVER_ERROR"
	CodeNetwork        Code = "NETWORK"
	CodeTimeout        Code = "TIMEOUT"
	CodeContentFilter  Code = "CONTENT_FILTER"
	CodeMaxIterations  Code = "MAX_ITERATIONS"
	CodeCancelled      Code = "CANCELLED"
	CodeUnknown        Code = "UNKNOWN"
)

// Retryable reports whether a request failing with c may succeed if repeated.
func (c Code) Retryable() bool {
	switch c {
	case CodeRateLimit, CodeServerError, CodeNetwork, CodeTimeout:
		return true
	default:
		return false
	}
}

// ProviderError is a backend failure with its classification.
type ProviderError struct {
	Code      Code
	Provider  string
	Model     string
	Status    int
	ErrorType string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Code)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.ErrorType != "" {
		parts = append(parts, "type="+e.ErrorType)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause and classifies it.
func NewProviderError(provider, model string, cause error) *ProviderError {
	e := &ProviderError{Provider: provider, Model: model, Cause: cause, Code: CodeUnknown}
	if cause != nil {
		e.Message = cause.Error()
		e.Code = ClassifyError(cause)
	}
	return e
}

// WithStatus records the HTTP status and reclassifies from it when it is
// more specific than the message heuristics.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if code := ClassifyStatus(status); code != CodeUnknown {
		e.Code = code
	}
	return e
}

// WithErrorType records the backend's error type string, such as
// "overloaded_error", and reclassifies from it when recognized.
func (e *ProviderError) WithErrorType(errorType string) *ProviderError {
	e.ErrorType = errorType
	if code := classifyErrorType(errorType); code != CodeUnknown {
		e.Code = code
	}
	return e
}

func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// CodeOf returns the code carried by err, classifying it if necessary.
func CodeOf(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ClassifyError(err)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return err != nil && CodeOf(err).Retryable()
}

// ClassifyError maps an arbitrary error to a Code using its type first and
// its message second.
func ClassifyError(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded", "etimedout"):
		return CodeTimeout
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "429", "insufficient_quota", "quota exceeded", "overloaded"):
		return CodeRateLimit
	case containsAny(msg, "unauthorized", "invalid api key", "invalid_api_key", "authentication", "permission denied", "401", "403"):
		return CodeAuth
	case containsAny(msg, "content_filter", "content policy", "safety", "blocked"):
		return CodeContentFilter
	case containsAny(msg, "invalid_request", "invalid request", "bad request", "400", "422", "context length", "too long"):
		return CodeInvalidRequest
	case containsAny(msg, "internal server", "server error", "bad gateway", "service unavailable", "500", "502", "503", "504"):
		return CodeServerError
	case containsAny(msg, "connection refused", "connection reset", "no such host", "broken pipe", "eof", "tls handshake"):
		return CodeNetwork
	}
	return CodeUnknown
}

// ClassifyStatus maps an HTTP status to a Code.
func ClassifyStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuth
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return CodeRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CodeTimeout
	case status == 529 || status >= 500:
		return CodeServerError
	case status >= 400:
		return CodeInvalidRequest
	}
	return CodeUnknown
}

func classifyErrorType(t string) Code {
	switch strings.ToLower(t) {
	case "rate_limit_error", "rate_limit_exceeded", "insufficient_quota", "throttlingexception", "resource_exhausted":
		return CodeRateLimit
	case "overloaded_error", "api_error", "server_error", "internalserverexception", "serviceunavailableexception", "modelnotreadyexception", "unavailable", "internal":
		return CodeServerError
	case "authentication_error", "permission_error", "invalid_api_key", "accessdeniedexception", "unrecognizedclientexception", "unauthenticated", "permission_denied":
		return CodeAuth
	case "invalid_request_error", "not_found_error", "request_too_large", "validationexception", "resourcenotfoundexception", "invalid_argument", "failed_precondition", "not_found":
		return CodeInvalidRequest
	case "content_filter", "content_policy_violation":
		return CodeContentFilter
	case "modeltimeoutexception", "deadline_exceeded":
		return CodeTimeout
	}
	return CodeUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
