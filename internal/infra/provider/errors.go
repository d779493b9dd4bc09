package provider

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode is a provider-reported failure code.
type ErrorCode string

const (
	CodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeAuthentication      ErrorCode = "AUTHENTICATION_ERROR"
	CodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	CodeNetwork             ErrorCode = "NETWORK_ERROR"
	CodeQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	CodeProcessing          ErrorCode = "PROCESSING_ERROR"
	CodeInvalidParameters   ErrorCode = "INVALID_PARAMETERS"
	CodeUnsupportedFeature  ErrorCode = "UNSUPPORTED_FEATURE"
	CodeQualityCheckFailed  ErrorCode = "QUALITY_CHECK_FAILED"
)

// KnownCodes lists every recognised code.
var KnownCodes = []ErrorCode{
	CodeRateLimitExceeded,
	CodeTimeout,
	CodeAuthentication,
	CodeInsufficientCredits,
	CodeNetwork,
	CodeQuotaExceeded,
	CodeProviderUnavailable,
	CodeProcessing,
	CodeInvalidParameters,
	CodeUnsupportedFeature,
	CodeQualityCheckFailed,
}

// Error is a failure attributed to a provider.
type Error struct {
	Provider   string
	ErrCode    ErrorCode
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

// NewError creates an Error without an HTTP status.
func NewError(provider string, code ErrorCode, msg string) *Error {
	return &Error{Provider: provider, ErrCode: code, Message: msg}
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (http %d): %s", e.Provider, e.ErrCode, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.ErrCode, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the provider error code.
func (e *Error) Code() string { return string(e.ErrCode) }

// StatusCode returns the HTTP status, 0 when unknown.
func (e *Error) StatusCode() int { return e.Status }

// RetryDelay returns the provider's retry hint.
func (e *Error) RetryDelay() time.Duration { return e.RetryAfter }

// CodeForStatus maps an HTTP status to a provider error code.
func CodeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusTooManyRequests:
		return CodeRateLimitExceeded
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeAuthentication
	case http.StatusPaymentRequired:
		return CodeInsufficientCredits
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return CodeTimeout
	case http.StatusServiceUnavailable:
		return CodeProviderUnavailable
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeInvalidParameters
	case http.StatusNotImplemented:
		return CodeUnsupportedFeature
	default:
		if status >= 500 {
			return CodeProcessing
		}
		return CodeInvalidParameters
	}
}

func isKnownCode(code string) bool {
	for _, c := range KnownCodes {
		if string(c) == code {
			return true
		}
	}
	return false
}
