// Package recovery classifies provider failures and drives cross-provider
// recovery.
//
// This package contains:
//   - Classify: total mapping from an error to a domain.ErrorCategory
//   - Strategies: per-category recovery strategy table
//   - DegradationPolicy: option degradation ladder
//   - Engine: retry, switch, degrade, queue and fail-fast orchestration
package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/failover/internal/core/domain"
	"github.com/vietddude/failover/internal/infra/provider"
	"github.com/vietddude/failover/internal/infra/resilience/breaker"
	"github.com/vietddude/failover/internal/infra/resilience/retry"
)

var codeCategories = map[string]domain.ErrorCategory{
	string(provider.CodeRateLimitExceeded):   domain.CategoryRateLimit,
	string(provider.CodeTimeout):             domain.CategoryTimeout,
	string(provider.CodeAuthentication):      domain.CategoryAuthentication,
	string(provider.CodeInsufficientCredits): domain.CategoryQuotaExceeded,
	string(provider.CodeNetwork):             domain.CategoryNetworkError,
	string(provider.CodeQuotaExceeded):       domain.CategoryQuotaExceeded,
	string(provider.CodeProviderUnavailable): domain.CategoryProviderOverload,
	string(provider.CodeProcessing):          domain.CategoryProcessingError,
	string(provider.CodeInvalidParameters):   domain.CategoryAPIFailure,
	string(provider.CodeUnsupportedFeature):  domain.CategoryAPIFailure,
	string(provider.CodeQualityCheckFailed):  domain.CategoryQualityFailure,

	"ECONNRESET":   domain.CategoryNetworkError,
	"ECONNREFUSED": domain.CategoryNetworkError,
	"EPIPE":        domain.CategoryNetworkError,
	"ENOTFOUND":    domain.CategoryNetworkError,
	"EAI_AGAIN":    domain.CategoryNetworkError,
	"ETIMEDOUT":    domain.CategoryTimeout,
}

var statusCategories = map[int]domain.ErrorCategory{
	400: domain.CategoryAPIFailure,
	401: domain.CategoryAuthentication,
	402: domain.CategoryQuotaExceeded,
	403: domain.CategoryAuthentication,
	408: domain.CategoryTimeout,
	422: domain.CategoryAPIFailure,
	429: domain.CategoryRateLimit,
	500: domain.CategoryTransient,
	502: domain.CategoryTransient,
	503: domain.CategoryProviderOverload,
	504: domain.CategoryTimeout,
}

var grpcCategories = map[codes.Code]domain.ErrorCategory{
	codes.ResourceExhausted:  domain.CategoryRateLimit,
	codes.DeadlineExceeded:   domain.CategoryTimeout,
	codes.Unauthenticated:    domain.CategoryAuthentication,
	codes.PermissionDenied:   domain.CategoryAuthentication,
	codes.Unavailable:        domain.CategoryProviderOverload,
	codes.InvalidArgument:    domain.CategoryAPIFailure,
	codes.OutOfRange:         domain.CategoryAPIFailure,
	codes.Unimplemented:      domain.CategoryAPIFailure,
	codes.FailedPrecondition: domain.CategoryQuotaExceeded,
	codes.Internal:           domain.CategoryProcessingError,
	codes.DataLoss:           domain.CategoryProcessingError,
	codes.Aborted:            domain.CategoryTransient,
}

// messagePatterns is checked in order against the lowercased error text.
var messagePatterns = []struct {
	pattern  string
	category domain.ErrorCategory
}{
	{"rate limit", domain.CategoryRateLimit},
	{"too many requests", domain.CategoryRateLimit},
	{"throttl", domain.CategoryRateLimit},
	{"quota", domain.CategoryQuotaExceeded},
	{"insufficient credits", domain.CategoryQuotaExceeded},
	{"unauthorized", domain.CategoryAuthentication},
	{"invalid api key", domain.CategoryAuthentication},
	{"authentication", domain.CategoryAuthentication},
	{"timed out", domain.CategoryTimeout},
	{"timeout", domain.CategoryTimeout},
	{"quality", domain.CategoryQualityFailure},
	{"overload", domain.CategoryProviderOverload},
	{"capacity", domain.CategoryProviderOverload},
	{"unavailable", domain.CategoryProviderOverload},
	{"connection reset", domain.CategoryNetworkError},
	{"connection refused", domain.CategoryNetworkError},
	{"no such host", domain.CategoryNetworkError},
	{"network", domain.CategoryNetworkError},
	{"processing", domain.CategoryProcessingError},
	{"render", domain.CategoryProcessingError},
	{"temporar", domain.CategoryTransient},
	{"try again", domain.CategoryTransient},
	{"invalid parameter", domain.CategoryAPIFailure},
	{"unsupported", domain.CategoryAPIFailure},
}

// Classify maps err to exactly one category. Unrecognised errors, including
// nil, are system errors.
func Classify(err error) domain.ErrorCategory {
	if err == nil {
		return domain.CategorySystemError
	}

	if errors.Is(err, breaker.ErrCircuitOpen) {
		return domain.CategoryProviderOverload
	}

	if code := retry.ErrorCode(err); code != "" {
		if c, ok := codeCategories[code]; ok {
			return c
		}
	}

	if sc, ok := retry.StatusCode(err); ok {
		if c, ok := statusCategories[sc]; ok {
			return c
		}
		if sc >= 500 {
			return domain.CategoryTransient
		}
	}

	var te interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &te) && te.Timeout()) {
		return domain.CategoryTimeout
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		if c, ok := grpcCategories[st.Code()]; ok {
			return c
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.CategoryNetworkError
	}

	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if strings.Contains(msg, p.pattern) {
			return p.category
		}
	}

	return domain.CategorySystemError
}

// ErrorType names the concrete failure: the provider code, the HTTP status,
// or the Go type.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	if code := retry.ErrorCode(err); code != "" {
		return code
	}
	if sc, ok := retry.StatusCode(err); ok {
		return fmt.Sprintf("HTTP_%d", sc)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return "GRPC_" + st.Code().String()
	}
	return fmt.Sprintf("%T", err)
}

// Retryable reports whether a category is worth retrying on any provider.
func Retryable(c domain.ErrorCategory) bool {
	switch c {
	case domain.CategoryTransient,
		domain.CategoryRateLimit,
		domain.CategoryTimeout,
		domain.CategoryNetworkError,
		domain.CategoryProviderOverload,
		domain.CategoryProcessingError,
		domain.CategoryQualityFailure:
		return true
	default:
		return false
	}
}
