package retry

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

var errnoCodes = map[syscall.Errno]string{
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.EPIPE:        "EPIPE",
}

var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"temporarily unavailable",
	"service unavailable",
	"too many requests",
	"rate limit",
	"econnreset",
	"etimedout",
	"econnrefused",
}

// StatusCode extracts an HTTP-like status from err via a StatusCode() int
// method anywhere in its chain.
func StatusCode(err error) (int, bool) {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code > 0 {
			return code, true
		}
	}
	return 0, false
}

// ErrorCode extracts a symbolic error code from err: a Code() string method,
// a syscall errno, or a DNS failure.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if c := coded.Code(); c != "" {
			return c
		}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if c, ok := errnoCodes[errno]; ok {
			return c
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return "ENOTFOUND"
		}
		return "EAI_AGAIN"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}

	return ""
}

func matchesTransientPattern(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
