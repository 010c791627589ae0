package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrTooLarge is returned when a response body exceeds the size ceiling.
	ErrTooLarge = errors.New("response body exceeds size limit")
	// ErrTimeout is returned when a request does not finish within the fetch timeout.
	ErrTimeout = errors.New("fetch timed out")
	// ErrBadURL is returned for URLs that cannot be requested.
	ErrBadURL = errors.New("invalid page URL")
	// ErrTooManyRedirects is returned when the redirect limit is exceeded.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// StatusError reports a response with a non-success status code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d %s", e.Code, http.StatusText(e.Code))
}

// Transient reports whether the status is worth retrying unchanged:
// server errors and rate limiting.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// IsTransient classifies a fetch error. Transient errors are timeouts,
// refused or reset connections, temporary DNS failures, 5xx and 429.
// Everything else is permanent: other 4xx, malformed URLs, redirect loops
// and TLS failures. The poller treats both the same way; the class only
// shows up in logs.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	if errors.Is(err, ErrBadURL) || errors.Is(err, ErrTooLarge) || errors.Is(err, ErrTooManyRedirects) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	// *url.Error satisfies net.Error for every transport failure, so only
	// its Timeout report is meaningful here.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
