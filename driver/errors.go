package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

var (
	// ErrNavigationTimeout is wrapped by backends when a page load times out.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrConnectionReset is wrapped by backends when the connection failed.
	ErrConnectionReset = errors.New("connection failed")
	// ErrDriverCrashed is wrapped by backends whose process or connection died.
	ErrDriverCrashed = errors.New("driver crashed")
	// ErrUnsupported is returned by hygiene operations a backend cannot perform.
	ErrUnsupported = errors.New("operation not supported by backend")
	// ErrUnknownKind is returned for a backend kind missing from the registry.
	ErrUnknownKind = errors.New("unknown backend kind")
)

// ErrTimeout indicates a timeout while navigating.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus indicates any other 4xx or 5xx response.
type ErrHTTPStatus struct {
	StatusCode int
}

func (e ErrHTTPStatus) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Classify maps a raw backend error and optional HTTP status onto the typed
// errors above. Errors it does not recognise are returned unchanged.
func Classify(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, ErrDriverCrashed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNavigationTimeout) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	if errors.Is(err, ErrConnectionReset) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return ErrConnection{Err: err}
	}

	if statusCode >= http.StatusBadRequest {
		wrapped := err
		if wrapped == nil {
			wrapped = ErrHTTPStatus{StatusCode: statusCode}
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
		return wrapped
	}

	return err
}

// ErrorKind returns the label used for error counters and retry allow-lists.
func ErrorKind(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		return "http_status"
	}
	if errors.Is(err, ErrDriverCrashed) {
		return "driver_crashed"
	}
	return "other"
}

// messageError classifies a backend error that only exposes a message, such
// as WebDriver responses.
func messageError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "err_connection"),
		strings.Contains(msg, "err_proxy_connection_failed"),
		strings.Contains(msg, "err_tunnel_connection_failed"),
		strings.Contains(msg, "neterror"),
		strings.Contains(msg, "err_name_not_resolved"):
		return fmt.Errorf("%w: %v", ErrConnectionReset, err)
	case strings.Contains(msg, "invalid session id"),
		strings.Contains(msg, "session deleted"),
		strings.Contains(msg, "no such window"),
		strings.Contains(msg, "chrome not reachable"),
		strings.Contains(msg, "browsing context has been discarded"):
		return fmt.Errorf("%w: %v", ErrDriverCrashed, err)
	}
	return err
}
