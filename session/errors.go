package session

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-session/driver"
)

var (
	// ErrSessionClosed is returned by every operation after Destroy.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionBroken is returned after a fatal driver error until the
	// session is restarted or destroyed.
	ErrSessionBroken = errors.New("session driver failed; restart or destroy the session")
	// ErrUnsupported is returned by hygiene operations the backend cannot perform.
	ErrUnsupported = driver.ErrUnsupported
)

// ConfigurationError reports a configuration that cannot be built.
type ConfigurationError struct {
	Backend driver.Kind
	Field   string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s, %s): %v", e.Backend, e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErr(kind driver.Kind, field string, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Backend: kind, Field: field, Err: fmt.Errorf(format, args...)}
}

// TransientNavigationError is returned once every retry of a navigation
// failed with a retryable error. Err is the last error.
type TransientNavigationError struct {
	URL      string
	Attempts int
	Backend  driver.Kind
	Kind     string
	Err      error
}

func (e *TransientNavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %s after %d attempts on %s: %v", e.URL, e.Kind, e.Attempts, e.Backend, e.Err)
}

func (e *TransientNavigationError) Unwrap() error {
	return e.Err
}

// FatalDriverError reports a driver that crashed, stopped responding or
// could not be started.
type FatalDriverError struct {
	Backend driver.Kind
	Op      string
	Err     error
}

func (e *FatalDriverError) Error() string {
	return fmt.Sprintf("%s driver %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *FatalDriverError) Unwrap() error {
	return e.Err
}
