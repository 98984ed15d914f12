// Package config holds the declarative session configuration shared by every
// backend, together with its defaults, validation and loaders.
package config

import (
	"fmt"
	"math/rand"
	"net/url"
	"time"
)

// HeadlessMode selects how a WebDriver browser is kept off screen.
type HeadlessMode string

const (
	// HeadlessNative passes the browser's own headless flag.
	HeadlessNative HeadlessMode = "native"
	// HeadlessVirtualDisplay runs a visible browser inside a virtual X display.
	HeadlessVirtualDisplay HeadlessMode = "virtual_display"
	// HeadlessOff runs a visible browser on the current display.
	HeadlessOff HeadlessMode = "off"
)

// Cookie is a backend-neutral cookie record.
type Cookie struct {
	Name     string    `yaml:"name"`
	Value    string    `yaml:"value"`
	Domain   string    `yaml:"domain"`
	Path     string    `yaml:"path"`
	Expires  time.Time `yaml:"expires"`
	Secure   bool      `yaml:"secure"`
	HTTPOnly bool      `yaml:"http_only"`
}

// WindowSize is a browser viewport in CSS pixels.
type WindowSize struct {
	Width  int
	Height int
}

// Recycle holds the thresholds that trigger driver recreation. Zero disables
// a threshold.
type Recycle struct {
	MaxRequests int
	MaxMemoryKB int64
}

// Delay is a fixed pause when Max <= Min, otherwise a uniformly sampled pause
// in [Min, Max].
type Delay struct {
	Min time.Duration
	Max time.Duration
}

// Fixed reports whether the delay always resolves to Min.
func (d Delay) Fixed() bool {
	return d.Max <= d.Min
}

// Sample resolves the delay to a concrete duration.
func (d Delay) Sample() time.Duration {
	if d.Fixed() {
		return d.Min
	}
	return d.Min + time.Duration(rand.Int63n(int64(d.Max-d.Min+1)))
}

// BeforeRequest lists the hooks run before every navigation.
type BeforeRequest struct {
	ClearCookies    bool
	ReapplyCookies  bool
	RotateUserAgent bool
	RotateProxy     bool
	Delay           *Delay
}

// Binaries overrides the executables used by the browser backends. Empty
// values fall back to PATH lookup or the engine's own download logic.
type Binaries struct {
	Chrome       string
	Firefox      string
	ChromeDriver string
	GeckoDriver  string
}

// Config is the backend-agnostic session configuration.
type Config struct {
	Headers         map[string]string
	UserAgent       Supplier[string]
	Proxy           Supplier[Proxy]
	ProxyBypassList []string
	Cookies         []Cookie
	CookieSeedURL   string
	SSLCertPath     string
	IgnoreSSLErrors bool
	WindowSize      *WindowSize
	DisableImages   bool
	HeadlessMode    HeadlessMode
	Recycle         Recycle
	BeforeRequest   BeforeRequest

	// MaxRetries counts retries after the first attempt: a navigation makes
	// at most MaxRetries+1 attempts, so MaxRetries transient failures in a
	// row are still recovered from.
	MaxRetries       int
	RetryBackoffStep time.Duration
	RetryableErrors  []string
	Timeout          time.Duration

	Binaries Binaries
}

// DefaultConfig returns the defaults used when a field is left unset.
func DefaultConfig() *Config {
	return &Config{
		Headers:          map[string]string{},
		HeadlessMode:     HeadlessNative,
		MaxRetries:       3,
		RetryBackoffStep: 10 * time.Second,
		RetryableErrors:  []string{"timeout", "connection"},
		Timeout:          30 * time.Second,
	}
}

// Validate checks values that do not depend on the backend. Backend-specific
// checks happen when a session is built.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoffStep < 0 {
		return fmt.Errorf("retry backoff step cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Recycle.MaxRequests < 0 {
		return fmt.Errorf("recycle max requests cannot be negative")
	}
	if c.Recycle.MaxMemoryKB < 0 {
		return fmt.Errorf("recycle max memory cannot be negative")
	}
	if d := c.BeforeRequest.Delay; d != nil && (d.Min < 0 || d.Max < 0) {
		return fmt.Errorf("delay cannot be negative")
	}
	if w := c.WindowSize; w != nil && (w.Width <= 0 || w.Height <= 0) {
		return fmt.Errorf("window size must be positive, got %dx%d", w.Width, w.Height)
	}
	switch c.HeadlessMode {
	case "", HeadlessNative, HeadlessVirtualDisplay, HeadlessOff:
	default:
		return fmt.Errorf("headless mode must be native, virtual_display or off, got %q", c.HeadlessMode)
	}
	if c.CookieSeedURL != "" {
		parsed, err := url.Parse(c.CookieSeedURL)
		if err != nil {
			return fmt.Errorf("invalid cookie seed URL: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("cookie seed URL must include a host")
		}
	}
	for _, ck := range c.Cookies {
		if ck.Name == "" {
			return fmt.Errorf("cookie name cannot be empty")
		}
	}
	return nil
}

// Clone returns a copy whose maps and slices can be modified without
// affecting c. Suppliers are shared.
func (c *Config) Clone() *Config {
	out := *c
	out.Headers = make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		out.Headers[k] = v
	}
	out.ProxyBypassList = append([]string(nil), c.ProxyBypassList...)
	out.Cookies = append([]Cookie(nil), c.Cookies...)
	out.RetryableErrors = append([]string(nil), c.RetryableErrors...)
	if c.WindowSize != nil {
		ws := *c.WindowSize
		out.WindowSize = &ws
	}
	if c.BeforeRequest.Delay != nil {
		d := *c.BeforeRequest.Delay
		out.BeforeRequest.Delay = &d
	}
	return &out
}
