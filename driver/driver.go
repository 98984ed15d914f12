// Package driver defines the contract every backend implements, the static
// capability table, and the three built-in backends.
package driver

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/models"
)

// Driver is one live backend instance. Implementations are used by a single
// goroutine at a time, except Quit which may be called concurrently with an
// in-flight Navigate to abort it.
type Driver interface {
	Navigate(ctx context.Context, url string) (*models.Response, error)
	CurrentURL() string
	// PID is the root process of the backend, 0 when it runs in-process.
	PID() int
	Quit() error
}

// HeaderController is implemented by backends that control request headers.
type HeaderController interface {
	Headers() map[string]string
	SetHeader(name, value string) error
}

// ProxyController is implemented by backends that switch proxies on a live
// driver. A nil proxy restores direct connections.
type ProxyController interface {
	SetProxy(p *config.Proxy) error
}

// CookieController is implemented by backends that read and write cookies.
type CookieController interface {
	Cookies(ctx context.Context) ([]config.Cookie, error)
	SetCookies(ctx context.Context, cookies []config.Cookie) error
	ClearCookies(ctx context.Context) error
}

// WindowController is implemented by backends with a resizable window.
type WindowController interface {
	Resize(ctx context.Context, width, height int) error
}

// Poster is implemented by backends that can submit a form without a page.
type Poster interface {
	Post(ctx context.Context, url string, form url.Values) (*models.Response, error)
}

// Options are the backend-native construction parameters computed once when
// a session is built and reused for every driver it launches.
type Options struct {
	Timeout time.Duration

	// Args are browser command line switches in "--name[=value]" form.
	Args []string
	// Prefs are browser profile preferences.
	Prefs map[string]any
	// Capabilities are extra WebDriver capabilities.
	Capabilities map[string]any

	Headers     map[string]string
	UserAgent   string
	Proxy       *config.Proxy
	ProxyBypass []string

	CACertPath         string
	InsecureSkipVerify bool

	WindowSize  *config.WindowSize
	BlockImages bool

	Headless       bool
	VirtualDisplay bool

	BrowserBinary string
	DriverBinary  string

	// Transport replaces the network layer of the HTTP emulator.
	Transport http.RoundTripper

	Logger *slog.Logger
}

// Clone returns a deep copy of the option maps and slices.
func (o Options) Clone() Options {
	out := o
	out.Args = append([]string(nil), o.Args...)
	out.ProxyBypass = append([]string(nil), o.ProxyBypass...)
	out.Prefs = make(map[string]any, len(o.Prefs))
	for k, v := range o.Prefs {
		out.Prefs[k] = v
	}
	out.Capabilities = make(map[string]any, len(o.Capabilities))
	for k, v := range o.Capabilities {
		out.Capabilities[k] = v
	}
	out.Headers = make(map[string]string, len(o.Headers))
	for k, v := range o.Headers {
		out.Headers[k] = v
	}
	if o.Proxy != nil {
		p := *o.Proxy
		out.Proxy = &p
	}
	if o.WindowSize != nil {
		ws := *o.WindowSize
		out.WindowSize = &ws
	}
	return out
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
