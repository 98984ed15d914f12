package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/models"
)

func TestCapabilityTable(t *testing.T) {
	tests := []struct {
		kind        Kind
		headers     bool
		dynProxy    bool
		authProxy   bool
		memory      bool
		resize      bool
		seedCookies bool
	}{
		{kind: HTTPEmulator, headers: true, dynProxy: true, authProxy: true},
		{kind: Headless, headers: true, dynProxy: true, authProxy: true, memory: true, resize: true},
		{kind: WebDriverFirefox, memory: true, resize: true, seedCookies: true},
		{kind: WebDriverChrome, memory: true, resize: true, seedCookies: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			caps := CapabilitiesOf(tt.kind)
			if caps.CanSetHeaders != tt.headers {
				t.Fatalf("CanSetHeaders = %v, want %v", caps.CanSetHeaders, tt.headers)
			}
			if caps.CanSetProxyDynamically != tt.dynProxy {
				t.Fatalf("CanSetProxyDynamically = %v, want %v", caps.CanSetProxyDynamically, tt.dynProxy)
			}
			if caps.CanAuthenticateProxy != tt.authProxy {
				t.Fatalf("CanAuthenticateProxy = %v, want %v", caps.CanAuthenticateProxy, tt.authProxy)
			}
			if caps.CanIntrospectMemory != tt.memory {
				t.Fatalf("CanIntrospectMemory = %v, want %v", caps.CanIntrospectMemory, tt.memory)
			}
			if caps.CanResizeWindow != tt.resize {
				t.Fatalf("CanResizeWindow = %v, want %v", caps.CanResizeWindow, tt.resize)
			}
			if caps.RequiresSeedURLForCookies != tt.seedCookies {
				t.Fatalf("RequiresSeedURLForCookies = %v, want %v", caps.RequiresSeedURLForCookies, tt.seedCookies)
			}
			if !caps.CanSetCookies {
				t.Fatalf("every built-in backend sets cookies")
			}
		})
	}
}

func TestCapabilitiesOfUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown kind")
		}
	}()
	CapabilitiesOf("lynx")
}

type stubDriver struct{ pid int }

func (s *stubDriver) Navigate(context.Context, string) (*models.Response, error) {
	return &models.Response{}, nil
}
func (s *stubDriver) CurrentURL() string { return "" }
func (s *stubDriver) PID() int           { return s.pid }
func (s *stubDriver) Quit() error        { return nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	for _, k := range BuiltinKinds {
		if _, _, err := r.Lookup(k); err != nil {
			t.Fatalf("built-in %s missing: %v", k, err)
		}
	}

	if _, _, err := r.Lookup("custom"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("lookup unknown err = %v, want ErrUnknownKind", err)
	}

	launch := func(context.Context, Options) (Driver, error) { return &stubDriver{pid: 7}, nil }
	if err := r.Register("custom", Capabilities{CanSetCookies: true}, launch); err != nil {
		t.Fatalf("register: %v", err)
	}
	caps, got, err := r.Lookup("custom")
	if err != nil {
		t.Fatalf("lookup custom: %v", err)
	}
	if !caps.CanSetCookies {
		t.Fatalf("custom capabilities not stored")
	}
	d, err := got(context.Background(), Options{})
	if err != nil || d.PID() != 7 {
		t.Fatalf("custom launcher returned %v, %v", d, err)
	}

	if err := r.Register("", Capabilities{}, launch); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	if err := r.Register("nil", Capabilities{}, nil); err == nil {
		t.Fatalf("expected error for nil launcher")
	}
	if n := len(r.Kinds()); n != 5 {
		t.Fatalf("kinds = %d, want 5", n)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, expected: "timeout"},
		{name: "net timeout", err: &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, expected: "timeout"},
		{name: "navigation timeout", err: fmt.Errorf("%w: page", ErrNavigationTimeout), expected: "timeout"},
		{name: "dial", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: "connection"},
		{name: "reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), expected: "connection"},
		{name: "connection sentinel", err: fmt.Errorf("%w: x", ErrConnectionReset), expected: "connection"},
		{name: "forbidden", statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", statusCode: http.StatusBadGateway, expected: "http_status"},
		{name: "crash", err: fmt.Errorf("%w: gone", ErrDriverCrashed), expected: "driver_crashed"},
		{name: "other", err: errors.New("some other error"), expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorKind(Classify(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("Classify(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestMessageError(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{msg: "timeout: Timed out receiving message from renderer", want: "timeout"},
		{msg: "unknown error: net::ERR_CONNECTION_REFUSED", want: "connection"},
		{msg: "Reached error page: about:neterror?e=connectionFailure", want: "connection"},
		{msg: "invalid session id", want: "driver_crashed"},
		{msg: "element not interactable", want: "other"},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := ErrorKind(Classify(messageError(errors.New(tt.msg)), 0)); got != tt.want {
				t.Fatalf("kind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProxySwitch(t *testing.T) {
	ps := newProxySwitch(&net.Dialer{}, []string{"internal.test"})
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/page", nil)

	if u, err := ps.proxyFunc(req); err != nil || u != nil {
		t.Fatalf("direct proxyFunc = %v, %v", u, err)
	}

	p := &config.Proxy{Scheme: "http", Host: "10.0.0.5", Port: 3128, User: "u", Password: "p"}
	if err := ps.set(p); err != nil {
		t.Fatalf("set: %v", err)
	}
	u, err := ps.proxyFunc(req)
	if err != nil || u == nil || u.Host != "10.0.0.5:3128" {
		t.Fatalf("proxyFunc = %v, %v", u, err)
	}
	if u.User.Username() != "u" {
		t.Fatalf("proxy credentials lost: %v", u)
	}

	bypassed, _ := http.NewRequest(http.MethodGet, "http://internal.test/", nil)
	if u, _ := ps.proxyFunc(bypassed); u != nil {
		t.Fatalf("bypass host proxied via %v", u)
	}

	if err := ps.set(&config.Proxy{Scheme: "socks5", Host: "10.0.0.6", Port: 1080}); err != nil {
		t.Fatalf("set socks5: %v", err)
	}
	if u, _ := ps.proxyFunc(req); u != nil {
		t.Fatalf("socks5 should not use the http proxy func, got %v", u)
	}
	if got := ps.get(); got == nil || got.Scheme != "socks5" {
		t.Fatalf("get = %+v", got)
	}

	if err := ps.set(&config.Proxy{Scheme: "ftp", Host: "h", Port: 21}); !errors.Is(err, config.ErrUnsupportedProxyScheme) {
		t.Fatalf("ftp err = %v", err)
	}
}

func TestOptionsClone(t *testing.T) {
	opts := Options{
		Args:    []string{"--a"},
		Prefs:   map[string]any{"x": 1},
		Headers: map[string]string{"A": "1"},
		Proxy:   &config.Proxy{Scheme: "http", Host: "h", Port: 1},
	}
	clone := opts.Clone()
	clone.Args[0] = "--b"
	clone.Prefs["x"] = 2
	clone.Headers["A"] = "2"
	clone.Proxy.Port = 2
	if opts.Args[0] != "--a" || opts.Prefs["x"] != 1 || opts.Headers["A"] != "1" || opts.Proxy.Port != 1 {
		t.Fatalf("clone shares state with original: %+v", opts)
	}
}
