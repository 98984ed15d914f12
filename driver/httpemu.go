package driver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/models"
	"github.com/gocolly/colly/v2"
)

const responseKey = "response"

// HTTPEmulatorDriver fetches pages with a colly collector. It runs
// in-process and has no browser window.
type HTTPEmulatorDriver struct {
	opts      Options
	collector *colly.Collector
	proxies   *proxySwitch
	transport *http.Transport

	life   context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu      sync.Mutex
	headers map[string]string
	reqCtx  context.Context
	current string
}

// LaunchHTTPEmulator is the Launcher of the HTTP emulator.
func LaunchHTTPEmulator(_ context.Context, opts Options) (Driver, error) {
	return NewHTTPEmulator(opts)
}

// NewHTTPEmulator builds an HTTP emulator driver.
func NewHTTPEmulator(opts Options) (*HTTPEmulatorDriver, error) {
	dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	ps := newProxySwitch(dialer, opts.ProxyBypass)
	if err := ps.set(opts.Proxy); err != nil {
		return nil, err
	}

	life, cancel := context.WithCancel(context.Background())
	d := &HTTPEmulatorDriver{
		opts:    opts,
		proxies: ps,
		life:    life,
		cancel:  cancel,
		headers: make(map[string]string, len(opts.Headers)+1),
	}
	for k, v := range opts.Headers {
		d.headers[http.CanonicalHeaderKey(k)] = v
	}
	if opts.UserAgent != "" {
		d.headers["User-Agent"] = opts.UserAgent
	}

	base := opts.Transport
	if base == nil {
		transport, err := newHTTPTransport(opts, ps)
		if err != nil {
			cancel()
			return nil, err
		}
		d.transport = transport
		base = transport
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	if opts.UserAgent != "" {
		collector.UserAgent = opts.UserAgent
	}
	if opts.Timeout > 0 {
		collector.SetRequestTimeout(opts.Timeout)
	}
	collector.WithTransport(&boundTransport{base: base, current: d.requestContext})
	jar, err := cookiejar.New(nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	collector.SetCookieJar(jar)
	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(responseKey, r)
	})
	d.collector = collector

	opts.logger().Debug("http emulator created",
		slog.String("proxy", proxyLabel(opts.Proxy)),
		slog.Int("headers", len(d.headers)),
	)
	return d, nil
}

// Navigate issues a GET request.
func (d *HTTPEmulatorDriver) Navigate(ctx context.Context, rawURL string) (*models.Response, error) {
	return d.do(ctx, http.MethodGet, rawURL, nil)
}

// Post submits an url-encoded form.
func (d *HTTPEmulatorDriver) Post(ctx context.Context, rawURL string, form url.Values) (*models.Response, error) {
	return d.do(ctx, http.MethodPost, rawURL, form)
}

func (d *HTTPEmulatorDriver) do(ctx context.Context, method, rawURL string, form url.Values) (*models.Response, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("%w: http emulator closed", ErrDriverCrashed)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(d.life, cancel)
	defer stop()

	d.mu.Lock()
	d.reqCtx = reqCtx
	hdr := make(http.Header, len(d.headers))
	for k, v := range d.headers {
		hdr.Set(k, v)
	}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.reqCtx = nil
		d.mu.Unlock()
	}()

	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	cctx := colly.NewContext()
	var err error
	if body != nil {
		err = d.collector.Request(method, rawURL, body, cctx, hdr)
	} else {
		err = d.collector.Request(method, rawURL, nil, cctx, hdr)
	}
	if err != nil {
		if d.closed.Load() {
			return nil, fmt.Errorf("%w: %v", ErrDriverCrashed, err)
		}
		return nil, Classify(err, 0)
	}

	r, ok := cctx.GetAny(responseKey).(*colly.Response)
	if !ok || r == nil {
		return nil, fmt.Errorf("no response for %s", rawURL)
	}

	finalURL := rawURL
	if r.Request != nil && r.Request.URL != nil {
		finalURL = r.Request.URL.String()
	}
	d.mu.Lock()
	d.current = finalURL
	d.mu.Unlock()

	resp := &models.Response{
		URL:        finalURL,
		StatusCode: r.StatusCode,
		Body:       r.Body,
		Backend:    string(HTTPEmulator),
		FetchedAt:  time.Now(),
	}
	if r.Headers != nil {
		resp.Headers = r.Headers.Clone()
	}
	if r.StatusCode >= http.StatusBadRequest {
		return resp, Classify(nil, r.StatusCode)
	}
	return resp, nil
}

func (d *HTTPEmulatorDriver) requestContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reqCtx
}

// CurrentURL returns the URL of the last response.
func (d *HTTPEmulatorDriver) CurrentURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// PID is always 0; the emulator runs in-process.
func (d *HTTPEmulatorDriver) PID() int { return 0 }

// Quit aborts any request in flight and releases idle connections.
func (d *HTTPEmulatorDriver) Quit() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()
	if d.transport != nil {
		d.transport.CloseIdleConnections()
	}
	return nil
}

// Headers returns a copy of the default request headers.
func (d *HTTPEmulatorDriver) Headers() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.headers))
	for k, v := range d.headers {
		out[k] = v
	}
	return out
}

// SetHeader sets a default request header. An empty value removes it.
func (d *HTTPEmulatorDriver) SetHeader(name, value string) error {
	key := http.CanonicalHeaderKey(name)
	d.mu.Lock()
	defer d.mu.Unlock()
	if value == "" {
		delete(d.headers, key)
		return nil
	}
	d.headers[key] = value
	return nil
}

// SetProxy switches the upstream proxy for subsequent requests.
func (d *HTTPEmulatorDriver) SetProxy(p *config.Proxy) error {
	if err := d.proxies.set(p); err != nil {
		return err
	}
	if d.transport != nil {
		d.transport.CloseIdleConnections()
	}
	return nil
}

// Proxy returns the active proxy, nil for direct connections.
func (d *HTTPEmulatorDriver) Proxy() *config.Proxy {
	return d.proxies.get()
}

// Cookies returns the cookies the jar would send to the current URL.
func (d *HTTPEmulatorDriver) Cookies(_ context.Context) ([]config.Cookie, error) {
	current := d.CurrentURL()
	if current == "" {
		return nil, nil
	}
	u, err := url.Parse(current)
	if err != nil {
		return nil, err
	}
	raw := d.collector.Cookies(current)
	out := make([]config.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, config.Cookie{Name: c.Name, Value: c.Value, Domain: u.Hostname(), Path: "/"})
	}
	return out, nil
}

// SetCookies stores cookies keyed by their domain.
func (d *HTTPEmulatorDriver) SetCookies(_ context.Context, cookies []config.Cookie) error {
	for _, c := range cookies {
		target := cookieURL(c)
		err := d.collector.SetCookies(target, []*http.Cookie{{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}})
		if err != nil {
			return fmt.Errorf("set cookie %s: %w", c.Name, err)
		}
	}
	return nil
}

// ClearCookies replaces the cookie jar with an empty one.
func (d *HTTPEmulatorDriver) ClearCookies(_ context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	d.collector.SetCookieJar(jar)
	return nil
}

func cookieURL(c config.Cookie) string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	return scheme + "://" + strings.TrimPrefix(c.Domain, ".") + path
}

func proxyLabel(p *config.Proxy) string {
	if p == nil {
		return "none"
	}
	return p.String()
}
