package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/models"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// HeadlessDriver drives a Chromium instance over the DevTools protocol.
// Requests are routed through a hijack router whenever a proxy is in use, so
// the proxy can change between navigations and may require credentials.
type HeadlessDriver struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	proxies  *proxySwitch
	client   *http.Client
	closed   atomic.Bool

	mu           sync.Mutex
	headers      map[string]string
	clearHeaders func()
	router       *rod.HijackRouter
}

// LaunchHeadless is the Launcher of the headless engine.
func LaunchHeadless(ctx context.Context, opts Options) (Driver, error) {
	return NewHeadless(ctx, opts)
}

// NewHeadless starts a browser and opens a blank page.
func NewHeadless(ctx context.Context, opts Options) (*HeadlessDriver, error) {
	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if opts.BrowserBinary != "" {
		l = l.Bin(opts.BrowserBinary)
	}
	for _, arg := range opts.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch headless browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: connect: %v", ErrDriverCrashed, err)
	}
	if opts.InsecureSkipVerify {
		if err := browser.IgnoreCertErrors(true); err != nil {
			opts.logger().Warn("headless: ignoring certificate errors failed", slog.Any("error", err))
		}
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("%w: open page: %v", ErrDriverCrashed, err)
	}

	dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	ps := newProxySwitch(dialer, opts.ProxyBypass)
	transport, err := newHTTPTransport(opts, ps)
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, err
	}

	d := &HeadlessDriver{
		opts:     opts,
		launcher: l,
		browser:  browser,
		page:     page,
		proxies:  ps,
		client:   &http.Client{Transport: transport, Timeout: opts.Timeout},
		headers:  make(map[string]string, len(opts.Headers)),
	}
	for k, v := range opts.Headers {
		d.headers[http.CanonicalHeaderKey(k)] = v
	}

	if err := d.applyHeaders(); err != nil {
		_ = d.Quit()
		return nil, err
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			_ = d.Quit()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	if ws := opts.WindowSize; ws != nil {
		if err := d.Resize(ctx, ws.Width, ws.Height); err != nil {
			_ = d.Quit()
			return nil, err
		}
	}
	if opts.Proxy != nil {
		if err := d.SetProxy(opts.Proxy); err != nil {
			_ = d.Quit()
			return nil, err
		}
	}

	opts.logger().Debug("headless browser created",
		slog.Int("pid", l.PID()),
		slog.String("proxy", proxyLabel(opts.Proxy)),
	)
	return d, nil
}

// Navigate loads url and waits for the load event.
func (d *HeadlessDriver) Navigate(ctx context.Context, url string) (*models.Response, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("%w: headless browser closed", ErrDriverCrashed)
	}
	page := d.page.Context(ctx)
	if d.opts.Timeout > 0 {
		page = page.Timeout(d.opts.Timeout)
	}

	if err := page.Navigate(url); err != nil {
		return nil, d.navigationError(err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, d.navigationError(err)
	}
	html, err := page.HTML()
	if err != nil {
		return nil, d.navigationError(err)
	}

	return &models.Response{
		URL:       d.CurrentURL(),
		Body:      []byte(html),
		Backend:   string(Headless),
		FetchedAt: time.Now(),
	}, nil
}

func (d *HeadlessDriver) navigationError(err error) error {
	if d.closed.Load() {
		return fmt.Errorf("%w: %v", ErrDriverCrashed, err)
	}
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) {
		return Classify(messageError(fmt.Errorf("%s", navErr.Reason)), 0)
	}
	return Classify(messageError(err), 0)
}

// CurrentURL returns the URL of the page.
func (d *HeadlessDriver) CurrentURL() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// PID returns the browser process id.
func (d *HeadlessDriver) PID() int {
	return d.launcher.PID()
}

// Quit closes the browser and kills its process tree.
func (d *HeadlessDriver) Quit() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.mu.Lock()
	router := d.router
	d.mu.Unlock()
	if router != nil {
		_ = router.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.browser.Context(ctx).Close()
	d.launcher.Kill()
	d.launcher.Cleanup()
	return err
}

// Headers returns a copy of the extra request headers.
func (d *HeadlessDriver) Headers() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.headers))
	for k, v := range d.headers {
		out[k] = v
	}
	return out
}

// SetHeader sets an extra request header. An empty value removes it. The
// User-Agent header is applied through the user agent override.
func (d *HeadlessDriver) SetHeader(name, value string) error {
	key := http.CanonicalHeaderKey(name)
	if key == "User-Agent" {
		return d.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: value})
	}
	d.mu.Lock()
	if value == "" {
		delete(d.headers, key)
	} else {
		d.headers[key] = value
	}
	d.mu.Unlock()
	return d.applyHeaders()
}

func (d *HeadlessDriver) applyHeaders() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clearHeaders != nil {
		d.clearHeaders()
		d.clearHeaders = nil
	}
	if len(d.headers) == 0 {
		return nil
	}
	dict := make([]string, 0, len(d.headers)*2)
	for k, v := range d.headers {
		dict = append(dict, k, v)
	}
	cleanup, err := d.page.SetExtraHeaders(dict)
	if err != nil {
		return fmt.Errorf("set extra headers: %w", err)
	}
	d.clearHeaders = cleanup
	return nil
}

// SetProxy routes subsequent page requests through p. The first call
// installs the hijack router.
func (d *HeadlessDriver) SetProxy(p *config.Proxy) error {
	if err := d.proxies.set(p); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.router != nil || p == nil {
		return nil
	}
	router := d.page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if err := h.LoadResponse(d.client, true); err != nil {
			reason := proto.NetworkErrorReasonConnectionFailed
			if ErrorKind(Classify(err, 0)) == "timeout" {
				reason = proto.NetworkErrorReasonTimedOut
			}
			h.Response.Fail(reason)
		}
	})
	if err != nil {
		return fmt.Errorf("install proxy router: %w", err)
	}
	go router.Run()
	d.router = router
	return nil
}

// Cookies returns every cookie of the browser.
func (d *HeadlessDriver) Cookies(_ context.Context) ([]config.Cookie, error) {
	raw, err := d.browser.GetCookies()
	if err != nil {
		return nil, err
	}
	out := make([]config.Cookie, 0, len(raw))
	for _, c := range raw {
		ck := config.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			ck.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, ck)
	}
	return out, nil
}

// SetCookies injects cookies without needing a loaded page.
func (d *HeadlessDriver) SetCookies(_ context.Context, cookies []config.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if p.Path == "" {
			p.Path = "/"
		}
		if !c.Expires.IsZero() {
			p.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		params = append(params, p)
	}
	if len(params) == 0 {
		return nil
	}
	return d.browser.SetCookies(params)
}

// ClearCookies removes every cookie of the browser.
func (d *HeadlessDriver) ClearCookies(_ context.Context) error {
	return d.browser.SetCookies(nil)
}

// Resize sets the page viewport.
func (d *HeadlessDriver) Resize(ctx context.Context, width, height int) error {
	err := d.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	return nil
}
