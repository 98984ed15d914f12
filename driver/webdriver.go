package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/models"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"github.com/tebeka/selenium/firefox"
)

const driverStartTimeout = 15 * time.Second

// WebDriver drives Firefox or Chrome through a locally started
// geckodriver/chromedriver. The driver process is started by this package so
// its pid, and the browser processes below it, can be measured and killed.
type WebDriver struct {
	kind   Kind
	opts   Options
	cmd    *exec.Cmd
	wd     selenium.WebDriver
	closed atomic.Bool
	exited chan struct{}

	mu      sync.Mutex
	current string
}

// LaunchFirefox is the Launcher of the Firefox WebDriver backend.
func LaunchFirefox(ctx context.Context, opts Options) (Driver, error) {
	return NewWebDriver(ctx, WebDriverFirefox, opts)
}

// LaunchChrome is the Launcher of the Chrome WebDriver backend.
func LaunchChrome(ctx context.Context, opts Options) (Driver, error) {
	return NewWebDriver(ctx, WebDriverChrome, opts)
}

// NewWebDriver starts the driver executable and opens a browser session.
func NewWebDriver(ctx context.Context, kind Kind, opts Options) (*WebDriver, error) {
	if !kind.IsWebDriver() {
		return nil, fmt.Errorf("%w %q: not a webdriver backend", ErrUnknownKind, kind)
	}
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("allocate driver port: %w", err)
	}

	bin := opts.DriverBinary
	if bin == "" {
		bin = "chromedriver"
		if kind == WebDriverFirefox {
			bin = "geckodriver"
		}
	}
	args := driverArgs(kind, port)
	if opts.VirtualDisplay {
		args = append([]string{"-a", bin}, args...)
		bin = "xvfb-run"
	}

	cmd := exec.Command(bin, args...)
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}
	d := &WebDriver{kind: kind, opts: opts, cmd: cmd, exited: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(d.exited)
	}()

	urlPrefix := "http://127.0.0.1:" + strconv.Itoa(port)
	if err := d.waitReady(ctx, urlPrefix); err != nil {
		d.kill()
		return nil, err
	}

	wd, err := selenium.NewRemote(capabilitiesFor(kind, opts), urlPrefix)
	if err != nil {
		d.kill()
		return nil, fmt.Errorf("%w: new session: %v", ErrDriverCrashed, err)
	}
	d.wd = wd
	if opts.Timeout > 0 {
		if err := wd.SetPageLoadTimeout(opts.Timeout); err != nil {
			opts.logger().Warn("webdriver: page load timeout not applied", slog.Any("error", err))
		}
	}

	opts.logger().Debug("webdriver created",
		slog.String("backend", string(kind)),
		slog.Int("pid", d.PID()),
		slog.Int("port", port),
	)
	return d, nil
}

func driverArgs(kind Kind, port int) []string {
	if kind == WebDriverFirefox {
		return []string{"--port", strconv.Itoa(port)}
	}
	return []string{"--port=" + strconv.Itoa(port)}
}

func capabilitiesFor(kind Kind, opts Options) selenium.Capabilities {
	caps := selenium.Capabilities{}
	for k, v := range opts.Capabilities {
		caps[k] = v
	}
	switch kind {
	case WebDriverFirefox:
		caps["browserName"] = "firefox"
		caps.AddFirefox(firefox.Capabilities{
			Binary: opts.BrowserBinary,
			Args:   opts.Args,
			Prefs:  opts.Prefs,
		})
	default:
		caps["browserName"] = "chrome"
		caps.AddChrome(chrome.Capabilities{
			Path:  opts.BrowserBinary,
			Args:  opts.Args,
			Prefs: opts.Prefs,
			W3C:   true,
		})
	}
	return caps
}

func (d *WebDriver) waitReady(ctx context.Context, urlPrefix string) error {
	ctx, cancel := context.WithTimeout(ctx, driverStartTimeout)
	defer cancel()
	client := &http.Client{Timeout: time.Second}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlPrefix+"/status", nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s not ready: %v", ErrDriverCrashed, d.kind, ctx.Err())
		case <-d.exited:
			return fmt.Errorf("%w: %s exited during startup", ErrDriverCrashed, d.kind)
		case <-ticker.C:
		}
	}
}

// Navigate loads url. The WebDriver protocol has no cancellation, so a
// cancelled context terminates the driver.
func (d *WebDriver) Navigate(ctx context.Context, url string) (*models.Response, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("%w: %s closed", ErrDriverCrashed, d.kind)
	}

	type result struct {
		html string
		cur  string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := d.wd.Get(url); err != nil {
			done <- result{err: err}
			return
		}
		cur, err := d.wd.CurrentURL()
		if err != nil {
			done <- result{err: err}
			return
		}
		html, err := d.wd.PageSource()
		done <- result{html: html, cur: cur, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		_ = d.Quit()
		return nil, ctx.Err()
	}
	if res.err != nil {
		if d.closed.Load() {
			return nil, fmt.Errorf("%w: %v", ErrDriverCrashed, res.err)
		}
		return nil, Classify(messageError(res.err), 0)
	}

	d.mu.Lock()
	d.current = res.cur
	d.mu.Unlock()
	return &models.Response{
		URL:       res.cur,
		Body:      []byte(res.html),
		Backend:   string(d.kind),
		FetchedAt: time.Now(),
	}, nil
}

// CurrentURL returns the last URL reported by the browser.
func (d *WebDriver) CurrentURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// PID returns the driver process id; the browser runs below it.
func (d *WebDriver) PID() int {
	if d.cmd == nil || d.cmd.Process == nil {
		return 0
	}
	return d.cmd.Process.Pid
}

// Quit ends the browser session and kills the driver process group.
func (d *WebDriver) Quit() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if d.wd != nil {
		quit := make(chan error, 1)
		go func() { quit <- d.wd.Quit() }()
		select {
		case err = <-quit:
		case <-time.After(5 * time.Second):
			err = errors.New("webdriver quit timed out")
		}
	}
	d.kill()
	return err
}

func (d *WebDriver) kill() {
	pid := d.PID()
	if pid == 0 {
		return
	}
	killProcessGroup(d.cmd)
	select {
	case <-d.exited:
	case <-time.After(5 * time.Second):
	}
}

// Cookies returns the cookies visible to the current page.
func (d *WebDriver) Cookies(_ context.Context) ([]config.Cookie, error) {
	raw, err := d.wd.GetCookies()
	if err != nil {
		return nil, Classify(messageError(err), 0)
	}
	out := make([]config.Cookie, 0, len(raw))
	for _, c := range raw {
		ck := config.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path, Secure: c.Secure}
		if c.Expiry > 0 {
			ck.Expires = time.Unix(int64(c.Expiry), 0)
		}
		out = append(out, ck)
	}
	return out, nil
}

// SetCookies adds cookies to the current page's domain. The browser must
// already be on a page of that domain.
func (d *WebDriver) SetCookies(_ context.Context, cookies []config.Cookie) error {
	for _, c := range cookies {
		ck := &selenium.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path, Secure: c.Secure}
		if ck.Path == "" {
			ck.Path = "/"
		}
		if !c.Expires.IsZero() {
			ck.Expiry = uint(c.Expires.Unix())
		}
		if err := d.wd.AddCookie(ck); err != nil {
			return fmt.Errorf("add cookie %s: %w", c.Name, Classify(messageError(err), 0))
		}
	}
	return nil
}

// ClearCookies deletes every cookie of the current page.
func (d *WebDriver) ClearCookies(_ context.Context) error {
	if err := d.wd.DeleteAllCookies(); err != nil {
		return Classify(messageError(err), 0)
	}
	return nil
}

// Resize sets the outer size of the current window.
func (d *WebDriver) Resize(_ context.Context, width, height int) error {
	handle, err := d.wd.CurrentWindowHandle()
	if err != nil {
		return Classify(messageError(err), 0)
	}
	if err := d.wd.ResizeWindow(handle, width, height); err != nil {
		return Classify(messageError(err), 0)
	}
	return nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
