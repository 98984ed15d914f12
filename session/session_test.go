package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
	"github.com/aluiziolira/go-scrape-session/models"
)

func newHTTPBuilder(t *testing.T, transport http.RoundTripper) (*Builder, *sleepRecorder, *syncBuffer) {
	t.Helper()
	sleeper := &sleepRecorder{}
	logs := &syncBuffer{}
	b := NewBuilder(
		WithHTTPTransport(transport),
		WithSleeper(sleeper.sleep),
		WithLogger(testLogger(logs)),
		WithMemoryProbe(fakeProbe{}),
	)
	return b, sleeper, logs
}

func TestNavigateRetriesTransientErrors(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var calls atomic.Int32
	transport.RegisterResponder(http.MethodGet, "http://example.test/flaky",
		func(req *http.Request) (*http.Response, error) {
			if calls.Add(1) <= 2 {
				return nil, context.DeadlineExceeded
			}
			return httpmock.NewStringResponse(http.StatusOK, "<html><title>ok</title></html>"), nil
		})

	b, sleeper, _ := newHTTPBuilder(t, transport)
	proxy, err := config.ParseProxy("http:127.0.0.1:8080")
	if err != nil {
		t.Fatalf("parse proxy: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Proxy = config.Fixed(proxy)
	cfg.MaxRetries = 2
	cfg.RetryBackoffStep = time.Second

	s := mustBuild(t, b, driver.HTTPEmulator, cfg)
	resp, err := s.Navigate(context.Background(), "http://example.test/flaky")
	if err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	snap := s.Stats()
	if snap.Requests != 3 || snap.Responses != 1 || snap.ErrorsByKind["timeout"] != 2 {
		t.Fatalf("session stats = %+v, want 3 requests, 1 response, 2 timeouts", snap)
	}
	global := b.Global().Snapshot()
	if global.ErrorsByKind["timeout"] != 2 || global.Responses != 1 {
		t.Fatalf("global stats = %+v", global)
	}
	if got := sleeper.Waits(); !slices.Equal(got, []time.Duration{time.Second, 2 * time.Second}) {
		t.Fatalf("backoff = %v, want [1s 2s]", got)
	}
	if s.LastURL() != "http://example.test/flaky" {
		t.Fatalf("last url = %q", s.LastURL())
	}
}

func TestNavigateRetryExhaustion(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "http://example.test/down",
		httpmock.NewErrorResponder(context.DeadlineExceeded))

	b, sleeper, _ := newHTTPBuilder(t, transport)
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 2

	s := mustBuild(t, b, driver.HTTPEmulator, cfg)
	_, err := s.Navigate(context.Background(), "http://example.test/down")

	var tne *TransientNavigationError
	if !errors.As(err, &tne) {
		t.Fatalf("err = %v, want *TransientNavigationError", err)
	}
	if tne.Attempts != 3 || tne.Kind != "timeout" || tne.Backend != driver.HTTPEmulator {
		t.Fatalf("unexpected error details %+v", tne)
	}
	if driver.ErrorKind(err) != "timeout" {
		t.Fatalf("wrapped kind = %q", driver.ErrorKind(err))
	}
	snap := s.Stats()
	if snap.Responses != 0 || snap.Requests != 3 || snap.ErrorsByKind["timeout"] != 3 {
		t.Fatalf("stats = %+v", snap)
	}
	if n := len(sleeper.Waits()); n != 2 {
		t.Fatalf("backoff sleeps = %d, want 2", n)
	}
}

func TestNavigateDoesNotRetryOtherErrors(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "http://example.test/missing",
		httpmock.NewStringResponder(http.StatusNotFound, "gone"))

	b, sleeper, _ := newHTTPBuilder(t, transport)
	s := mustBuild(t, b, driver.HTTPEmulator, config.DefaultConfig())

	resp, err := s.Navigate(context.Background(), "http://example.test/missing")
	if driver.ErrorKind(err) != "not_found" {
		t.Fatalf("kind = %q (%v)", driver.ErrorKind(err), err)
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response should accompany the status error, got %+v", resp)
	}
	if s.Stats().Requests != 1 || len(sleeper.Waits()) != 0 {
		t.Fatalf("non-retryable error was retried")
	}
}

func TestNavigateDelay(t *testing.T) {
	fleet := &fakeFleet{}
	b, sleeper, _ := newFakeBuilder(t, "fake", driver.Capabilities{}, fleet)
	cfg := config.DefaultConfig()
	cfg.BeforeRequest.Delay = &config.Delay{Min: 2 * time.Second, Max: 2 * time.Second}

	s := mustBuild(t, b, "fake", cfg)
	ctx := context.Background()
	if _, err := s.Navigate(ctx, "http://example.test/a"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if _, err := s.Navigate(ctx, "http://example.test/b", WithDelay(5*time.Second)); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if _, err := s.Navigate(ctx, "http://example.test/c", WithDelay(0)); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if got := sleeper.Waits(); !slices.Equal(got, []time.Duration{2 * time.Second, 5 * time.Second}) {
		t.Fatalf("delays = %v", got)
	}
}

func TestRecycleByRequestCount(t *testing.T) {
	fleet := &fakeFleet{}
	b, _, logs := newFakeBuilder(t, "fake", driver.Capabilities{}, fleet)
	cfg := config.DefaultConfig()
	cfg.Recycle.MaxRequests = 2

	s := mustBuild(t, b, "fake", cfg)
	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		if _, err := s.Navigate(ctx, fmt.Sprintf("http://example.test/%d", i)); err != nil {
			t.Fatalf("navigate %d: %v", i, err)
		}
	}
	if s.PID() != 1001 {
		t.Fatalf("pid = %d, want 1001", s.PID())
	}

	if _, err := s.Navigate(ctx, "http://example.test/3"); err != nil {
		t.Fatalf("navigate 3: %v", err)
	}
	if s.PID() != 1002 {
		t.Fatalf("pid after recycle = %d, want 1002", s.PID())
	}
	if s.driverRequests != 1 {
		t.Fatalf("per-driver requests = %d, want 1", s.driverRequests)
	}
	drivers := fleet.Launched()
	if len(drivers) != 2 || drivers[0].quits != 1 {
		t.Fatalf("old driver should be quit exactly once, launched=%d", len(drivers))
	}
	if g := b.Global(); g.Snapshot().Requests != 3 || g.Recycles() != 1 {
		t.Fatalf("global requests=%d recycles=%d", g.Snapshot().Requests, g.Recycles())
	}
	if !strings.Contains(logs.String(), "reason=max_requests") {
		t.Fatalf("recycle not logged:\n%s", logs.String())
	}
}

func TestRecycleByMemory(t *testing.T) {
	fleet := &fakeFleet{}
	caps := driver.Capabilities{CanIntrospectMemory: true}
	b, _, _ := newFakeBuilder(t, "fake", caps, fleet, WithMemoryProbe(fakeProbe{1001: 4096, 1002: 512}))
	cfg := config.DefaultConfig()
	cfg.Recycle.MaxMemoryKB = 1024

	s := mustBuild(t, b, "fake", cfg)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Navigate(ctx, "http://example.test/"); err != nil {
			t.Fatalf("navigate: %v", err)
		}
	}
	if s.PID() != 1002 || len(fleet.Launched()) != 2 {
		t.Fatalf("pid = %d launched = %d, want one memory recycle", s.PID(), len(fleet.Launched()))
	}
	if samples := s.MemorySamples(); len(samples) != 3 || samples[0] != 4096 || samples[2] != 512 {
		t.Fatalf("memory samples = %v", samples)
	}
	if kb, err := s.MemoryKB(); err != nil || kb != 512 {
		t.Fatalf("memory = %d, %v", kb, err)
	}
}

func TestRecycleQuitFailureDoesNotBlock(t *testing.T) {
	fleet := &fakeFleet{}
	b, _, logs := newFakeBuilder(t, "fake", driver.Capabilities{}, fleet)
	cfg := config.DefaultConfig()
	cfg.Recycle.MaxRequests = 1

	s := mustBuild(t, b, "fake", cfg)
	ctx := context.Background()
	if _, err := s.Navigate(ctx, "http://example.test/1"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	fleet.Launched()[0].quitErr = errors.New("process already gone")
	if _, err := s.Navigate(ctx, "http://example.test/2"); err != nil {
		t.Fatalf("navigate after failed quit: %v", err)
	}
	if !strings.Contains(logs.String(), "driver did not quit cleanly") {
		t.Fatalf("quit failure not logged")
	}
}

func TestBeforeRequestHooks(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var mu sync.Mutex
	var agents, cookies []string
	transport.RegisterResponder(http.MethodGet, "http://example.test/",
		func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			agents = append(agents, req.Header.Get("User-Agent"))
			cookies = append(cookies, req.Header.Get("Cookie"))
			mu.Unlock()
			resp := httpmock.NewStringResponse(http.StatusOK, "")
			resp.Header.Add("Set-Cookie", "tracker=1; Path=/")
			return resp, nil
		})

	b, _, _ := newHTTPBuilder(t, transport)
	n := 0
	cfg := config.DefaultConfig()
	cfg.UserAgent = func() string {
		n++
		return fmt.Sprintf("agent/%d", n)
	}
	cfg.Cookies = []config.Cookie{{Name: "sid", Value: "abc", Domain: "example.test"}}
	cfg.BeforeRequest = config.BeforeRequest{ClearCookies: true, ReapplyCookies: true, RotateUserAgent: true}

	s := mustBuild(t, b, driver.HTTPEmulator, cfg)
	for i := 0; i < 2; i++ {
		if _, err := s.Navigate(context.Background(), "http://example.test/"); err != nil {
			t.Fatalf("navigate: %v", err)
		}
	}

	if !slices.Equal(agents, []string{"agent/2", "agent/3"}) {
		t.Fatalf("user agents = %v", agents)
	}
	for i, c := range cookies {
		if c != "sid=abc" {
			t.Fatalf("request %d cookie = %q, want only the configured cookie", i, c)
		}
	}
}

func TestRotateProxyOnEmulator(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "http://example.test/", httpmock.NewStringResponder(http.StatusOK, ""))

	b, _, _ := newHTTPBuilder(t, transport)
	proxies := []config.Proxy{
		{Scheme: "http", Host: "10.0.0.1", Port: 8080},
		{Scheme: "socks5", Host: "10.0.0.2", Port: 1080},
	}
	i := 0
	cfg := config.DefaultConfig()
	cfg.Proxy = func() config.Proxy {
		p := proxies[i%len(proxies)]
		i++
		return p
	}
	cfg.BeforeRequest.RotateProxy = true

	s := mustBuild(t, b, driver.HTTPEmulator, cfg)
	if _, err := s.Navigate(context.Background(), "http://example.test/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	emu, ok := s.current().(*driver.HTTPEmulatorDriver)
	if !ok {
		t.Fatalf("driver = %T", s.current())
	}
	if p := emu.Proxy(); p == nil || p.Host != "10.0.0.2" {
		t.Fatalf("rotated proxy = %+v", p)
	}
	if s.opts.Proxy == nil || s.opts.Proxy.Host != "10.0.0.2" {
		t.Fatalf("rotated proxy should survive a recycle, opts = %+v", s.opts.Proxy)
	}
}

func TestUnsupportedHookIsSkipped(t *testing.T) {
	registry := driver.NewRegistry()
	// The embedding hides every optional interface of fakeDriver.
	launch := func(context.Context, driver.Options) (driver.Driver, error) {
		return struct{ driver.Driver }{&fakeDriver{pid: 1}}, nil
	}
	caps := driver.Capabilities{CanSetHeaders: true}
	if err := registry.Register("bare", caps, launch); err != nil {
		t.Fatalf("register: %v", err)
	}
	logs := &syncBuffer{}
	b := NewBuilder(WithRegistry(registry), WithLogger(testLogger(logs)), WithMemoryProbe(fakeProbe{}))
	cfg := config.DefaultConfig()
	cfg.UserAgent = config.Fixed("agent/1")
	cfg.BeforeRequest.RotateUserAgent = true

	s := mustBuild(t, b, "bare", cfg)
	if _, err := s.Navigate(context.Background(), "http://example.test/"); err != nil {
		t.Fatalf("unsupported hook must not fail the request: %v", err)
	}
	if !strings.Contains(logs.String(), "hook=rotate_user_agent") {
		t.Fatalf("skipped hook not logged:\n%s", logs.String())
	}
}

func TestHookNeedsCapability(t *testing.T) {
	fleet := &fakeFleet{}
	b, _, logs := newFakeBuilder(t, "jar", driver.Capabilities{}, fleet)
	cfg := config.DefaultConfig()
	cfg.BeforeRequest.ClearCookies = true

	s := mustBuild(t, b, "jar", cfg)
	ctx := context.Background()
	if _, err := s.Navigate(ctx, "http://example.test/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	d := fleet.Launched()[0]
	d.mu.Lock()
	d.cookies = []config.Cookie{{Name: "sid", Value: "abc", Domain: "example.test"}}
	d.mu.Unlock()

	if _, err := s.Navigate(ctx, "http://example.test/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	d.mu.Lock()
	left := len(d.cookies)
	d.mu.Unlock()
	if left != 1 {
		t.Fatalf("cookies cleared on a backend without cookie support")
	}
	if !strings.Contains(logs.String(), "hook=clear_cookies") {
		t.Fatalf("skipped hook not logged:\n%s", logs.String())
	}
}

func TestCancelledNavigationReleasesDriver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fleet := &fakeFleet{}
	// Like the WebDriver backend, the driver shuts itself down when the
	// caller gives up on a navigation.
	fleet.navigate = func(url string) (*models.Response, error) {
		if strings.HasSuffix(url, "/slow") {
			cancel()
			d := fleet.Launched()[0]
			d.mu.Lock()
			d.quits++
			d.mu.Unlock()
			return nil, context.Canceled
		}
		return nil, nil
	}
	b, _, _ := newFakeBuilder(t, "fake", driver.Capabilities{}, fleet)
	s := mustBuild(t, b, "fake", config.DefaultConfig())

	if _, err := s.Navigate(ctx, "http://example.test/slow"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if s.State() != StateIdle || s.PID() != 0 {
		t.Fatalf("state = %s pid = %d, cancelled driver should be released", s.State(), s.PID())
	}

	if _, err := s.Navigate(context.Background(), "http://example.test/next"); err != nil {
		t.Fatalf("navigate after cancel: %v", err)
	}
	if s.State() != StateActive || s.PID() != 1002 || len(fleet.Launched()) != 2 {
		t.Fatalf("state = %s pid = %d launched = %d, want a fresh driver", s.State(), s.PID(), len(fleet.Launched()))
	}
	if snap := s.Stats(); snap.Requests != 2 || snap.Responses != 1 {
		t.Fatalf("stats = %+v", snap)
	}
}

func TestWebDriverCookiesUseSeedURL(t *testing.T) {
	fleet := &fakeFleet{}
	b, _, _ := newFakeBuilder(t, driver.WebDriverChrome, driver.CapabilitiesOf(driver.WebDriverChrome), fleet)
	cfg := config.DefaultConfig()
	cfg.Cookies = []config.Cookie{{Name: "sid", Value: "abc", Domain: "example.test"}}
	cfg.CookieSeedURL = "http://example.test/robots.txt"

	s := mustBuild(t, b, driver.WebDriverChrome, cfg)
	if _, err := s.Navigate(context.Background(), "http://example.test/home"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	d := fleet.Launched()[0]
	if got := d.Visits(); !slices.Equal(got, []string{"http://example.test/robots.txt", "http://example.test/home"}) {
		t.Fatalf("visits = %v", got)
	}
	cookies, err := s.Cookies(context.Background())
	if err != nil || len(cookies) != 1 || cookies[0].Name != "sid" {
		t.Fatalf("cookies = %+v, %v", cookies, err)
	}
	if s.Stats().Requests != 1 {
		t.Fatalf("seed navigation should not count as a request")
	}
}

func TestWebDriverAuthProxyWarning(t *testing.T) {
	fleet := &fakeFleet{}
	b, _, logs := newFakeBuilder(t, driver.WebDriverChrome, driver.CapabilitiesOf(driver.WebDriverChrome), fleet)
	cfg := config.DefaultConfig()
	cfg.Proxy = config.Fixed(config.Proxy{Scheme: "http", Host: "10.0.0.9", Port: 3128, User: "user", Password: "secret"})

	s := mustBuild(t, b, driver.WebDriverChrome, cfg)
	if _, err := s.Navigate(context.Background(), "http://example.test/"); err != nil {
		t.Fatalf("session should stay functional: %v", err)
	}
	if !strings.Contains(logs.String(), "feature=proxy_auth") {
		t.Fatalf("auth proxy warning missing:\n%s", logs.String())
	}
	if strings.Contains(logs.String(), "secret") {
		t.Fatalf("proxy password leaked into logs")
	}
	for _, arg := range fleet.opts[0].Args {
		if strings.HasPrefix(arg, "--proxy-server") {
			t.Fatalf("proxy should not be applied, args = %v", fleet.opts[0].Args)
		}
	}
}

func TestFirefoxWindowSetup(t *testing.T) {
	fleet := &fakeFleet{}
	b, _, _ := newFakeBuilder(t, driver.WebDriverFirefox, driver.CapabilitiesOf(driver.WebDriverFirefox), fleet)
	cfg := config.DefaultConfig()
	cfg.WindowSize = &config.WindowSize{Width: 1024, Height: 768}
	cfg.Recycle.MaxRequests = 1

	s := mustBuild(t, b, driver.WebDriverFirefox, cfg)
	for i := 0; i < 2; i++ {
		if _, err := s.Navigate(context.Background(), "http://example.test/"); err != nil {
			t.Fatalf("navigate: %v", err)
		}
	}
	for _, d := range fleet.Launched() {
		if d.size != [2]int{1024, 768} {
			t.Fatalf("driver %d size = %v", d.pid, d.size)
		}
	}
}

func TestFatalDriverError(t *testing.T) {
	fleet := &fakeFleet{navigate: func(url string) (*models.Response, error) {
		if strings.HasSuffix(url, "/crash") {
			return nil, fmt.Errorf("%w: no such window", driver.ErrDriverCrashed)
		}
		return nil, nil
	}}
	b, _, _ := newFakeBuilder(t, "fake", driver.Capabilities{}, fleet)
	s := mustBuild(t, b, "fake", config.DefaultConfig())
	ctx := context.Background()

	_, err := s.Navigate(ctx, "http://example.test/crash")
	var fde *FatalDriverError
	if !errors.As(err, &fde) {
		t.Fatalf("err = %v, want *FatalDriverError", err)
	}
	if s.State() != StateBroken || fleet.Launched()[0].quits != 1 {
		t.Fatalf("state = %s, crashed driver should be released", s.State())
	}
	if _, err := s.Navigate(ctx, "http://example.test/"); !errors.Is(err, ErrSessionBroken) {
		t.Fatalf("err = %v, want ErrSessionBroken", err)
	}
	if err := s.Restart(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := s.Navigate(ctx, "http://example.test/"); err != nil {
		t.Fatalf("navigate after restart: %v", err)
	}
	if s.State() != StateActive || s.PID() != 1002 {
		t.Fatalf("state = %s pid = %d", s.State(), s.PID())
	}
}

func TestLaunchFailure(t *testing.T) {
	registry := driver.NewRegistry()
	boom := errors.New("chromedriver: executable not found")
	_ = registry.Register("broken", driver.Capabilities{}, func(context.Context, driver.Options) (driver.Driver, error) {
		return nil, boom
	})
	b := NewBuilder(WithRegistry(registry), WithMemoryProbe(fakeProbe{}))
	s := mustBuild(t, b, "broken", config.DefaultConfig())

	_, err := s.Navigate(context.Background(), "http://example.test/")
	var fde *FatalDriverError
	if !errors.As(err, &fde) || fde.Op != "launch" || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want launch FatalDriverError", err)
	}
}

func TestDestroy(t *testing.T) {
	fleet := &fakeFleet{}
	b, _, _ := newFakeBuilder(t, "fake", driver.Capabilities{}, fleet)
	s := mustBuild(t, b, "fake", config.DefaultConfig())

	if err := s.Destroy(); err != nil {
		t.Fatalf("destroy idle session: %v", err)
	}
	if err := s.Destroy(); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if _, err := s.Navigate(context.Background(), "http://example.test/"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
	if len(fleet.Launched()) != 0 {
		t.Fatalf("destroyed session launched a driver")
	}

	s = mustBuild(t, b, "fake", config.DefaultConfig())
	if _, err := s.Navigate(context.Background(), "http://example.test/"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if err := s.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if d := fleet.Launched()[0]; d.quits != 1 {
		t.Fatalf("quits = %d, want 1", d.quits)
	}
	if s.State() != StateClosed || s.PID() != 0 {
		t.Fatalf("state = %s pid = %d", s.State(), s.PID())
	}
}

func TestDestroyAbortsDelay(t *testing.T) {
	registry := driver.NewRegistry()
	fleet := &fakeFleet{}
	_ = registry.Register("fake", driver.Capabilities{}, fleet.launch)
	b := NewBuilder(WithRegistry(registry), WithMemoryProbe(fakeProbe{}))
	s, err := b.Build("fake", config.DefaultConfig())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Navigate(context.Background(), "http://example.test/", WithDelay(time.Hour))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := s.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("err = %v, want ErrSessionClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("navigation not aborted by destroy")
	}
}

func TestConcurrentSessions(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, `=~^http://example\.test/page/\d+`,
		httpmock.NewStringResponder(http.StatusOK, "<html></html>"))

	b, _, _ := newHTTPBuilder(t, transport)
	const sessions, navigations = 4, 25

	var g errgroup.Group
	all := make([]*Session, sessions)
	for i := range all {
		s := mustBuild(t, b, driver.HTTPEmulator, config.DefaultConfig())
		all[i] = s
		g.Go(func() error {
			for j := 0; j < navigations; j++ {
				if _, err := s.Navigate(context.Background(), fmt.Sprintf("http://example.test/page/%d", j)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	global := b.Global().Snapshot()
	if global.Requests != sessions*navigations || global.Responses != sessions*navigations {
		t.Fatalf("global = %+v, want %d requests", global, sessions*navigations)
	}
	for _, s := range all {
		if snap := s.Stats(); snap.Requests != navigations {
			t.Fatalf("session %s requests = %d, want %d", s.ID(), snap.Requests, navigations)
		}
	}
}

func TestHygieneOperations(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var gotForm url.Values
	var gotTrace string
	transport.RegisterResponder(http.MethodPost, "http://example.test/login",
		func(req *http.Request) (*http.Response, error) {
			_ = req.ParseForm()
			gotForm = req.PostForm
			gotTrace = req.Header.Get("X-Trace")
			return httpmock.NewStringResponse(http.StatusOK, "welcome"), nil
		})

	b, _, _ := newHTTPBuilder(t, transport)
	s := mustBuild(t, b, driver.HTTPEmulator, config.DefaultConfig())
	ctx := context.Background()

	if err := s.Resize(ctx, 800, 600); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("resize err = %v, want ErrUnsupported", err)
	}
	if _, err := s.MemoryKB(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("memory err = %v, want ErrUnsupported", err)
	}
	if err := s.SetHeader("x-trace", "t-1"); err != nil {
		t.Fatalf("set header: %v", err)
	}
	headers, err := s.Headers()
	if err != nil || headers["X-Trace"] != "t-1" {
		t.Fatalf("headers = %v, %v", headers, err)
	}
	if err := s.SetProxy(&config.Proxy{Scheme: "gopher", Host: "h", Port: 1}); !IsConfigurationError(err) {
		t.Fatalf("invalid proxy err = %v", err)
	}

	resp, err := s.Post(ctx, "http://example.test/login", url.Values{"user": {"ana"}})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if string(resp.Body) != "welcome" || gotForm.Get("user") != "ana" || gotTrace != "t-1" {
		t.Fatalf("post body=%q form=%v trace=%q", resp.Body, gotForm, gotTrace)
	}
	if snap := s.Stats(); snap.Requests != 1 || snap.Responses != 1 {
		t.Fatalf("post stats = %+v", snap)
	}

	if err := s.SetCookies(ctx, []config.Cookie{{Name: "sid", Value: "1", Domain: "example.test"}}); err != nil {
		t.Fatalf("set cookies: %v", err)
	}
	if err := s.ClearCookies(ctx); err != nil {
		t.Fatalf("clear cookies: %v", err)
	}
}
