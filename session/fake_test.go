package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
	"github.com/aluiziolira/go-scrape-session/models"
)

// fakeDriver is an in-memory browser with a page, cookies and a window.
type fakeDriver struct {
	pid      int
	navigate func(url string) (*models.Response, error)

	mu      sync.Mutex
	url     string
	visits  []string
	cookies []config.Cookie
	size    [2]int
	quits   int
	quitErr error
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) (*models.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.visits = append(d.visits, url)
	d.mu.Unlock()
	if d.navigate != nil {
		resp, err := d.navigate(url)
		if err != nil {
			return resp, err
		}
	}
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
	return &models.Response{URL: url, Backend: "fake", FetchedAt: time.Now()}, nil
}

func (d *fakeDriver) CurrentURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *fakeDriver) PID() int { return d.pid }

func (d *fakeDriver) Quit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quits++
	return d.quitErr
}

func (d *fakeDriver) Cookies(context.Context) ([]config.Cookie, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]config.Cookie(nil), d.cookies...), nil
}

func (d *fakeDriver) SetCookies(_ context.Context, cookies []config.Cookie) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.url == "" {
		return errors.New("no page loaded")
	}
	d.cookies = append(d.cookies, cookies...)
	return nil
}

func (d *fakeDriver) ClearCookies(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cookies = nil
	return nil
}

func (d *fakeDriver) Resize(_ context.Context, w, h int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.size = [2]int{w, h}
	return nil
}

func (d *fakeDriver) Visits() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.visits...)
}

// fakeFleet launches fakeDrivers with increasing PIDs.
type fakeFleet struct {
	navigate func(url string) (*models.Response, error)

	mu      sync.Mutex
	drivers []*fakeDriver
	opts    []driver.Options
}

func (f *fakeFleet) launch(_ context.Context, opts driver.Options) (driver.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fakeDriver{pid: 1001 + len(f.drivers), navigate: f.navigate}
	f.drivers = append(f.drivers, d)
	f.opts = append(f.opts, opts)
	return d, nil
}

func (f *fakeFleet) Launched() []*fakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeDriver(nil), f.drivers...)
}

// fakeProbe reports a fixed memory footprint per PID.
type fakeProbe map[int]int64

func (p fakeProbe) MemoryUsageKB(pid int) int64 { return p[pid] }

// sleepRecorder records requested waits without sleeping.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(buf *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newFakeBuilder registers fleet under kind and returns a builder with a
// recording sleeper and a captured log.
func newFakeBuilder(t *testing.T, kind driver.Kind, caps driver.Capabilities, fleet *fakeFleet, extra ...BuilderOption) (*Builder, *sleepRecorder, *syncBuffer) {
	t.Helper()
	registry := driver.NewRegistry()
	if err := registry.Register(kind, caps, fleet.launch); err != nil {
		t.Fatalf("register %s: %v", kind, err)
	}
	sleeper := &sleepRecorder{}
	logs := &syncBuffer{}
	opts := append([]BuilderOption{
		WithRegistry(registry),
		WithSleeper(sleeper.sleep),
		WithLogger(testLogger(logs)),
		WithMemoryProbe(fakeProbe{}),
	}, extra...)
	return NewBuilder(opts...), sleeper, logs
}

func mustBuild(t *testing.T, b *Builder, kind driver.Kind, cfg *config.Config) *Session {
	t.Helper()
	s, err := b.Build(kind, cfg)
	if err != nil {
		t.Fatalf("build %s: %v", kind, err)
	}
	t.Cleanup(func() { _ = s.Destroy() })
	return s
}
