package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
	"github.com/aluiziolira/go-scrape-session/models"
	"github.com/aluiziolira/go-scrape-session/stats"
)

// State is the lifecycle stage of a session.
type State int

const (
	// StateIdle means no driver is running yet.
	StateIdle State = iota
	// StateActive means a driver is running.
	StateActive
	// StateBroken means the driver died; Restart or Destroy the session.
	StateBroken
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateBroken:
		return "broken"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session owns at most one driver at a time and routes every navigation
// through the request engine. A session is meant for a single goroutine;
// Destroy may be called from any goroutine and aborts in-flight work.
type Session struct {
	id       string
	kind     driver.Kind
	caps     driver.Capabilities
	cfg      *config.Config
	opts     driver.Options
	launch   driver.Launcher
	setup    []setupStep
	warnings []string

	global   *stats.Global
	counters *stats.Counters
	probe    MemoryProbe
	logger   *slog.Logger
	sleep    Sleeper

	life   context.Context
	cancel context.CancelFunc

	// navMu serialises navigations, hooks and hygiene operations.
	navMu          sync.Mutex
	driverRequests int
	lastURL        string

	mu    sync.Mutex // guards drv and state
	drv   driver.Driver
	state State
}

// NavigateOption adjusts a single navigation.
type NavigateOption func(*navigateOptions)

type navigateOptions struct {
	delay    *config.Delay
	skipHook bool
}

// WithDelay overrides the configured pre-request delay.
func WithDelay(d time.Duration) NavigateOption {
	return func(o *navigateOptions) {
		o.delay = &config.Delay{Min: d, Max: d}
	}
}

// SkipRequestOptions bypasses the recycle check and the before-request hooks.
func SkipRequestOptions() NavigateOption {
	return func(o *navigateOptions) { o.skipHook = true }
}

func (s *Session) ID() string                        { return s.id }
func (s *Session) Kind() driver.Kind                 { return s.kind }
func (s *Session) Capabilities() driver.Capabilities { return s.caps }

// Warnings lists the features disabled when the session was built.
func (s *Session) Warnings() []string {
	return append([]string(nil), s.warnings...)
}

// State returns the lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns the counters of this session. It waits for an in-flight
// navigation to finish.
func (s *Session) Stats() stats.Snapshot {
	s.navMu.Lock()
	defer s.navMu.Unlock()
	return s.counters.Snapshot()
}

// MemorySamples returns the recent memory readings of this session in KB.
func (s *Session) MemorySamples() []int64 {
	s.navMu.Lock()
	defer s.navMu.Unlock()
	return s.counters.MemorySamples()
}

// Global returns the counters shared with every other session of the builder.
func (s *Session) Global() *stats.Global {
	return s.global
}

// LastURL is the last URL navigated to successfully.
func (s *Session) LastURL() string {
	s.navMu.Lock()
	defer s.navMu.Unlock()
	return s.lastURL
}

// CurrentURL is the URL the driver is showing, empty before the first
// navigation.
func (s *Session) CurrentURL() string {
	if d := s.current(); d != nil {
		return d.CurrentURL()
	}
	return ""
}

// PID is the root process of the running driver, 0 when there is none.
func (s *Session) PID() int {
	if d := s.current(); d != nil {
		return d.PID()
	}
	return 0
}

// Navigate loads url. Before the request it sleeps for the configured delay,
// recycles the driver when a threshold is reached and runs the
// before-request hooks; the navigation itself is retried on the configured
// error kinds.
func (s *Session) Navigate(ctx context.Context, url string, opts ...NavigateOption) (*models.Response, error) {
	o := navigateOptions{delay: s.cfg.BeforeRequest.Delay}
	for _, opt := range opts {
		opt(&o)
	}

	s.navMu.Lock()
	defer s.navMu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	ctx, cancel := s.bind(ctx)
	defer cancel()
	defer s.report(url)

	if o.delay != nil {
		if d := o.delay.Sample(); d > 0 {
			s.logger.Debug("delaying request", slog.Duration("delay", d))
			if err := s.sleep(ctx, d); err != nil {
				return nil, s.interrupted(err)
			}
		}
	}

	d, err := s.prepare(ctx, o.skipHook)
	if err != nil {
		return nil, err
	}
	return s.navigateWithRetry(ctx, d, url)
}

// prepare recycles the driver when due, starts it when needed and runs the
// hooks. It counts the upcoming request against the driver.
func (s *Session) prepare(ctx context.Context, skipHooks bool) (driver.Driver, error) {
	if !skipHooks {
		if err := s.checkRecycle(ctx); err != nil {
			return nil, err
		}
	}
	d, err := s.ensureDriver(ctx)
	if err != nil {
		return nil, err
	}
	if !skipHooks {
		if err := s.runHooks(ctx, d); err != nil {
			return nil, err
		}
	}
	s.driverRequests++
	return d, nil
}

// Restart replaces the driver with a new one. It is the way out of
// StateBroken.
func (s *Session) Restart(ctx context.Context) error {
	s.navMu.Lock()
	defer s.navMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.drv
	s.drv = nil
	s.state = StateIdle
	s.mu.Unlock()

	if old != nil {
		s.quit(old)
	}
	ctx, cancel := s.bind(ctx)
	defer cancel()
	_, err := s.ensureDriver(ctx)
	return err
}

// Destroy stops the driver and closes the session. It is idempotent and
// aborts any navigation, delay or backoff in progress.
func (s *Session) Destroy() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	d := s.drv
	s.drv = nil
	s.mu.Unlock()

	s.cancel()
	if d == nil {
		s.logger.Debug("session destroyed")
		return nil
	}
	if err := d.Quit(); err != nil {
		s.logger.Error("driver did not quit cleanly", slog.Any("error", err))
		return fmt.Errorf("quit %s driver: %w", s.kind, err)
	}
	s.logger.Info("session destroyed", slog.Int("pid", d.PID()))
	return nil
}

func (s *Session) current() driver.Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drv
}

func (s *Session) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateBroken:
		return ErrSessionBroken
	}
	return nil
}

// bind derives a context that is also cancelled by Destroy.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// interrupted maps a cancellation caused by Destroy to ErrSessionClosed.
func (s *Session) interrupted(err error) error {
	if s.life.Err() != nil {
		return ErrSessionClosed
	}
	return err
}

// ensureDriver returns the running driver, launching and setting up a new
// one when the slot is empty.
func (s *Session) ensureDriver(ctx context.Context) (driver.Driver, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.drv != nil {
		d := s.drv
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	start := time.Now()
	d, err := s.launch(ctx, s.opts.Clone())
	if err != nil {
		if s.life.Err() != nil {
			return nil, ErrSessionClosed
		}
		return nil, &FatalDriverError{Backend: s.kind, Op: "launch", Err: err}
	}
	for _, step := range s.setup {
		if err := step.run(ctx, s, d); err != nil {
			s.quit(d)
			if s.life.Err() != nil {
				return nil, ErrSessionClosed
			}
			return nil, fmt.Errorf("%s driver setup (%s): %w", s.kind, step.name, err)
		}
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.quit(d)
		return nil, ErrSessionClosed
	}
	s.drv = d
	s.state = StateActive
	s.mu.Unlock()
	s.driverRequests = 0

	s.logger.Info("driver started",
		slog.Int("pid", d.PID()),
		slog.Duration("startup", time.Since(start)),
		slog.String("proxy", proxyLabel(s.opts.Proxy)),
	)
	return d, nil
}

// quit stops d without blocking the caller on failure.
func (s *Session) quit(d driver.Driver) {
	if err := d.Quit(); err != nil {
		s.logger.Error("driver did not quit cleanly", slog.Int("pid", d.PID()), slog.Any("error", err))
	}
}

// report logs the counters after every request, whatever its outcome.
func (s *Session) report(url string) {
	global := s.global.Snapshot()
	local := s.counters.Snapshot()
	attrs := []any{
		slog.String("url", url),
		slog.Int64("requests", local.Requests),
		slog.Int64("responses", local.Responses),
		slog.Int64("global_requests", global.Requests),
		slog.Int64("global_responses", global.Responses),
		slog.Int64("global_errors", global.Errors()),
	}
	if s.caps.CanIntrospectMemory {
		if d := s.current(); d != nil {
			kb := s.probe.MemoryUsageKB(d.PID())
			s.counters.RecordMemory(kb)
			s.global.SetMemory(string(s.kind), kb)
			attrs = append(attrs, slog.Int64("memory_kb", kb))
		}
	}
	s.logger.Info("session stats", attrs...)
}
