// Package session builds backend-agnostic browser sessions and drives every
// navigation through the same request engine: per-request hooks, retries,
// driver recycling and statistics.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
	"github.com/aluiziolira/go-scrape-session/monitor"
	"github.com/aluiziolira/go-scrape-session/stats"
)

// MemoryProbe reports the memory footprint of a process tree in kilobytes.
type MemoryProbe interface {
	MemoryUsageKB(pid int) int64
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Builder turns a Config into sessions. A Builder is safe for concurrent use
// and every session it builds reports into the same global counters.
type Builder struct {
	registry  *driver.Registry
	global    *stats.Global
	probe     MemoryProbe
	logger    *slog.Logger
	sleep     Sleeper
	transport http.RoundTripper
}

// BuilderOption customises a Builder.
type BuilderOption func(*Builder)

// WithRegistry replaces the backend registry.
func WithRegistry(r *driver.Registry) BuilderOption {
	return func(b *Builder) { b.registry = r }
}

// WithGlobal shares global counters across builders.
func WithGlobal(g *stats.Global) BuilderOption {
	return func(b *Builder) { b.global = g }
}

// WithMemoryProbe replaces the procfs memory monitor.
func WithMemoryProbe(p MemoryProbe) BuilderOption {
	return func(b *Builder) { b.probe = p }
}

// WithLogger sets the logger sessions and drivers write to.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithSleeper replaces the clock used for delays and retry backoff.
func WithSleeper(s Sleeper) BuilderOption {
	return func(b *Builder) { b.sleep = s }
}

// WithHTTPTransport replaces the network layer of the HTTP emulator.
func WithHTTPTransport(rt http.RoundTripper) BuilderOption {
	return func(b *Builder) { b.transport = rt }
}

// NewBuilder returns a builder over the built-in backends.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = driver.NewRegistry()
	}
	if b.global == nil {
		b.global = stats.NewGlobal(nil)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.probe == nil {
		b.probe = monitor.New().WithLogger(b.logger)
	}
	if b.sleep == nil {
		b.sleep = sleepContext
	}
	return b
}

// Global returns the counters shared by every session of this builder.
func (b *Builder) Global() *stats.Global {
	return b.global
}

// Registry returns the backend registry.
func (b *Builder) Registry() *driver.Registry {
	return b.registry
}

// Build validates cfg against the capabilities of kind and returns an idle
// session. No driver is started until the first navigation. Unsupported
// optional features are disabled with a warning; misconfigurations that
// cannot be degraded return a *ConfigurationError.
func (b *Builder) Build(kind driver.Kind, cfg *config.Config) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	caps, launch, err := b.registry.Lookup(kind)
	if err != nil {
		return nil, &ConfigurationError{Backend: kind, Field: "kind", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Backend: kind, Field: "config", Err: err}
	}

	id := uuid.NewString()
	logger := b.logger.With(slog.String("session", id), slog.String("backend", string(kind)))

	t := &translation{
		kind:   kind,
		caps:   caps,
		cfg:    cfg.Clone(),
		logger: logger,
		opts: driver.Options{
			Timeout:      cfg.Timeout,
			Prefs:        map[string]any{},
			Capabilities: map[string]any{},
			Headers:      map[string]string{},
			Transport:    b.transport,
			Logger:       logger,
		},
	}
	if cfg.UserAgent != nil {
		t.userAgent = cfg.UserAgent()
	}
	if cfg.Proxy != nil {
		p := cfg.Proxy()
		t.proxy = &p
	}

	for _, translate := range translators {
		if err := translate(t); err != nil {
			return nil, err
		}
	}

	s := &Session{
		id:       id,
		kind:     kind,
		caps:     caps,
		cfg:      t.cfg,
		opts:     t.opts,
		launch:   launch,
		setup:    t.setup,
		warnings: t.warnings,
		global:   b.global,
		counters: stats.NewCounters(),
		probe:    b.probe,
		logger:   logger,
		sleep:    b.sleep,
		state:    StateIdle,
	}
	s.life, s.cancel = context.WithCancel(context.Background())

	logger.Info("session built",
		slog.String("user_agent", t.userAgent),
		slog.String("proxy", proxyLabel(t.opts.Proxy)),
		slog.Int("warnings", len(t.warnings)),
	)
	return s, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func proxyLabel(p *config.Proxy) string {
	if p == nil {
		return "direct"
	}
	return p.String()
}

// IsConfigurationError reports whether err came from an unbuildable config.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
