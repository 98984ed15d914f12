// Package runner drives a list of URLs through a pool of sessions. Every
// worker owns exactly one session for its whole life and destroys it on
// exit, whatever the reason.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
	"github.com/aluiziolira/go-scrape-session/models"
	"github.com/aluiziolira/go-scrape-session/parser"
	"github.com/aluiziolira/go-scrape-session/session"
	"github.com/aluiziolira/go-scrape-session/stats"
)

// Sink receives the outcome of every navigation. *pipeline.Pipeline is the
// usual implementation.
type Sink interface {
	Process(visits ...*models.Visit) error
}

// Runner fans URLs out to sessions built from the same configuration.
type Runner struct {
	builder *session.Builder
	kind    driver.Kind
	cfg     *config.Config
	sink    Sink
	workers int
	parser  *parser.Parser
	logger  *slog.Logger
}

// Option customises a Runner.
type Option func(*Runner)

// WithWorkers sets the number of concurrent sessions.
func WithWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// WithParser extracts page titles with p.
func WithParser(p *parser.Parser) Option {
	return func(r *Runner) { r.parser = p }
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New returns a runner. A nil sink discards visits.
func New(builder *session.Builder, kind driver.Kind, cfg *config.Config, sink Sink, opts ...Option) *Runner {
	r := &Runner{
		builder: builder,
		kind:    kind,
		cfg:     cfg,
		sink:    sink,
		workers: 1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = 1
	}
	return r
}

// Run visits every distinct URL once. It stops early on a configuration error, a
// sink error or cancellation of ctx; the partial result is returned in
// every case.
func (r *Runner) Run(ctx context.Context, urls []string) (*models.RunResult, error) {
	result := &models.RunResult{StartTime: time.Now(), Workers: r.workers}
	global := r.builder.Global()
	before := global.Snapshot()
	recyclesBefore := global.Recycles()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan string)
	var duplicates int
	g.Go(func() error {
		defer close(jobs)
		seen := make(map[string]struct{}, len(urls))
		for _, u := range urls {
			if _, ok := seen[u]; ok {
				duplicates++
				r.logger.Debug("skipping duplicate url", slog.String("url", u))
				continue
			}
			seen[u] = struct{}{}
			select {
			case jobs <- u:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	var failed failedURLs
	for w := 1; w <= r.workers; w++ {
		w := w
		g.Go(func() error {
			return r.work(gctx, w, jobs, &failed)
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	after := global.Snapshot()
	result.EndTime = time.Now()
	result.Requests = after.Requests - before.Requests
	result.Responses = after.Responses - before.Responses
	result.ErrorsByKind = diffErrors(after, before)
	result.Recycles = global.Recycles() - recyclesBefore
	result.FailedURLs = failed.sorted()
	result.Duplicates = duplicates

	r.logger.Info("run finished",
		slog.Int("urls", len(urls)),
		slog.Int("workers", r.workers),
		slog.Int64("requests", result.Requests),
		slog.Int64("responses", result.Responses),
		slog.Int("failed", len(result.FailedURLs)),
		slog.Duration("elapsed", result.EndTime.Sub(result.StartTime)),
	)
	return result, err
}

func (r *Runner) work(ctx context.Context, worker int, jobs <-chan string, failed *failedURLs) error {
	s, err := r.builder.Build(r.kind, r.cfg)
	if err != nil {
		return fmt.Errorf("worker %d: %w", worker, err)
	}
	logger := r.logger.With(slog.Int("worker", worker), slog.String("session", s.ID()))
	defer func() {
		if err := s.Destroy(); err != nil {
			logger.Error("destroy session", slog.Any("error", err))
		}
	}()

	for u := range jobs {
		start := time.Now()
		resp, err := s.Navigate(ctx, u)
		if ctx.Err() != nil || errors.Is(err, session.ErrSessionClosed) {
			return nil
		}

		v := r.visit(worker, u, resp, err, start)
		if err != nil {
			failed.add(u)
			logger.Warn("visit failed", slog.String("url", u), slog.String("error_type", v.ErrorKind), slog.Any("error", err))
			var fatal *session.FatalDriverError
			if errors.As(err, &fatal) {
				if rerr := s.Restart(ctx); rerr != nil {
					return fmt.Errorf("worker %d: restart after %v: %w", worker, err, rerr)
				}
			}
			if session.IsConfigurationError(err) {
				return fmt.Errorf("worker %d: %w", worker, err)
			}
		}
		if r.sink != nil {
			if err := r.sink.Process(v); err != nil {
				return fmt.Errorf("worker %d: %w", worker, err)
			}
		}
	}
	return nil
}

func (r *Runner) visit(worker int, url string, resp *models.Response, err error, start time.Time) *models.Visit {
	v := &models.Visit{
		Worker:    worker,
		URL:       url,
		Backend:   string(r.kind),
		Duration:  time.Since(start).Seconds(),
		VisitedAt: start,
	}
	if resp != nil {
		v.FinalURL = resp.URL
		v.StatusCode = resp.StatusCode
		v.Bytes = len(resp.Body)
		if r.parser != nil {
			v.Title = r.parser.Title(resp)
		}
	}
	if err != nil {
		v.Error = err.Error()
		v.ErrorKind = driver.ErrorKind(err)
	}
	return v
}

type failedURLs struct {
	mu   sync.Mutex
	urls []string
}

func (f *failedURLs) add(u string) {
	f.mu.Lock()
	f.urls = append(f.urls, u)
	f.mu.Unlock()
}

func (f *failedURLs) sorted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.urls...)
	sort.Strings(out)
	return out
}

func diffErrors(after, before stats.Snapshot) map[string]int64 {
	out := make(map[string]int64, len(after.ErrorsByKind))
	for kind, n := range after.ErrorsByKind {
		if d := n - before.ErrorsByKind[kind]; d > 0 {
			out[kind] = d
		}
	}
	return out
}
