package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/aluiziolira/go-scrape-session/driver"
	"github.com/aluiziolira/go-scrape-session/models"
)

// navigateWithRetry makes up to 1+MaxRetries attempts. Every attempt counts
// as a request and every failure is counted by kind; the wait before retry
// n is n times the backoff step.
func (s *Session) navigateWithRetry(ctx context.Context, d driver.Driver, url string) (*models.Response, error) {
	var backoff time.Duration
	for attempt := 1; ; attempt++ {
		s.global.IncRequest()
		s.counters.IncRequest()

		start := time.Now()
		resp, err := d.Navigate(ctx, url)
		s.global.ObserveNavigation(string(s.kind), time.Since(start))
		if err == nil {
			s.global.IncResponse()
			s.counters.IncResponse()
			s.lastURL = url
			s.logger.Debug("navigated",
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
				slog.Duration("elapsed", time.Since(start)),
			)
			return resp, nil
		}
		if ctx.Err() != nil {
			if s.life.Err() == nil {
				s.release(d)
			}
			return nil, s.interrupted(ctx.Err())
		}

		kind := driver.ErrorKind(err)
		s.global.IncError(kind)
		s.counters.IncError(kind)

		if errors.Is(err, driver.ErrDriverCrashed) {
			s.markBroken()
			s.logger.Error("driver crashed", slog.String("url", url), slog.Any("error", err))
			return nil, &FatalDriverError{Backend: s.kind, Op: "navigate", Err: err}
		}
		if !s.retryable(kind) {
			s.logger.Warn("navigation failed",
				slog.String("url", url),
				slog.String("error_type", kind),
				slog.Any("error", err),
			)
			return resp, err
		}
		if attempt > s.cfg.MaxRetries {
			s.logger.Error("navigation failed after retries",
				slog.String("url", url),
				slog.String("error_type", kind),
				slog.Int("attempts", attempt),
				slog.Any("error", err),
			)
			return nil, &TransientNavigationError{URL: url, Attempts: attempt, Backend: s.kind, Kind: kind, Err: err}
		}

		backoff += s.cfg.RetryBackoffStep
		s.global.IncRetry()
		s.logger.Warn("retrying navigation",
			slog.String("url", url),
			slog.String("error_type", kind),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
		)
		if err := s.sleep(ctx, backoff); err != nil {
			return nil, s.interrupted(err)
		}
	}
}

func (s *Session) retryable(kind string) bool {
	return slices.Contains(s.cfg.RetryableErrors, kind)
}

// markBroken drops a dead driver so its resources are released; the session
// refuses work until Restart.
func (s *Session) markBroken() {
	s.mu.Lock()
	d := s.drv
	s.drv = nil
	if s.state != StateClosed {
		s.state = StateBroken
	}
	s.mu.Unlock()
	if d != nil {
		s.quit(d)
	}
}

// release empties the slot after a navigation cancelled by the caller. A
// backend may abort its browser on cancellation, so the next navigation
// starts a fresh driver instead of finding a dead one.
func (s *Session) release(d driver.Driver) {
	s.mu.Lock()
	if s.drv != d {
		s.mu.Unlock()
		return
	}
	s.drv = nil
	if s.state == StateActive {
		s.state = StateIdle
	}
	s.mu.Unlock()
	s.quit(d)
	s.logger.Info("driver released after cancelled navigation", slog.Int("pid", d.PID()))
}
