package session

import (
	"context"
	"log/slog"

	"github.com/aluiziolira/go-scrape-session/driver"
)

// Recycle reasons, used as metric labels.
const (
	RecycleMaxRequests = "max_requests"
	RecycleMaxMemory   = "max_memory"
)

// checkRecycle replaces the running driver once it served the configured
// number of requests or grew past the memory ceiling.
func (s *Session) checkRecycle(ctx context.Context) error {
	d := s.current()
	if d == nil {
		return nil
	}
	reason, attrs := s.recycleReason(d)
	if reason == "" {
		return nil
	}
	s.logger.Warn("recycling driver", append([]any{slog.String("reason", reason), slog.Int("pid", d.PID())}, attrs...)...)
	return s.recycle(ctx, reason)
}

func (s *Session) recycleReason(d driver.Driver) (string, []any) {
	limits := s.cfg.Recycle
	if limits.MaxRequests > 0 && s.driverRequests >= limits.MaxRequests {
		return RecycleMaxRequests, []any{
			slog.Int("requests", s.driverRequests),
			slog.Int("max_requests", limits.MaxRequests),
		}
	}
	if limits.MaxMemoryKB > 0 && s.caps.CanIntrospectMemory {
		kb := s.probe.MemoryUsageKB(d.PID())
		if kb >= limits.MaxMemoryKB {
			return RecycleMaxMemory, []any{
				slog.Int64("memory_kb", kb),
				slog.Int64("max_memory_kb", limits.MaxMemoryKB),
			}
		}
	}
	return "", nil
}

func (s *Session) recycle(ctx context.Context, reason string) error {
	s.mu.Lock()
	old := s.drv
	s.drv = nil
	s.mu.Unlock()
	if old != nil {
		s.quit(old)
	}
	s.global.IncRecycle(reason)

	d, err := s.ensureDriver(ctx)
	if err != nil {
		return err
	}
	// WebDriver cookies are set on the loaded page; reload the last one
	// before the hooks reapply them.
	if s.kind.IsWebDriver() && s.cfg.BeforeRequest.ReapplyCookies && s.lastURL != "" {
		if _, err := d.Navigate(ctx, s.lastURL); err != nil {
			s.logger.Warn("revisiting last page after recycle failed",
				slog.String("url", s.lastURL),
				slog.Any("error", err),
			)
		}
	}
	return nil
}
