package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
	"github.com/aluiziolira/go-scrape-session/models"
)

func (s *Session) unsupported(op string) error {
	s.logger.Warn("operation not supported by backend", slog.String("op", op))
	return fmt.Errorf("%s on %s: %w", op, s.kind, ErrUnsupported)
}

// withDriver runs fn against the running driver, starting one if needed.
func (s *Session) withDriver(ctx context.Context, fn func(ctx context.Context, d driver.Driver) error) error {
	s.navMu.Lock()
	defer s.navMu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	ctx, cancel := s.bind(ctx)
	defer cancel()
	d, err := s.ensureDriver(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, d)
}

// Resize sets the browser window size.
func (s *Session) Resize(ctx context.Context, width, height int) error {
	if !s.caps.CanResizeWindow {
		return s.unsupported("resize")
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("window size must be positive, got %dx%d", width, height)
	}
	return s.withDriver(ctx, func(ctx context.Context, d driver.Driver) error {
		wc, ok := d.(driver.WindowController)
		if !ok {
			return s.unsupported("resize")
		}
		return wc.Resize(ctx, width, height)
	})
}

// Cookies returns the cookies visible to the current page.
func (s *Session) Cookies(ctx context.Context) ([]config.Cookie, error) {
	if !s.caps.CanSetCookies {
		return nil, s.unsupported("cookies")
	}
	var out []config.Cookie
	err := s.withDriver(ctx, func(ctx context.Context, d driver.Driver) error {
		cc, ok := d.(driver.CookieController)
		if !ok {
			return s.unsupported("cookies")
		}
		var err error
		out, err = cc.Cookies(ctx)
		return err
	})
	return out, err
}

// SetCookies installs cookies, loading the seed URL first on backends that
// need a page.
func (s *Session) SetCookies(ctx context.Context, cookies []config.Cookie) error {
	if !s.caps.CanSetCookies {
		return s.unsupported("set_cookies")
	}
	for _, c := range cookies {
		if c.Name == "" || c.Domain == "" {
			return fmt.Errorf("cookie %q needs a name and a domain", c.Name)
		}
	}
	return s.withDriver(ctx, func(ctx context.Context, d driver.Driver) error {
		return s.setCookies(ctx, d, cookies)
	})
}

// ClearCookies removes every cookie of the driver.
func (s *Session) ClearCookies(ctx context.Context) error {
	if !s.caps.CanSetCookies {
		return s.unsupported("clear_cookies")
	}
	return s.withDriver(ctx, func(ctx context.Context, d driver.Driver) error {
		cc, ok := d.(driver.CookieController)
		if !ok {
			return s.unsupported("clear_cookies")
		}
		return cc.ClearCookies(ctx)
	})
}

// Headers returns the headers sent with every request.
func (s *Session) Headers() (map[string]string, error) {
	if !s.caps.CanSetHeaders {
		return nil, s.unsupported("headers")
	}
	s.navMu.Lock()
	defer s.navMu.Unlock()
	if hc, ok := s.current().(driver.HeaderController); ok {
		return hc.Headers(), nil
	}
	out := make(map[string]string, len(s.opts.Headers)+1)
	for k, v := range s.opts.Headers {
		out[k] = v
	}
	if s.opts.UserAgent != "" {
		out["User-Agent"] = s.opts.UserAgent
	}
	return out, nil
}

// SetHeader sets a header on the running driver and on every driver started
// after a recycle. An empty value removes the header.
func (s *Session) SetHeader(name, value string) error {
	if !s.caps.CanSetHeaders {
		return s.unsupported("set_header")
	}
	s.navMu.Lock()
	defer s.navMu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}

	key := http.CanonicalHeaderKey(name)
	switch {
	case key == "User-Agent":
		s.opts.UserAgent = value
	case value == "":
		delete(s.opts.Headers, key)
	default:
		s.opts.Headers[key] = value
	}
	if hc, ok := s.current().(driver.HeaderController); ok {
		return hc.SetHeader(key, value)
	}
	return nil
}

// SetProxy switches the proxy of the running driver and of every driver
// started after a recycle. A nil proxy restores direct connections.
func (s *Session) SetProxy(p *config.Proxy) error {
	if !s.caps.CanSetProxyDynamically {
		return s.unsupported("set_proxy")
	}
	if p != nil {
		if err := p.Validate(); err != nil {
			return &ConfigurationError{Backend: s.kind, Field: "proxy", Err: err}
		}
		if p.HasAuth() && !s.caps.CanAuthenticateProxy {
			return s.unsupported("set_proxy_auth")
		}
		cp := *p
		p = &cp
	}
	s.navMu.Lock()
	defer s.navMu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	s.opts.Proxy = p
	if pc, ok := s.current().(driver.ProxyController); ok {
		return pc.SetProxy(p)
	}
	return nil
}

// Post submits a form. It goes through the recycle check and the hooks like
// Navigate but is never retried.
func (s *Session) Post(ctx context.Context, target string, form url.Values) (*models.Response, error) {
	s.navMu.Lock()
	defer s.navMu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	ctx, cancel := s.bind(ctx)
	defer cancel()
	defer s.report(target)

	d, err := s.prepare(ctx, false)
	if err != nil {
		return nil, err
	}
	poster, ok := d.(driver.Poster)
	if !ok {
		return nil, s.unsupported("post")
	}

	s.global.IncRequest()
	s.counters.IncRequest()
	start := time.Now()
	resp, err := poster.Post(ctx, target, form)
	s.global.ObserveNavigation(string(s.kind), time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.interrupted(ctx.Err())
		}
		kind := driver.ErrorKind(err)
		s.global.IncError(kind)
		s.counters.IncError(kind)
		return resp, err
	}
	s.global.IncResponse()
	s.counters.IncResponse()
	s.lastURL = target
	return resp, nil
}

// MemoryKB measures the process tree of the running driver.
func (s *Session) MemoryKB() (int64, error) {
	if !s.caps.CanIntrospectMemory {
		return 0, s.unsupported("memory")
	}
	d := s.current()
	if d == nil {
		return 0, nil
	}
	return s.probe.MemoryUsageKB(d.PID()), nil
}
