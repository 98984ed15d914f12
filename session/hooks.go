package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
)

// runHooks applies the before-request options in a fixed order: clear
// cookies, reapply cookies, rotate the user agent, rotate the proxy. A hook
// runs only when the capability table allows it and the driver implements
// the matching controller; otherwise it is logged and skipped.
func (s *Session) runHooks(ctx context.Context, d driver.Driver) error {
	br := s.cfg.BeforeRequest

	if br.ClearCookies {
		if cc, ok := d.(driver.CookieController); ok && s.caps.CanSetCookies {
			if err := cc.ClearCookies(ctx); err != nil {
				return fmt.Errorf("before request: clear cookies: %w", err)
			}
		} else {
			s.skipHook("clear_cookies")
		}
	}

	if br.ReapplyCookies {
		if err := s.setCookies(ctx, d, s.cfg.Cookies); err != nil {
			return fmt.Errorf("before request: reapply cookies: %w", err)
		}
	}

	if br.RotateUserAgent {
		ua := s.cfg.UserAgent()
		if hc, ok := d.(driver.HeaderController); ok && s.caps.CanSetHeaders {
			if err := hc.SetHeader("User-Agent", ua); err != nil {
				return fmt.Errorf("before request: rotate user agent: %w", err)
			}
			s.opts.UserAgent = ua
			s.logger.Debug("user agent rotated", slog.String("user_agent", ua))
		} else {
			s.skipHook("rotate_user_agent")
		}
	}

	if br.RotateProxy {
		p := s.cfg.Proxy()
		if err := p.Validate(); err != nil {
			return &ConfigurationError{Backend: s.kind, Field: "proxy", Err: err}
		}
		if pc, ok := d.(driver.ProxyController); ok && s.caps.CanSetProxyDynamically {
			if err := pc.SetProxy(&p); err != nil {
				return fmt.Errorf("before request: rotate proxy: %w", err)
			}
			s.opts.Proxy = &p
			s.logger.Debug("proxy rotated", slog.String("proxy", p.String()))
		} else {
			s.skipHook("rotate_proxy")
		}
	}
	return nil
}

func (s *Session) skipHook(name string) {
	s.logger.Error("before-request hook not supported by driver; skipped", slog.String("hook", name))
}

// setCookies installs cookies on d. Backends that scope cookies to the
// loaded page are first sent to the seed URL while they show a blank page.
func (s *Session) setCookies(ctx context.Context, d driver.Driver, cookies []config.Cookie) error {
	cc, ok := d.(driver.CookieController)
	if !ok || !s.caps.CanSetCookies {
		return fmt.Errorf("set cookies: %w", ErrUnsupported)
	}
	if s.caps.RequiresSeedURLForCookies && blankPage(d.CurrentURL()) {
		seed := s.cfg.CookieSeedURL
		if seed == "" {
			return fmt.Errorf("set cookies: no page loaded and no cookie seed URL configured")
		}
		s.logger.Debug("loading cookie seed page", slog.String("url", seed))
		if _, err := d.Navigate(ctx, seed); err != nil {
			return fmt.Errorf("load cookie seed page: %w", err)
		}
	}
	return cc.SetCookies(ctx, cookies)
}

func blankPage(url string) bool {
	switch url {
	case "", "about:blank", "data:,":
		return true
	}
	return false
}
