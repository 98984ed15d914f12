package session

import (
	"context"
	"errors"

	"github.com/aluiziolira/go-scrape-session/driver"
)

func translateCookies(t *translation) error {
	cookies := t.cfg.Cookies
	if len(cookies) == 0 {
		if t.cfg.BeforeRequest.ReapplyCookies {
			t.warn("reapply_cookies", "no cookies configured; cookie reapplication disabled")
			t.cfg.BeforeRequest.ReapplyCookies = false
		}
		return nil
	}
	if !t.caps.CanSetCookies {
		return configErr(t.kind, "cookies", "backend cannot set cookies")
	}
	for _, c := range cookies {
		if c.Domain == "" {
			return configErr(t.kind, "cookies", "cookie %q has no domain", c.Name)
		}
	}
	if t.caps.RequiresSeedURLForCookies && t.cfg.CookieSeedURL == "" {
		return &ConfigurationError{
			Backend: t.kind,
			Field:   "cookie_seed_url",
			Err:     errors.New("backend sets cookies only on a loaded page; a cookie seed URL is required"),
		}
	}

	t.addSetup("cookies", func(ctx context.Context, s *Session, d driver.Driver) error {
		return s.setCookies(ctx, d, s.cfg.Cookies)
	})
	return nil
}
