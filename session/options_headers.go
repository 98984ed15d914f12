package session

import (
	"log/slog"
	"net/http"

	"github.com/aluiziolira/go-scrape-session/driver"
)

func translateHeaders(t *translation) error {
	br := &t.cfg.BeforeRequest
	if br.RotateUserAgent && t.cfg.UserAgent == nil {
		t.warn("rotate_user_agent", "user agent rotation needs a user agent supplier; disabled")
		br.RotateUserAgent = false
	}

	if t.caps.CanSetHeaders {
		for k, v := range t.cfg.Headers {
			t.opts.Headers[http.CanonicalHeaderKey(k)] = v
		}
		t.opts.UserAgent = t.userAgent
		return nil
	}

	if len(t.cfg.Headers) > 0 {
		t.warn("headers", "backend cannot set request headers; ignoring them", slog.Int("headers", len(t.cfg.Headers)))
		t.cfg.Headers = map[string]string{}
	}
	if br.RotateUserAgent {
		t.warn("rotate_user_agent", "backend cannot change the user agent of a running browser; rotation disabled")
		br.RotateUserAgent = false
	}
	if t.userAgent == "" {
		return nil
	}
	switch t.kind {
	case driver.WebDriverChrome:
		t.arg("--user-agent=" + t.userAgent)
	case driver.WebDriverFirefox:
		t.opts.Prefs["general.useragent.override"] = t.userAgent
	default:
		t.warn("user_agent", "backend cannot set a user agent; ignoring it")
	}
	return nil
}
