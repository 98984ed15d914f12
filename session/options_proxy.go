package session

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
)

func translateProxy(t *translation) error {
	p := t.proxy
	if p != nil {
		if err := p.Validate(); err != nil {
			return &ConfigurationError{Backend: t.kind, Field: "proxy", Err: err}
		}
		if p.HasAuth() && !t.caps.CanAuthenticateProxy {
			t.warn("proxy_auth", "backend cannot authenticate to a proxy; connecting directly",
				slog.String("proxy", p.String()))
			p = nil
			t.proxy = nil
		}
	}

	bypass := t.cfg.ProxyBypassList
	if len(bypass) > 0 && p == nil {
		t.warn("proxy_bypass", "proxy bypass list ignored without a proxy", slog.Int("hosts", len(bypass)))
		bypass = nil
		t.cfg.ProxyBypassList = nil
	}

	br := &t.cfg.BeforeRequest
	if br.RotateProxy {
		switch {
		case t.cfg.Proxy == nil:
			t.warn("rotate_proxy", "proxy rotation needs a proxy supplier; disabled")
			br.RotateProxy = false
		case !t.caps.CanSetProxyDynamically:
			t.warn("rotate_proxy", "backend cannot switch proxies on a running browser; rotation disabled")
			br.RotateProxy = false
		}
	}

	if p == nil {
		return nil
	}
	if t.caps.CanSetProxyDynamically {
		t.opts.Proxy = p
		t.opts.ProxyBypass = bypass
		return nil
	}
	switch t.kind {
	case driver.WebDriverChrome:
		t.arg(fmt.Sprintf("--proxy-server=%s://%s", p.Scheme, p.Addr()))
		if len(bypass) > 0 {
			t.arg("--proxy-bypass-list=" + strings.Join(bypass, ";"))
		}
	case driver.WebDriverFirefox:
		firefoxProxyPrefs(t.opts.Prefs, p, bypass)
	default:
		t.opts.Proxy = p
		t.opts.ProxyBypass = bypass
	}
	return nil
}

// firefoxProxyPrefs writes the manual proxy configuration of a Firefox profile.
func firefoxProxyPrefs(prefs map[string]any, p *config.Proxy, bypass []string) {
	prefs["network.proxy.type"] = 1
	switch p.Scheme {
	case config.ProxySOCKS5:
		prefs["network.proxy.socks"] = p.Host
		prefs["network.proxy.socks_port"] = p.Port
		prefs["network.proxy.socks_version"] = 5
		prefs["network.proxy.socks_remote_dns"] = true
	default:
		prefs["network.proxy.http"] = p.Host
		prefs["network.proxy.http_port"] = p.Port
		prefs["network.proxy.ssl"] = p.Host
		prefs["network.proxy.ssl_port"] = p.Port
	}
	if len(bypass) > 0 {
		prefs["network.proxy.no_proxies_on"] = strings.Join(bypass, ", ")
	}
}
