package driver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-session/config"
	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/proxy"
)

// proxySwitch routes connections through the current proxy and lets it be
// replaced while the transport is in use.
type proxySwitch struct {
	base *net.Dialer

	mu       sync.RWMutex
	current  *config.Proxy
	bypass   []string
	httpFunc func(*url.URL) (*url.URL, error)
	socks    proxy.ContextDialer
}

func newProxySwitch(base *net.Dialer, bypass []string) *proxySwitch {
	return &proxySwitch{base: base, bypass: append([]string(nil), bypass...)}
}

func (ps *proxySwitch) set(p *config.Proxy) error {
	var (
		httpFunc func(*url.URL) (*url.URL, error)
		socks    proxy.ContextDialer
	)
	if p != nil {
		switch p.Scheme {
		case config.ProxyHTTP:
			raw := p.URL().String()
			httpFunc = (&httpproxy.Config{
				HTTPProxy:  raw,
				HTTPSProxy: raw,
				NoProxy:    strings.Join(ps.bypass, ","),
			}).ProxyFunc()
		case config.ProxySOCKS5:
			var auth *proxy.Auth
			if p.HasAuth() {
				auth = &proxy.Auth{User: p.User, Password: p.Password}
			}
			d, err := proxy.SOCKS5("tcp", p.Addr(), auth, ps.base)
			if err != nil {
				return fmt.Errorf("socks5 dialer: %w", err)
			}
			perHost := proxy.NewPerHost(d, ps.base)
			perHost.AddFromString(strings.Join(ps.bypass, ","))
			socks = perHost
		default:
			return fmt.Errorf("%w %q", config.ErrUnsupportedProxyScheme, p.Scheme)
		}
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if p != nil {
		cp := *p
		ps.current = &cp
	} else {
		ps.current = nil
	}
	ps.httpFunc = httpFunc
	ps.socks = socks
	return nil
}

func (ps *proxySwitch) get() *config.Proxy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if ps.current == nil {
		return nil
	}
	cp := *ps.current
	return &cp
}

func (ps *proxySwitch) proxyFunc(req *http.Request) (*url.URL, error) {
	ps.mu.RLock()
	fn := ps.httpFunc
	ps.mu.RUnlock()
	if fn == nil {
		return nil, nil
	}
	return fn(req.URL)
}

func (ps *proxySwitch) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	ps.mu.RLock()
	socks := ps.socks
	ps.mu.RUnlock()
	if socks != nil {
		return socks.DialContext(ctx, network, addr)
	}
	return ps.base.DialContext(ctx, network, addr)
}

// newHTTPTransport builds the network layer of the HTTP emulator.
func newHTTPTransport(opts Options, ps *proxySwitch) (*http.Transport, error) {
	tlsConfig, err := tlsConfigFor(opts)
	if err != nil {
		return nil, err
	}
	return &http.Transport{
		Proxy:               ps.proxyFunc,
		DialContext:         ps.dialContext,
		TLSClientConfig:     tlsConfig,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}, nil
}

func tlsConfigFor(opts Options) (*tls.Config, error) {
	if opts.CACertPath == "" && !opts.InsecureSkipVerify {
		return nil, nil
	}
	cfg := &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify} //nolint:gosec // opt-in via configuration
	if opts.CACertPath != "" {
		pem, err := os.ReadFile(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CACertPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// boundTransport ties every request to the context of the navigation that
// issued it, so Quit can abort a request in flight.
type boundTransport struct {
	base    http.RoundTripper
	current func() context.Context
}

func (t *boundTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if ctx := t.current(); ctx != nil {
		req = req.WithContext(ctx)
	}
	return t.base.RoundTrip(req)
}
