package session

import (
	"log/slog"
	"os"

	"github.com/aluiziolira/go-scrape-session/driver"
)

func translateSSL(t *translation) error {
	if path := t.cfg.SSLCertPath; path != "" {
		if !t.caps.CanTrustCustomCA {
			t.warn("ssl_cert", "backend cannot trust a custom certificate authority; ignoring it", slog.String("path", path))
			t.cfg.SSLCertPath = ""
		} else {
			if _, err := os.Stat(path); err != nil {
				return &ConfigurationError{Backend: t.kind, Field: "ssl_cert_path", Err: err}
			}
			t.opts.CACertPath = path
		}
	}

	if !t.cfg.IgnoreSSLErrors {
		return nil
	}
	t.opts.InsecureSkipVerify = true
	switch t.kind {
	case driver.WebDriverChrome:
		t.arg("--ignore-certificate-errors", "--allow-insecure-localhost")
		t.opts.Capabilities["acceptInsecureCerts"] = true
	case driver.WebDriverFirefox:
		t.opts.Capabilities["acceptInsecureCerts"] = true
	}
	return nil
}
