package session

import (
	"context"
	"log/slog"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
)

// setupStep runs against every freshly launched driver, before it is used.
type setupStep struct {
	name string
	run  func(ctx context.Context, s *Session, d driver.Driver) error
}

// translation accumulates the backend-native form of a config while the
// translators run. cfg is a private copy: translators switch off features
// the backend cannot honour so the request engine never sees them.
type translation struct {
	kind      driver.Kind
	caps      driver.Capabilities
	cfg       *config.Config
	userAgent string
	proxy     *config.Proxy
	opts      driver.Options
	setup     []setupStep
	warnings  []string
	logger    *slog.Logger
}

// translators run in order; the order of their setup steps is the order in
// which they are applied to a new driver.
var translators = []func(*translation) error{
	translateBrowser,
	translateHeaders,
	translateProxy,
	translateSSL,
	translateWindow,
	translateImages,
	translateHeadless,
	translateRecycle,
	translateCookies,
}

func (t *translation) warn(feature, msg string, attrs ...any) {
	t.warnings = append(t.warnings, feature)
	t.logger.Warn(msg, append([]any{slog.String("feature", feature)}, attrs...)...)
}

func (t *translation) arg(args ...string) {
	t.opts.Args = append(t.opts.Args, args...)
}

func (t *translation) addSetup(name string, run func(ctx context.Context, s *Session, d driver.Driver) error) {
	t.setup = append(t.setup, setupStep{name: name, run: run})
}

// translateBrowser sets the switches every browser of a kind starts with.
func translateBrowser(t *translation) error {
	bin := t.cfg.Binaries
	switch t.kind {
	case driver.WebDriverChrome:
		t.arg("--no-sandbox", "--disable-gpu", "--disable-translate")
		t.opts.BrowserBinary = bin.Chrome
		t.opts.DriverBinary = bin.ChromeDriver
	case driver.WebDriverFirefox:
		t.opts.Prefs["browser.link.open_newwindow"] = 3
		t.opts.BrowserBinary = bin.Firefox
		t.opts.DriverBinary = bin.GeckoDriver
	case driver.Headless:
		t.arg("--disable-translate")
		t.opts.BrowserBinary = bin.Chrome
	}
	return nil
}

func translateRecycle(t *translation) error {
	if t.cfg.Recycle.MaxMemoryKB > 0 && !t.caps.CanIntrospectMemory {
		t.warn("recycle_max_memory", "backend has no process to measure; memory-based recycling disabled",
			slog.Int64("max_memory_kb", t.cfg.Recycle.MaxMemoryKB))
		t.cfg.Recycle.MaxMemoryKB = 0
	}
	return nil
}
