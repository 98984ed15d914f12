package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
)

func translateWindow(t *translation) error {
	ws := t.cfg.WindowSize
	if ws == nil {
		return nil
	}
	if !t.caps.CanResizeWindow {
		t.warn("window_size", "backend has no window to resize; ignoring window size",
			slog.Int("width", ws.Width), slog.Int("height", ws.Height))
		t.cfg.WindowSize = nil
		return nil
	}

	switch t.kind {
	case driver.WebDriverChrome:
		t.arg(fmt.Sprintf("--window-size=%d,%d", ws.Width, ws.Height))
	case driver.Headless:
		size := *ws
		t.opts.WindowSize = &size
	default:
		width, height := ws.Width, ws.Height
		t.addSetup("window", func(ctx context.Context, s *Session, d driver.Driver) error {
			wc, ok := d.(driver.WindowController)
			if !ok {
				return fmt.Errorf("resize window: %w", ErrUnsupported)
			}
			return wc.Resize(ctx, width, height)
		})
	}
	return nil
}

func translateImages(t *translation) error {
	if !t.cfg.DisableImages {
		return nil
	}
	if !t.caps.CanBlockImages {
		if t.kind == driver.HTTPEmulator {
			t.logger.Debug("http emulator never loads images")
		} else {
			t.warn("disable_images", "backend cannot block images; ignoring")
		}
		t.cfg.DisableImages = false
		return nil
	}

	t.opts.BlockImages = true
	switch t.kind {
	case driver.WebDriverChrome:
		t.opts.Prefs["profile.managed_default_content_settings.images"] = 2
	case driver.WebDriverFirefox:
		t.opts.Prefs["permissions.default.image"] = 2
	case driver.Headless:
		t.arg("--blink-settings=imagesEnabled=false")
	}
	return nil
}

func translateHeadless(t *translation) error {
	mode := t.cfg.HeadlessMode
	if mode == "" {
		mode = config.HeadlessNative
	}
	if !t.caps.CanSelectHeadlessMode {
		if mode != config.HeadlessNative && t.kind != driver.HTTPEmulator {
			t.warn("headless_mode", "backend always runs headless; ignoring headless mode",
				slog.String("mode", string(mode)))
		}
		t.opts.Headless = t.kind == driver.Headless
		return nil
	}

	switch mode {
	case config.HeadlessNative:
		t.opts.Headless = true
		switch t.kind {
		case driver.WebDriverChrome:
			t.arg("--headless")
		case driver.WebDriverFirefox:
			t.arg("-headless")
		}
	case config.HeadlessVirtualDisplay:
		t.opts.VirtualDisplay = true
	}
	return nil
}
