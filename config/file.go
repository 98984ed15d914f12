package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// AppName names the per-user config and state directories.
const AppName = "go-scrape-session"

// DefaultConfigFile is the file name searched for by FindConfigFile.
const DefaultConfigFile = "session.yaml"

// File is the YAML representation of a Config. Lists of user agents or
// proxies with more than one entry become rotating suppliers.
type File struct {
	Headers         map[string]string `yaml:"headers"`
	UserAgents      []string          `yaml:"user_agents"`
	Proxies         []string          `yaml:"proxies"`
	ProxyBypassList []string          `yaml:"proxy_bypass_list"`
	Cookies         []Cookie          `yaml:"cookies"`
	CookieSeedURL   string            `yaml:"cookie_seed_url"`
	SSLCertPath     string            `yaml:"ssl_cert_path"`
	IgnoreSSLErrors bool              `yaml:"ignore_ssl_errors"`
	WindowSize      []int             `yaml:"window_size"`
	DisableImages   bool              `yaml:"disable_images"`
	HeadlessMode    string            `yaml:"headless_mode"`

	Recycle struct {
		MaxRequests int   `yaml:"max_requests"`
		MaxMemoryKB int64 `yaml:"max_memory_kb"`
	} `yaml:"recycle"`

	BeforeRequest struct {
		ClearCookies    bool          `yaml:"clear_cookies"`
		ReapplyCookies  bool          `yaml:"reapply_cookies"`
		RotateUserAgent bool          `yaml:"rotate_user_agent"`
		RotateProxy     bool          `yaml:"rotate_proxy"`
		Delay           time.Duration `yaml:"delay"`
		DelayMax        time.Duration `yaml:"delay_max"`
	} `yaml:"before_request"`

	MaxRetries       *int          `yaml:"max_retries"`
	RetryBackoffStep time.Duration `yaml:"retry_backoff_step"`
	RetryableErrors  []string      `yaml:"retryable_errors"`
	Timeout          time.Duration `yaml:"timeout"`

	Binaries struct {
		Chrome       string `yaml:"chrome"`
		Firefox      string `yaml:"firefox"`
		ChromeDriver string `yaml:"chromedriver"`
		GeckoDriver  string `yaml:"geckodriver"`
	} `yaml:"binaries"`
}

// LoadFile reads a YAML file and overlays it on DefaultConfig.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML bytes and overlays them on DefaultConfig.
func Parse(data []byte) (*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return f.Config()
}

// Config converts the file representation into a Config.
func (f *File) Config() (*Config, error) {
	c := DefaultConfig()
	for k, v := range f.Headers {
		c.Headers[k] = v
	}
	switch len(f.UserAgents) {
	case 0:
	case 1:
		c.UserAgent = Fixed(f.UserAgents[0])
	default:
		c.UserAgent = RandomFrom(f.UserAgents)
	}

	proxies := make([]Proxy, 0, len(f.Proxies))
	for _, raw := range f.Proxies {
		p, err := ParseProxy(raw)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	switch len(proxies) {
	case 0:
	case 1:
		c.Proxy = Fixed(proxies[0])
	default:
		c.Proxy = RandomFrom(proxies)
	}

	c.ProxyBypassList = f.ProxyBypassList
	c.Cookies = f.Cookies
	c.CookieSeedURL = f.CookieSeedURL
	c.SSLCertPath = f.SSLCertPath
	c.IgnoreSSLErrors = f.IgnoreSSLErrors
	c.DisableImages = f.DisableImages
	if f.HeadlessMode != "" {
		c.HeadlessMode = HeadlessMode(f.HeadlessMode)
	}
	if len(f.WindowSize) > 0 {
		if len(f.WindowSize) != 2 {
			return nil, errors.New("window_size must be [width, height]")
		}
		c.WindowSize = &WindowSize{Width: f.WindowSize[0], Height: f.WindowSize[1]}
	}

	c.Recycle = Recycle{MaxRequests: f.Recycle.MaxRequests, MaxMemoryKB: f.Recycle.MaxMemoryKB}
	br := f.BeforeRequest
	c.BeforeRequest = BeforeRequest{
		ClearCookies:    br.ClearCookies,
		ReapplyCookies:  br.ReapplyCookies,
		RotateUserAgent: br.RotateUserAgent,
		RotateProxy:     br.RotateProxy,
	}
	if br.Delay > 0 || br.DelayMax > 0 {
		c.BeforeRequest.Delay = &Delay{Min: br.Delay, Max: br.DelayMax}
	}

	if f.MaxRetries != nil {
		c.MaxRetries = *f.MaxRetries
	}
	if f.RetryBackoffStep > 0 {
		c.RetryBackoffStep = f.RetryBackoffStep
	}
	if len(f.RetryableErrors) > 0 {
		c.RetryableErrors = f.RetryableErrors
	}
	if f.Timeout > 0 {
		c.Timeout = f.Timeout
	}
	c.Binaries = Binaries{
		Chrome:       f.Binaries.Chrome,
		Firefox:      f.Binaries.Firefox,
		ChromeDriver: f.Binaries.ChromeDriver,
		GeckoDriver:  f.Binaries.GeckoDriver,
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindConfigFile returns the first existing config file among the explicit
// path, ./session.yaml and the XDG config directory. It returns "" when none
// exists.
func FindConfigFile(path string) string {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}
	candidates := []string{DefaultConfigFile, filepath.Join(XDGConfigDir(), DefaultConfigFile)}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// XDGConfigDir returns the per-user config directory.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGStateDir returns the per-user state directory, used for log files.
func XDGStateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}
