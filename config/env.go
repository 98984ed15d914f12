package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvInt reads an integer environment variable. ok is false when unset.
func EnvInt(key string) (value int, ok bool, err error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err = strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvString reads a non-empty environment variable.
func EnvString(key string) (string, bool) {
	raw, ok := os.LookupEnv(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}

// EnvDuration reads a duration environment variable such as "15s".
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// ApplyEnv overlays SESSION_* environment variables on c.
func ApplyEnv(c *Config) error {
	if v, ok, err := EnvInt("SESSION_MAX_RETRIES"); err != nil {
		return err
	} else if ok {
		c.MaxRetries = v
	}
	if v, ok, err := EnvDuration("SESSION_RETRY_BACKOFF_STEP"); err != nil {
		return err
	} else if ok {
		c.RetryBackoffStep = v
	}
	if v, ok, err := EnvDuration("SESSION_TIMEOUT"); err != nil {
		return err
	} else if ok {
		c.Timeout = v
	}
	if v, ok, err := EnvInt("SESSION_RECYCLE_MAX_REQUESTS"); err != nil {
		return err
	} else if ok {
		c.Recycle.MaxRequests = v
	}
	if v, ok, err := EnvInt("SESSION_RECYCLE_MAX_MEMORY_KB"); err != nil {
		return err
	} else if ok {
		c.Recycle.MaxMemoryKB = int64(v)
	}
	if v, ok := EnvString("SESSION_HEADLESS_MODE"); ok {
		c.HeadlessMode = HeadlessMode(strings.ToLower(v))
	}
	if v, ok := EnvString("SESSION_USER_AGENT"); ok {
		c.UserAgent = Fixed(v)
	}
	if v, ok := EnvString("SESSION_PROXY"); ok {
		p, err := ParseProxy(v)
		if err != nil {
			return fmt.Errorf("SESSION_PROXY: %w", err)
		}
		c.Proxy = Fixed(p)
	}
	return nil
}
