package config

import "errors"

var (
	// ErrInvalidProxy is returned when a proxy descriptor cannot be parsed.
	ErrInvalidProxy = errors.New("invalid proxy")
	// ErrUnsupportedProxyScheme is returned for proxy schemes other than http and socks5.
	ErrUnsupportedProxyScheme = errors.New("unsupported proxy scheme")
	// ErrConfigNotFound is returned when no configuration file can be located.
	ErrConfigNotFound = errors.New("config file not found")
)
