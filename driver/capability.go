package driver

import "fmt"

// Kind identifies a backend.
type Kind string

// Built-in backends.
const (
	HTTPEmulator     Kind = "http_emulator"
	Headless         Kind = "headless"
	WebDriverFirefox Kind = "webdriver_firefox"
	WebDriverChrome  Kind = "webdriver_chrome"
)

// BuiltinKinds lists the backends shipped with the module.
var BuiltinKinds = []Kind{HTTPEmulator, Headless, WebDriverFirefox, WebDriverChrome}

// IsWebDriver reports whether k is one of the WebDriver browsers.
func (k Kind) IsWebDriver() bool {
	return k == WebDriverFirefox || k == WebDriverChrome
}

// Capabilities lists the hygiene operations a backend supports.
type Capabilities struct {
	CanSetHeaders             bool
	CanSetProxyDynamically    bool
	CanAuthenticateProxy      bool
	CanIntrospectMemory       bool
	CanResizeWindow           bool
	RequiresSeedURLForCookies bool
	CanSetCookies             bool
	CanTrustCustomCA          bool
	CanBlockImages            bool
	CanSelectHeadlessMode     bool
}

var builtinCapabilities = map[Kind]Capabilities{
	HTTPEmulator: {
		CanSetHeaders:          true,
		CanSetProxyDynamically: true,
		CanAuthenticateProxy:   true,
		CanSetCookies:          true,
		CanTrustCustomCA:       true,
	},
	Headless: {
		CanSetHeaders:          true,
		CanSetProxyDynamically: true,
		CanAuthenticateProxy:   true,
		CanIntrospectMemory:    true,
		CanResizeWindow:        true,
		CanSetCookies:          true,
		CanBlockImages:         true,
	},
	WebDriverFirefox: {
		CanIntrospectMemory:       true,
		CanResizeWindow:           true,
		RequiresSeedURLForCookies: true,
		CanSetCookies:             true,
		CanBlockImages:            true,
		CanSelectHeadlessMode:     true,
	},
	WebDriverChrome: {
		CanIntrospectMemory:       true,
		CanResizeWindow:           true,
		RequiresSeedURLForCookies: true,
		CanSetCookies:             true,
		CanBlockImages:            true,
		CanSelectHeadlessMode:     true,
	},
}

// CapabilitiesOf returns the capability row of a built-in backend. It panics
// for any other kind; custom backends declare theirs through a Registry.
func CapabilitiesOf(k Kind) Capabilities {
	caps, ok := builtinCapabilities[k]
	if !ok {
		panic(fmt.Sprintf("driver: unknown backend kind %q", k))
	}
	return caps
}
