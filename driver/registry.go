package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Launcher starts a new driver from construction options.
type Launcher func(ctx context.Context, opts Options) (Driver, error)

type entry struct {
	caps   Capabilities
	launch Launcher
}

// Registry maps backend kinds to their capabilities and launchers. The zero
// value is not usable; call NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]entry
}

// NewRegistry returns a registry holding the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[Kind]entry)}
	r.entries[HTTPEmulator] = entry{caps: CapabilitiesOf(HTTPEmulator), launch: LaunchHTTPEmulator}
	r.entries[Headless] = entry{caps: CapabilitiesOf(Headless), launch: LaunchHeadless}
	r.entries[WebDriverFirefox] = entry{caps: CapabilitiesOf(WebDriverFirefox), launch: LaunchFirefox}
	r.entries[WebDriverChrome] = entry{caps: CapabilitiesOf(WebDriverChrome), launch: LaunchChrome}
	return r
}

// Register adds or replaces a backend.
func (r *Registry) Register(kind Kind, caps Capabilities, launch Launcher) error {
	if kind == "" {
		return fmt.Errorf("register backend: empty kind")
	}
	if launch == nil {
		return fmt.Errorf("register backend %q: nil launcher", kind)
	}
	r.mu.Lock()
	r.entries[kind] = entry{caps: caps, launch: launch}
	r.mu.Unlock()
	return nil
}

// Lookup returns the capabilities and launcher for kind.
func (r *Registry) Lookup(kind Kind) (Capabilities, Launcher, error) {
	r.mu.RLock()
	e, ok := r.entries[kind]
	r.mu.RUnlock()
	if !ok {
		return Capabilities{}, nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	return e.caps, e.launch, nil
}

// Kinds lists the registered backends in lexical order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
