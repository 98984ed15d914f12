// Package stats holds the request, response and error counters kept per
// session and for the whole process.
package stats

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of a counter set.
type Snapshot struct {
	Requests     int64
	Responses    int64
	ErrorsByKind map[string]int64
}

// Errors returns the total number of recorded errors.
func (s Snapshot) Errors() int64 {
	var n int64
	for _, v := range s.ErrorsByKind {
		n += v
	}
	return n
}

// Recorder is implemented by both counter sets.
type Recorder interface {
	IncRequest()
	IncResponse()
	IncError(kind string)
}

// Counters is the per-session counter set. It is owned by a single session
// and performs no locking.
type Counters struct {
	requests  int64
	responses int64
	errors    map[string]int64
	memory    []int64
}

// maxMemorySamples bounds the memory history kept per session.
const maxMemorySamples = 256

// NewCounters returns an empty per-session counter set.
func NewCounters() *Counters {
	return &Counters{errors: make(map[string]int64)}
}

// IncRequest counts one navigation attempt.
func (c *Counters) IncRequest() { c.requests++ }

// IncResponse counts one successful navigation.
func (c *Counters) IncResponse() { c.responses++ }

// IncError counts one failed attempt under kind.
func (c *Counters) IncError(kind string) { c.errors[kind]++ }

// RecordMemory appends a memory sample in kilobytes.
func (c *Counters) RecordMemory(kb int64) {
	if len(c.memory) == maxMemorySamples {
		copy(c.memory, c.memory[1:])
		c.memory = c.memory[:maxMemorySamples-1]
	}
	c.memory = append(c.memory, kb)
}

// MemorySamples returns a copy of the recorded memory samples, oldest first.
func (c *Counters) MemorySamples() []int64 {
	return append([]int64(nil), c.memory...)
}

// Snapshot copies the counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{Requests: c.requests, Responses: c.responses, ErrorsByKind: copyErrors(c.errors)}
}

// Global is the process-wide counter set shared by every session. It is safe
// for concurrent use and optionally mirrors increments to Prometheus.
type Global struct {
	mu        sync.Mutex
	requests  int64
	responses int64
	recycles  int64
	errors    map[string]int64

	metrics *Metrics
}

// NewGlobal returns an empty process-wide counter set. metrics may be nil.
func NewGlobal(metrics *Metrics) *Global {
	return &Global{errors: make(map[string]int64), metrics: metrics}
}

// Metrics returns the Prometheus mirror, nil when disabled.
func (g *Global) Metrics() *Metrics {
	return g.metrics
}

// IncRequest counts one navigation attempt.
func (g *Global) IncRequest() {
	g.mu.Lock()
	g.requests++
	g.mu.Unlock()
	g.metrics.IncRequest()
}

// IncResponse counts one successful navigation.
func (g *Global) IncResponse() {
	g.mu.Lock()
	g.responses++
	g.mu.Unlock()
	g.metrics.IncResponse()
}

// IncError counts one failed attempt under kind.
func (g *Global) IncError(kind string) {
	g.mu.Lock()
	g.errors[kind]++
	g.mu.Unlock()
	g.metrics.IncError(kind)
}

// IncRecycle counts one driver recreation.
func (g *Global) IncRecycle(reason string) {
	g.mu.Lock()
	g.recycles++
	g.mu.Unlock()
	g.metrics.IncRecycle(reason)
}

// IncRetry counts one scheduled retry.
func (g *Global) IncRetry() {
	g.metrics.IncRetries()
}

// ObserveNavigation records the duration of one navigation attempt.
func (g *Global) ObserveNavigation(backend string, d time.Duration) {
	g.metrics.ObserveDuration(backend, d)
}

// SetMemory publishes the latest memory reading of a driver.
func (g *Global) SetMemory(backend string, kb int64) {
	g.metrics.SetMemory(backend, kb)
}

// Recycles returns the number of driver recreations.
func (g *Global) Recycles() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recycles
}

// Snapshot copies the counters.
func (g *Global) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{Requests: g.requests, Responses: g.responses, ErrorsByKind: copyErrors(g.errors)}
}

func copyErrors(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
