// Package pipeline validates navigation outcomes and writes them in batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-session/models"
	"github.com/aluiziolira/go-scrape-session/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when the writers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: timed out draining pending visits")
)

// drainTimeout bounds how long Close waits for pending batches.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(visits []*models.Visit) error
	Close() error
	Validate() error
}

// Options tune buffering.
type Options struct {
	BufferSize int
	BatchSize  int
	Logger     *slog.Logger
}

// Pipeline coordinates validation and output writing.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	visitCh   chan *models.Visit
	batchSize int
	logger    *slog.Logger

	wg sync.WaitGroup

	seen   map[string]struct{}
	seenMu sync.Mutex

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline. Zero options select a 512 visit buffer
// and batches of 64.
func NewPipeline(ctx context.Context, writer OutputWriter, opts Options) *Pipeline {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 512
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		visitCh:   make(chan *models.Visit, opts.BufferSize),
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		seen:      make(map[string]struct{}),
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues visits for downstream processing.
func (p *Pipeline) Process(visits ...*models.Visit) error {
	if len(visits) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, visit := range visits {
		if visit == nil {
			continue
		}
		if err := p.enqueue(visit); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish and prevents more submissions. It gives
// up after drainTimeout.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.visitCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.logger.Error("pipeline: writers did not drain", slog.Duration("timeout", drainTimeout))
		return ErrPipelineCloseTimeout
	}
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				p.logger.Info("pipeline progress",
					slog.Int64("processed", metrics["processed_visits"].(int64)),
					slog.Int("failed_kinds", len(metrics["failed_visits"].(map[string]int))),
					slog.Int("validation_errors", len(metrics["validation_errors"].(map[string]int))),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.Visit, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for visit := range p.visitCh {
		prepared := p.prepare(visit)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) prepare(visit *models.Visit) *models.Visit {
	if err := parser.ValidateVisit(visit); err != nil {
		p.logger.Debug("pipeline: dropping visit", slog.Any("error", err))
		p.metrics.addValidation("invalid_record")
		return nil
	}

	// One record per requested URL.
	p.seenMu.Lock()
	if _, ok := p.seen[visit.URL]; ok {
		p.seenMu.Unlock()
		p.metrics.addValidation("duplicate_url")
		return nil
	}
	p.seen[visit.URL] = struct{}{}
	p.seenMu.Unlock()

	visit.Title = parser.NormalizeTitle(visit.Title)
	if visit.Error != "" {
		p.metrics.addFailure(visit.ErrorKind)
	}

	p.metrics.incrementProcessed()
	return visit
}

func (p *Pipeline) enqueue(visit *models.Visit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.visitCh <- visit:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	failed     map[string]int
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		failed:     make(map[string]int),
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addFailure(kind string) {
	m.mu.Lock()
	m.failed[kind]++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyFailed := make(map[string]int, len(m.failed))
	for k, v := range m.failed {
		copyFailed[k] = v
	}
	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_visits":  m.processed,
		"failed_visits":     copyFailed,
		"validation_errors": copyValidation,
	}
}
