package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-session/models"
)

// DualWriter records every visit twice: a flat CSV report and a JSONL log.
// The JSONL log is written first, so after a failed batch the log is never
// behind the report. Validate rejects files that disagree on the visit count.
type DualWriter struct {
	report *CSVWriter
	log    *JSONWriter

	mu     sync.Mutex
	visits int
	failed map[string]int
}

// NewDualWriter creates the CSV report at csvFilename and the JSONL log at
// jsonFilename.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	report, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("csv report: %w", err)
	}
	log, err := NewJSONWriter(jsonFilename)
	if err != nil {
		_ = report.Close()
		return nil, fmt.Errorf("jsonl log: %w", err)
	}
	return &DualWriter{report: report, log: log, failed: make(map[string]int)}, nil
}

// Write appends visits to the log, then to the report.
func (dw *DualWriter) Write(visits []*models.Visit) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.log.Write(visits); err != nil {
		return fmt.Errorf("jsonl log: %w", err)
	}
	if err := dw.report.Write(visits); err != nil {
		return fmt.Errorf("csv report: %w", err)
	}
	for _, v := range visits {
		dw.visits++
		if v.ErrorKind != "" {
			dw.failed[v.ErrorKind]++
		}
	}
	return nil
}

// Failed returns the number of written visits per error kind.
func (dw *DualWriter) Failed() map[string]int {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	out := make(map[string]int, len(dw.failed))
	for k, n := range dw.failed {
		out[k] = n
	}
	return out
}

// Close closes the report and the log, even when one of them fails.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.report.Close(); err != nil {
		errs = append(errs, fmt.Errorf("csv report: %w", err))
	}
	if err := dw.log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("jsonl log: %w", err))
	}
	return errors.Join(errs...)
}

// Validate requires at least one visit and the same number of visits in
// both files.
func (dw *DualWriter) Validate() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.visits == 0 {
		return errors.Join(dw.report.Validate(), dw.log.Validate())
	}
	if rows, lines := dw.report.Count(), dw.log.Count(); rows != lines {
		return fmt.Errorf("csv report has %d visits, jsonl log has %d", rows, lines)
	}
	return nil
}
