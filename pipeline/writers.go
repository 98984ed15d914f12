package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-session/models"
)

// CSVWriter writes one visit per CSV row.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	rows   int
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := []string{"worker", "url", "final_url", "backend", "status", "bytes", "title", "error", "error_kind", "duration_seconds", "visited_at"}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends visits to the CSV output.
func (cw *CSVWriter) Write(visits []*models.Visit) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, v := range visits {
		record := []string{
			strconv.Itoa(v.Worker),
			v.URL,
			v.FinalURL,
			v.Backend,
			strconv.Itoa(v.StatusCode),
			strconv.Itoa(v.Bytes),
			v.Title,
			v.Error,
			v.ErrorKind,
			strconv.FormatFloat(v.Duration, 'f', 3, 64),
			v.VisitedAt.Format(time.RFC3339),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
		cw.rows++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures at least one row was written besides the header.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.rows == 0 {
		return fmt.Errorf("csv file %s has no visits", cw.file.Name())
	}
	return nil
}

// Count returns the number of visit rows written.
func (cw *CSVWriter) Count() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.rows
}

// JSONWriter writes newline-delimited JSON visits.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	lines   int
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends visits in JSONL format.
func (jw *JSONWriter) Write(visits []*models.Visit) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, v := range visits {
		if err := jw.encoder.Encode(v); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
		jw.lines++
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures at least one visit was written.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.lines == 0 {
		return fmt.Errorf("json file %s has no visits", jw.file.Name())
	}
	return nil
}

// Count returns the number of visit lines written.
func (jw *JSONWriter) Count() int {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.lines
}

// Open returns the writer matching the extension of each path: .csv for
// CSV, anything else for JSONL. Two paths produce a DualWriter and require
// one of each.
func Open(paths ...string) (OutputWriter, error) {
	switch len(paths) {
	case 1:
		if isCSV(paths[0]) {
			w, err := NewCSVWriter(paths[0])
			if err != nil {
				return nil, err
			}
			return w, nil
		}
		w, err := NewJSONWriter(paths[0])
		if err != nil {
			return nil, err
		}
		return w, nil
	case 2:
		csvPath, jsonPath := paths[0], paths[1]
		if isCSV(jsonPath) {
			csvPath, jsonPath = jsonPath, csvPath
		}
		if !isCSV(csvPath) || isCSV(jsonPath) {
			return nil, fmt.Errorf("dual output needs one .csv and one .jsonl path, got %v", paths)
		}
		w, err := NewDualWriter(csvPath, jsonPath)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	return nil, fmt.Errorf("expected one or two output paths, got %d", len(paths))
}

func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
