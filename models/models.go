// Package models defines data structures shared by the session engine and
// its callers.
package models

import (
	"net/http"
	"time"
)

// Response is the page handle returned by a navigation. Browser backends do
// not report a status code or headers, so those fields are zero for them.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Backend    string
	FetchedAt  time.Time
}

// Visit is one navigation outcome as written by the visit writers.
type Visit struct {
	Worker     int       `csv:"worker" json:"worker"`
	URL        string    `csv:"url" json:"url"`
	FinalURL   string    `csv:"final_url" json:"final_url"`
	Backend    string    `csv:"backend" json:"backend"`
	StatusCode int       `csv:"status" json:"status"`
	Bytes      int       `csv:"bytes" json:"bytes"`
	Title      string    `csv:"title" json:"title,omitempty"`
	Error      string    `csv:"error" json:"error,omitempty"`
	ErrorKind  string    `csv:"error_kind" json:"error_kind,omitempty"`
	Duration   float64   `csv:"duration_seconds" json:"duration_seconds"`
	VisitedAt  time.Time `csv:"visited_at" json:"visited_at"`
}

// RunResult summarises a multi-worker run.
type RunResult struct {
	StartTime    time.Time
	EndTime      time.Time
	Workers      int
	Requests     int64
	Responses    int64
	ErrorsByKind map[string]int64
	FailedURLs   []string
	Duplicates   int
	Recycles     int64
}
