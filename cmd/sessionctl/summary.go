package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/aluiziolira/go-scrape-session/models"
)

func printSummary(w io.Writer, result *models.RunResult, metrics map[string]interface{}, outputs []string, cacheHits, cacheMisses int64) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Fetch complete")

	visits := int64(0)
	if processed, ok := metrics["processed_visits"].(int64); ok {
		visits = processed
	}
	duration := result.EndTime.Sub(result.StartTime)

	var errorCount int64
	for _, n := range result.ErrorsByKind {
		errorCount += n
	}
	successRate := 0.0
	if result.Requests > 0 {
		successRate = float64(result.Responses) / float64(result.Requests) * 100
	}
	visitsPerSec := 0.0
	if duration.Seconds() > 0 {
		visitsPerSec = float64(visits) / duration.Seconds()
	}

	fmt.Fprintf(w, "  Visits:        %d\n", visits)
	fmt.Fprintf(w, "  Workers:       %d\n", result.Workers)
	fmt.Fprintf(w, "  Requests:      %d\n", result.Requests)
	fmt.Fprintf(w, "  Responses:     %d\n", result.Responses)
	fmt.Fprintf(w, "  Success rate:  %.2f%%\n", successRate)
	fmt.Fprintf(w, "  Errors:        %d\n", errorCount)
	if len(result.ErrorsByKind) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByKind)
	}
	fmt.Fprintf(w, "  Recycles:      %d\n", result.Recycles)
	fmt.Fprintf(w, "  Failed URLs:   %d\n", len(result.FailedURLs))
	if result.Duplicates > 0 {
		fmt.Fprintf(w, "  Duplicates:    %d\n", result.Duplicates)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Parse cache:   %d hits, %d misses\n", cacheHits, cacheMisses)
	fmt.Fprintf(w, "  Duration:      %v\n", duration)
	fmt.Fprintf(w, "  Visits/sec:    %.2f\n", visitsPerSec)
	fmt.Fprintf(w, "  Output:        %s\n", strings.Join(outputs, ", "))
	fmt.Fprintln(w, separator)
}
