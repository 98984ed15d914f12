package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-session/config"
	"github.com/aluiziolira/go-scrape-session/driver"
	"github.com/aluiziolira/go-scrape-session/parser"
	"github.com/aluiziolira/go-scrape-session/pipeline"
	"github.com/aluiziolira/go-scrape-session/runner"
	"github.com/aluiziolira/go-scrape-session/session"
	"github.com/aluiziolira/go-scrape-session/stats"
)

type fetchOptions struct {
	kind           string
	workers        int
	outputs        []string
	urlsFile       string
	metricsAddr    string
	reportInterval time.Duration
}

func newFetchCmd(global *globalOptions) *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch [url...]",
		Short: "Visit URLs with a pool of sessions and record every visit",
		Long: `fetch visits every URL once. Each worker owns one session for the
whole run; recycling, retries and before-request hooks follow the
configuration file.

Examples:
  # Two emulated sessions, results as CSV
  sessionctl fetch -w 2 https://example.com/ https://example.com/about

  # Headless Chromium, URLs from a file, CSV and JSONL output
  sessionctl fetch --kind headless --urls-file urls.txt -o visits.csv -o visits.jsonl`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), global, opts, args)
		},
	}

	workersDefault := 1
	if value, ok, err := config.EnvInt("SESSIONCTL_WORKERS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SESSIONCTL_WORKERS: %v\n", err)
	} else if ok {
		workersDefault = value
	}
	outputDefault := envDefault("SESSIONCTL_OUTPUT", "visits.csv")

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", envDefault("SESSIONCTL_KIND", string(driver.HTTPEmulator)),
		"Backend: http_emulator, headless, webdriver_firefox or webdriver_chrome")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", workersDefault, "Number of concurrent sessions")
	cmd.Flags().StringSliceVarP(&opts.outputs, "output", "o", []string{outputDefault},
		"Output file; .csv for CSV, anything else for JSON lines. Repeat once for both")
	cmd.Flags().StringVar(&opts.urlsFile, "urls-file", "", "File with one URL per line")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", envDefault("SESSIONCTL_METRICS_ADDR", ""),
		"Prometheus metrics listen address (e.g. :9090)")
	cmd.Flags().DurationVar(&opts.reportInterval, "report-interval", 10*time.Second,
		"Progress log interval in verbose mode")
	return cmd
}

func runFetch(ctx context.Context, global *globalOptions, opts *fetchOptions, args []string) error {
	cfg, err := global.loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	urls, err := collectURLs(args, opts.urlsFile)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return errors.New("no URLs given")
	}

	slog.Info("starting fetch",
		slog.String("kind", opts.kind),
		slog.Int("urls", len(urls)),
		slog.Int("workers", opts.workers),
	)

	metrics := stats.NewMetrics()
	builder := session.NewBuilder(session.WithGlobal(stats.NewGlobal(metrics)))
	p, err := parser.New(parser.DefaultCacheSize)
	if err != nil {
		return fmt.Errorf("initialising parser: %w", err)
	}

	writer, err := pipeline.Open(opts.outputs...)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, destroying sessions")
	}()

	var metricsServer *http.Server
	if opts.metricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    opts.metricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", opts.metricsAddr))
	}

	pl := pipeline.NewPipeline(ctx, writer, pipeline.Options{})
	pl.Start(opts.workers)
	if global.verbose {
		pl.StartMetricsReporting(opts.reportInterval)
	}

	r := runner.New(builder, driver.Kind(opts.kind), cfg, pl,
		runner.WithWorkers(opts.workers),
		runner.WithParser(p),
	)
	result, runErr := r.Run(ctx, urls)

	if err := pl.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("fetch failed: %w", runErr)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}

	hits, misses := p.CacheStats()
	printSummary(os.Stdout, result, pl.GetMetrics(), opts.outputs, hits, misses)
	return nil
}

// collectURLs merges positional URLs with the lines of path. Blank lines and
// lines starting with # are skipped.
func collectURLs(args []string, path string) ([]string, error) {
	urls := append([]string(nil), args...)
	if path == "" {
		return urls, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open urls file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls file: %w", err)
	}
	return urls, nil
}

func envDefault(key, fallback string) string {
	if value, ok := config.EnvString(key); ok {
		return value
	}
	return fallback
}
