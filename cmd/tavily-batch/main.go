// Command tavily-batch runs one batch of the hybrid URL-fetch engine:
// load URLs, route each through the HTTP-first/browser-fallback
// strategy, and write the JSONL result store plus a single run summary.
//
// Grounded on the teacher's cmd/api/main.go: same flag-parsing and
// slog.JSONHandler logging style, the same signal.NotifyContext shutdown
// wiring, and log.Fatalf on unrecoverable startup errors — adapted from
// an HTTP server lifecycle to a one-shot batch run, since this spec has
// no queryable API (spec.md: "has no queryable API").
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chernistry/tavily/internal/archive"
	"github.com/chernistry/tavily/internal/batch"
	"github.com/chernistry/tavily/internal/browser"
	"github.com/chernistry/tavily/internal/checkpoint"
	"github.com/chernistry/tavily/internal/config"
	"github.com/chernistry/tavily/internal/fetcher"
	"github.com/chernistry/tavily/internal/loader"
	"github.com/chernistry/tavily/internal/model"
	"github.com/chernistry/tavily/internal/resultstore"
	"github.com/chernistry/tavily/internal/robots"
	"github.com/chernistry/tavily/internal/router"
	"github.com/chernistry/tavily/internal/scheduler"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to run configuration")
	urlsPath := flag.String("urls", "", "Path to a newline-delimited URL file (overrides config)")
	dataDir := flag.String("data-dir", "", "Output directory for results and checkpoints (overrides config)")
	maxURLs := flag.Int("max-urls", 0, "Process at most this many URLs (0 = all)")
	useBrowser := flag.Bool("use-browser", false, "Enable the headless browser fallback stage")
	sharded := flag.Bool("sharded", false, "Run with checkpointed sharding, resumable across restarts")
	runID := flag.String("run-id", "", "Run identifier, used to namespace checkpoints (default: current timestamp)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *urlsPath != "" {
		cfg.URLsPath = *urlsPath
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("loading urls", "path", cfg.URLsPath)
	urls, err := loader.FromText(cfg.URLsPath)
	if err != nil {
		log.Fatalf("failed to load urls: %v", err)
	}
	if len(urls) == 0 {
		log.Fatalf("no urls found at %s", cfg.URLsPath)
	}
	if *maxURLs > 0 && *maxURLs < len(urls) {
		urls = urls[:*maxURLs]
	}
	jobs := loader.MakeJobs(urls)
	logger.Info("built jobs", "total", len(jobs))

	sched := scheduler.New(cfg.Scheduler)
	robotsCache := robots.NewCache(cfg.Robots, nil)

	httpFetcher, err := fetcher.NewHTTPFetcher(cfg.HTTP, robotsCache, sched)
	if err != nil {
		log.Fatalf("failed to initialise http fetcher: %v", err)
	}

	var browserFetcher *browser.ChromeFetcher
	if *useBrowser {
		browserFetcher, err = browser.NewChromeFetcher(cfg.Browser, cfg.Stealth, robotsCache, sched)
		if err != nil {
			log.Fatalf("failed to initialise browser fetcher: %v", err)
		}
		defer browserFetcher.Close()
	}

	var routed *router.Router
	if browserFetcher != nil {
		routed = router.New(httpFetcher, browserFetcher, sched)
	} else {
		routed = router.New(httpFetcher, nil, sched)
	}

	recordsPath := filepath.Join(cfg.DataDir, "stats.jsonl")
	if cfg.Stealth.Enabled {
		recordsPath = filepath.Join(cfg.DataDir, "stats_stealth.jsonl")
	}
	sink, err := resultstore.New(recordsPath, cfg.ResultStore.BufferSize)
	if err != nil {
		log.Fatalf("failed to initialise result store: %v", err)
	}

	var archiver *archive.PostgresArchiver
	if cfg.Archive.DSN != "" {
		archiver, err = archive.New(cfg.Archive)
		if err != nil {
			logger.Error("archive disabled: failed to initialise", "error", err)
		} else {
			defer archiver.Close()
		}
	}
	sinkWithArchive := &combinedSink{sink: sink, archiver: archiver}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, finishing in-flight work")
	}()

	run := *runID
	if run == "" {
		run = stampRunID()
	}

	var summary model.RunSummary
	if *sharded {
		cpStore, err := checkpoint.NewStore(cfg.Shard.CheckpointDir)
		if err != nil {
			log.Fatalf("failed to initialise checkpoint store: %v", err)
		}
		shards := loader.Shard(jobs, cfg.Shard.Size)
		logger.Info("running sharded batch", "run_id", run, "shards", len(shards))
		summary, err = batch.RunSharded(ctx, run, shards, routed, sinkWithArchive, sink, cpStore, sched, cfg.HTTP.MaxConcurrency, cfg.Shard.GuardrailBadRate)
		if err != nil {
			log.Fatalf("batch run failed: %v", err)
		}
	} else {
		logger.Info("running flat batch", "run_id", run, "jobs", len(jobs))
		var err error
		summary, err = batch.Run(ctx, jobs, routed, sinkWithArchive, cfg.HTTP.MaxConcurrency)
		if err != nil {
			log.Fatalf("batch run failed: %v", err)
		}
	}

	if err := sink.Close(); err != nil {
		logger.Error("failed to flush result store", "error", err)
	}

	summaryPath := filepath.Join(cfg.DataDir, "run_summary.json")
	if err := resultstore.WriteRunSummary(summaryPath, summary); err != nil {
		log.Fatalf("failed to write run summary: %v", err)
	}
	logger.Info("wrote run summary", "path", summaryPath)

	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode summary: %v", err)
	}
	os.Stdout.Write(encoded)
	os.Stdout.Write([]byte("\n"))
}

func stampRunID() string {
	return time.Now().UTC().Format("20060102T150405Z")
}
