// Package shard runs one shard of URL jobs to completion: a
// semaphore-bounded fan-out over router.RouteAndFetch, with each result
// appended to the result store and the shard's checkpoint updated after
// every completed job.
//
// Grounded on original_source/tavily_scraper/pipelines/shard_runner.py's
// run_shard (asyncio.Semaphore-bounded gather, save_checkpoint after
// every job), reimplemented with a Go worker pool in the idiom of the
// teacher's (deleted) internal/crawler/worker_pool.go channel-as-semaphore
// pattern. Diverges from the original in three ways required by
// SPEC_FULL.md §4.8: checkpoint writes are atomic (via internal/checkpoint,
// not the original's plain write_text); urls_done/save_checkpoint updates
// are serialized through a mutex, since the original increments a shared
// dict from multiple concurrent tasks with no lock at all; and a shard
// resumed mid-run (Status still in_progress) skips only the URLs already
// recorded in its checkpoint's CompletedURLs, rather than re-running every
// job from scratch the way run_shard's own load_checkpoint does — the
// original only ever short-circuits a fully completed shard, so a crash
// partway through one re-fetches and re-appends every URL in it.
package shard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chernistry/tavily/internal/checkpoint"
	"github.com/chernistry/tavily/internal/model"
)

// Fetcher is the router's interface, letting shard tests substitute a
// fake decision procedure without a real HTTP/browser stack.
type Fetcher interface {
	RouteAndFetch(ctx context.Context, job model.URLJob) model.URLRecord
}

// Sink is the result store's interface.
type Sink interface {
	Write(record model.URLRecord) error
}

// Result summarizes one shard's completed run, feeding the batch
// runner's guardrail decision. TotalCount and BadCount cover only the
// URLs actually processed during this call — a resumed shard's
// already-completed URLs are reflected in the checkpoint, not here. The
// final run summary is computed separately by reading back every record
// the result store has ever persisted for the run, so a resume's
// previously-completed shards still count toward it.
type Result struct {
	ShardID    int
	BadCount   int
	TotalCount int
}

// BadRate is (captcha_detected + http_error + timeout) / total, exactly
// SPEC_FULL.md §4.9's guardrail numerator.
func (r Result) BadRate() float64 {
	if r.TotalCount == 0 {
		return 0
	}
	return float64(r.BadCount) / float64(r.TotalCount)
}

// isBad matches SPEC_FULL.md §4.9's guardrail numerator exactly:
// captcha_detected + http_error + timeout. robots_blocked is a policy
// outcome, not a failure, and is deliberately excluded.
func isBad(status model.Status) bool {
	switch status {
	case model.StatusCaptchaDetected, model.StatusHTTPError, model.StatusTimeout:
		return true
	default:
		return false
	}
}

// Run processes one shard's jobs to completion. If the shard's
// checkpoint is already marked completed, it returns an empty Result
// immediately (spec.md §4.8's resume semantics) without re-fetching
// anything or re-appending to the result store. If the checkpoint exists
// but is still in_progress (the process crashed mid-shard), only the
// jobs whose URL is not already in CompletedURLs are re-run, so a
// resume never re-fetches or re-appends a URL this shard already
// finished.
func Run(ctx context.Context, runID string, shardID int, jobs []model.URLJob, fetcher Fetcher, sink Sink, cpStore *checkpoint.Store, maxConcurrency int) (Result, error) {
	existing, ok := cpStore.Load(runID, shardID)
	if ok && existing.Status == model.CheckpointCompleted {
		return Result{ShardID: shardID}, nil
	}

	done := make(map[string]bool, len(existing.CompletedURLs))
	for _, url := range existing.CompletedURLs {
		done[url] = true
	}
	pending := make([]model.URLJob, 0, len(jobs))
	for _, job := range jobs {
		if !done[job.URL] {
			pending = append(pending, job)
		}
	}

	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	cp := model.ShardCheckpoint{
		RunID:         runID,
		ShardID:       shardID,
		URLsTotal:     len(jobs),
		URLsDone:      len(jobs) - len(pending),
		CompletedURLs: append([]string(nil), existing.CompletedURLs...),
		LastUpdatedAt: time.Now().UTC(),
		Status:        model.CheckpointInProgress,
	}
	if err := cpStore.Save(cp); err != nil {
		return Result{}, fmt.Errorf("save initial checkpoint: %w", err)
	}

	if len(pending) == 0 {
		cp.Status = model.CheckpointCompleted
		cp.LastUpdatedAt = time.Now().UTC()
		if err := cpStore.Save(cp); err != nil {
			return Result{}, fmt.Errorf("save final checkpoint: %w", err)
		}
		return Result{ShardID: shardID}, nil
	}

	var (
		mu  sync.Mutex
		bad int
		sem = make(chan struct{}, maxConcurrency)
		wg  sync.WaitGroup
	)

	for _, job := range pending {
		job := job
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			rec := fetcher.RouteAndFetch(ctx, job)

			mu.Lock()
			defer mu.Unlock()
			if isBad(rec.Status) {
				bad++
			}
			if err := sink.Write(rec); err != nil {
				// Best-effort: a failed append never aborts the shard: the
				// record still counts toward the checkpoint so a resume
				// does not refetch it, matching the "job is done once
				// routed" semantics of run_shard.
				_ = err
			}
			cp.URLsDone++
			cp.CompletedURLs = append(cp.CompletedURLs, job.URL)
			cp.LastUpdatedAt = time.Now().UTC()
			_ = cpStore.Save(cp)
		}()
	}
	wg.Wait()

	cp.Status = model.CheckpointCompleted
	cp.LastUpdatedAt = time.Now().UTC()
	if err := cpStore.Save(cp); err != nil {
		return Result{}, fmt.Errorf("save final checkpoint: %w", err)
	}

	return Result{
		ShardID:    shardID,
		BadCount:   bad,
		TotalCount: len(pending),
	}, nil
}
