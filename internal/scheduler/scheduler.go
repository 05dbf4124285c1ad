// Package scheduler implements the domain-aware concurrency scheduler:
// a global slot count plus per-host slot counts, with adaptive clamp-down
// on errors and CAPTCHAs.
//
// No single teacher file implements this component's full semantics — the
// teacher's internal/crawler/domain_limiter.go is a politeness-delay/
// rate.Limiter, not a counting semaphore, and internal/crawler/worker_pool.go
// only shows the channel-as-semaphore idiom for a flat pool. This package is
// built fresh in that idiom, with the actual acquire/release/adaptive-clamp
// semantics grounded on original_source/tavily_scraper/core/scheduler.py's DomainScheduler.
// The optional per-host QPS smoothing carries over domain_limiter.go's
// rate.Limiter usage directly: a rate.NewLimiter of PerHostQPS events per
// second with burst 1, applied per host and created lazily on first use.
package scheduler

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/chernistry/tavily/internal/config"
)

// Scheduler guarantees that at any instant the in-flight request count for
// host h never exceeds its current per-host cap, and the global in-flight
// count never exceeds the configured global limit.
type Scheduler struct {
	global chan struct{}

	perHostDefault int
	perHostLimits  map[string]int
	jitterMin      time.Duration
	jitterMax      time.Duration
	maxErrorsClamp int32
	perHostQPS     float64

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	tokens         chan struct{}
	pendingDestroy atomic.Int32
	cap            atomic.Int32
	errors         atomic.Int32
	captchas       atomic.Int32
	limiter        *rate.Limiter
}

// New constructs a Scheduler from configuration.
func New(cfg config.SchedulerConfig) *Scheduler {
	globalLimit := cfg.GlobalLimit
	if globalLimit <= 0 {
		globalLimit = 32
	}
	perHostDefault := cfg.PerHostDefaultLimit
	if perHostDefault <= 0 {
		perHostDefault = 4
	}
	jitterMin := time.Duration(cfg.JitterMinMS) * time.Millisecond
	jitterMax := time.Duration(cfg.JitterMaxMS) * time.Millisecond
	if jitterMax < jitterMin {
		jitterMax = jitterMin
	}
	maxErrors := cfg.MaxErrorsForClamp
	if maxErrors <= 0 {
		maxErrors = 5
	}

	perHostLimits := make(map[string]int, len(cfg.PerHostLimits))
	for host, limit := range cfg.PerHostLimits {
		perHostLimits[strings.ToLower(host)] = limit
	}

	return &Scheduler{
		global:         make(chan struct{}, globalLimit),
		perHostDefault: perHostDefault,
		perHostLimits:  perHostLimits,
		jitterMin:      jitterMin,
		jitterMax:      jitterMax,
		maxErrorsClamp: int32(maxErrors),
		perHostQPS:     cfg.PerHostQPS,
		hosts:          make(map[string]*hostState),
	}
}

func (s *Scheduler) hostLimit(host string) int {
	if limit, ok := s.perHostLimits[host]; ok && limit > 0 {
		return limit
	}
	return s.perHostDefault
}

func (s *Scheduler) stateFor(host string) *hostState {
	host = strings.ToLower(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.hosts[host]
	if !ok {
		limit := s.hostLimit(host)
		st = &hostState{tokens: make(chan struct{}, limit)}
		for i := 0; i < limit; i++ {
			st.tokens <- struct{}{}
		}
		st.cap.Store(int32(limit))
		if s.perHostQPS > 0 {
			st.limiter = rate.NewLimiter(rate.Limit(s.perHostQPS), 1)
		}
		s.hosts[host] = st
	}
	return st
}

// Acquire blocks until a global slot and a host slot are both free, then
// waits on the host's QPS limiter (if configured) and sleeps a uniform
// jitter. Returns ctx.Err() if ctx is cancelled first.
func (s *Scheduler) Acquire(ctx context.Context, host string) error {
	select {
	case s.global <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	st := s.stateFor(host)
	select {
	case <-st.tokens:
	case <-ctx.Done():
		<-s.global
		return ctx.Err()
	}

	if st.limiter != nil {
		if err := st.limiter.Wait(ctx); err != nil {
			st.tokens <- struct{}{}
			<-s.global
			return err
		}
	}

	if s.jitterMax > 0 {
		jitter := s.jitterMin
		if s.jitterMax > s.jitterMin {
			jitter += time.Duration(rand.Int63n(int64(s.jitterMax - s.jitterMin)))
		}
		timer := time.NewTimer(jitter)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	return nil
}

// Release returns the global slot and the host slot. If a clamp-down is
// pending for this host, the host token is permanently destroyed instead of
// returned, shrinking the effective capacity without blocking any holder
// that already acquired a token (the "adaptive clamp" mechanism resolving
// spec.md §9's Open Question).
func (s *Scheduler) Release(host string) {
	<-s.global

	host = strings.ToLower(host)
	s.mu.Lock()
	st := s.hosts[host]
	s.mu.Unlock()
	if st == nil {
		return
	}

	for {
		pending := st.pendingDestroy.Load()
		if pending <= 0 {
			st.tokens <- struct{}{}
			return
		}
		if st.pendingDestroy.CompareAndSwap(pending, pending-1) {
			return
		}
	}
}

// RecordError increments the host's error counter and triggers the clamp if
// the combined error+CAPTCHA count reaches the threshold.
func (s *Scheduler) RecordError(host string) {
	st := s.stateFor(host)
	st.errors.Add(1)
	s.maybeClamp(st)
}

// RecordCaptcha increments the host's CAPTCHA counter and triggers the
// clamp if the combined count reaches the threshold.
func (s *Scheduler) RecordCaptcha(host string) {
	st := s.stateFor(host)
	st.captchas.Add(1)
	s.maybeClamp(st)
}

func (s *Scheduler) maybeClamp(st *hostState) {
	if st.errors.Load()+st.captchas.Load() < s.maxErrorsClamp {
		return
	}
	for {
		current := st.cap.Load()
		if current <= 1 {
			return
		}
		if st.cap.CompareAndSwap(current, 1) {
			st.pendingDestroy.Add(current - 1)
			return
		}
	}
}

// ShouldTryBrowser reports whether the host is still eligible for browser
// escalation. Grounded on original_source/tavily_scraper/core/scheduler.py's
// should_try_browser gate: it keys off the host's accumulated error+CAPTCHA
// count against the same clamp threshold used by maybeClamp, not off the
// host's configured slot cap — a host intentionally configured with a low
// PerHostLimits entry (spec.md §4.3's search-engine example) is still
// browser-eligible as long as it has seen no errors.
func (s *Scheduler) ShouldTryBrowser(host string) bool {
	if host == "" {
		return true
	}
	st := s.stateFor(host)
	return st.errors.Load()+st.captchas.Load() < s.maxErrorsClamp
}

// HalveGlobalCapacity is invoked by the batch runner's guardrail (spec.md
// §4.9) when the first shard's bad-status rate exceeds the configured
// threshold. A background goroutine permanently occupies half of the global
// channel's full capacity as slots free up, so in-flight requests are never
// interrupted. Each call occupies another half of the full capacity; the
// batch runner calls it at most once per run.
func (s *Scheduler) HalveGlobalCapacity() {
	total := cap(s.global)
	destroy := total / 2
	if destroy <= 0 {
		return
	}
	go func() {
		for i := 0; i < destroy; i++ {
			s.global <- struct{}{}
		}
	}()
}
