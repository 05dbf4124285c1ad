// Package router implements the seven-step strategy decision from
// SPEC_FULL.md §4.6: route each job to the HTTP fetcher, escalate to the
// browser fetcher when the HTTP result looks incomplete or blocked, and
// always emit exactly one URL Record per job.
//
// Adapted in spirit from original_source/tavily_scraper/pipelines/router.py's
// needs_browser/route_and_fetch (reimplemented as Go control flow, not
// transliterated).
package router

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chernistry/tavily/internal/classifier"
	"github.com/chernistry/tavily/internal/model"
	"github.com/chernistry/tavily/internal/scheduler"
)

// contentLengthThreshold is the "suspiciously short body" signal in
// needs_browser, grounded on spec.md §4.6.
const contentLengthThreshold = 1024

// HTTPFetcher is the primary fetch stage's interface, satisfied by
// *internal/fetcher.HTTPFetcher.
type HTTPFetcher interface {
	Fetch(ctx context.Context, job model.URLJob) model.FetchRecord
}

// BrowserFetcher is the fallback fetch stage's interface, satisfied by
// *internal/browser.ChromeFetcher. A narrow interface here (rather than a
// concrete type) is what lets router tests substitute a fake browser
// without a real chromedp/Chrome dependency.
type BrowserFetcher interface {
	Fetch(ctx context.Context, job model.URLJob) model.FetchRecord
}

// BrowserGate reports whether a host is still eligible for browser
// escalation, satisfied by *internal/scheduler.Scheduler.
type BrowserGate interface {
	ShouldTryBrowser(host string) bool
}

var _ BrowserGate = (*scheduler.Scheduler)(nil)

// Router composes the HTTP fetcher, the browser fetcher, and the
// scheduler's escalation gate into the single RouteAndFetch decision
// procedure.
type Router struct {
	http    HTTPFetcher
	browser BrowserFetcher
	gate    BrowserGate
}

// New constructs a Router from its collaborators. browser may be nil, in
// which case escalation never happens (used when the browser stage is
// disabled entirely).
func New(http HTTPFetcher, browser BrowserFetcher, gate BrowserGate) *Router {
	return &Router{http: http, browser: browser, gate: gate}
}

// RouteAndFetch runs the seven-step sequence and returns exactly one
// model.URLRecord. It never lets a panic escape: a recover() boundary
// around the HTTP and browser calls converts any panic into an
// other_error record, satisfying spec.md §4.6's per-URL isolation
// requirement and spec.md §7's guarantee that one bad job cannot take down
// a shard.
func (r *Router) RouteAndFetch(ctx context.Context, job model.URLJob) model.URLRecord {
	if rec, ok := validateStructurally(job); !ok {
		return rec
	}

	httpRec, err := r.safeFetch(ctx, r.http, job)
	if err != nil {
		rec := model.NewRecord(job, model.MethodHTTP, model.StagePrimary)
		rec.Status = model.StatusOtherError
		rec.ErrorKind = fmt.Sprintf("%T", err)
		rec.ErrorMessage = err.Error()
		rec.FinishedAt = time.Now().UTC()
		return rec.ToURLRecord()
	}

	winner := httpRec
	switch httpRec.Status {
	case model.StatusRobotsBlocked, model.StatusCaptchaDetected:
		return winner.ToURLRecord()
	}

	if r.needsBrowser(httpRec) && r.browser != nil && (r.gate == nil || r.gate.ShouldTryBrowser(httpRec.Host)) {
		browserRec, err := r.safeFetch(ctx, r.browser, job)
		if err == nil {
			winner = browserRec
		}
	}

	return winner.ToURLRecord()
}

// validateStructurally implements step 1: a job whose URL fails basic
// structural validation never touches the network.
func validateStructurally(job model.URLJob) (model.URLRecord, bool) {
	target, err := url.Parse(job.URL)
	if err != nil || !target.IsAbs() || target.Host == "" {
		rec := model.NewRecord(job, model.MethodHTTP, model.StagePrimary)
		rec.Status = model.StatusInvalidURL
		rec.FinishedAt = time.Now().UTC()
		return rec.ToURLRecord(), false
	}
	return model.URLRecord{}, true
}

// needsBrowser implements step 5's predicate exactly as spec.md §4.6 lists
// it: status-based, content-length-based, or classifier-based.
func (r *Router) needsBrowser(rec model.FetchRecord) bool {
	if rec.Status == model.StatusHTTPError || rec.Status == model.StatusTimeout {
		return true
	}
	if rec.ContentLength > 0 && rec.ContentLength < contentLengthThreshold {
		return true
	}
	if len(rec.Body) > 0 {
		if classifier.LooksLikeJSRequired(string(rec.Body)) {
			return true
		}
		det := classifier.Detect(rec.HTTPStatus, rec.URL, nil, string(rec.Body))
		if det.Present && det.Vendor == classifier.VendorGenericBlock {
			return true
		}
	}
	return false
}

// safeFetch runs a fetch stage behind a recover() boundary, implementing
// step 2's "catch any escaping exception" requirement. The panic value is
// surfaced as a Go error so the caller can build an other_error record.
func (r *Router) safeFetch(ctx context.Context, stage interface {
	Fetch(context.Context, model.URLJob) model.FetchRecord
}, job model.URLJob) (rec model.FetchRecord, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in fetch stage: %v", p)
		}
	}()
	if stage == nil {
		return model.FetchRecord{}, fmt.Errorf("fetch stage not configured")
	}
	rec = stage.Fetch(ctx, job)
	return rec, nil
}
