// Package fetcher implements the robots-aware HTTP fetch stage (SPEC_FULL.md
// §4.4). Grounded on the teacher's internal/fetcher/fetcher.go (HTTPFetcher,
// readBody, transport tuning, Client accessor) for structure, generalized
// per spec.md's clamp ranges and retry/backoff semantics from
// original_source/tavily_scraper/pipelines/fast_http_fetcher.py.
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/chernistry/tavily/internal/classifier"
	"github.com/chernistry/tavily/internal/config"
	"github.com/chernistry/tavily/internal/model"
	"github.com/chernistry/tavily/internal/robots"
	"github.com/chernistry/tavily/internal/scheduler"
)

// userAgents is a small fixed rotation pool, grounded on
// original_source/tavily_scraper/pipelines/fast_http_fetcher.py's USER_AGENTS list.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
}

var transientStatusCodes = map[int]bool{502: true, 503: true, 504: true, 429: true}

// HTTPFetcher performs one robots-aware GET and returns a typed
// model.FetchRecord. Fetch has no Go error return: every per-URL outcome,
// including a malformed job URL (invalid_url), is encoded in the record's
// Status field. A panic inside Fetch is converted into other_error by the
// router's recover() boundary.
type HTTPFetcher struct {
	client        *http.Client
	robotsCache   *robots.Cache
	scheduler     *scheduler.Scheduler
	maxBodyBytes  int64
	maxRetries    int
	backoffBase   time.Duration
}

// NewHTTPFetcher constructs the HTTP fetch stage from configuration and its
// shared collaborators.
func NewHTTPFetcher(cfg config.HTTPConfig, robotsCache *robots.Cache, sched *scheduler.Scheduler) (*HTTPFetcher, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 * 1024 * 1024
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	if strings.TrimSpace(cfg.ProxyURL) != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoffBase := cfg.BackoffBase.Duration
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}

	return &HTTPFetcher{
		client:       client,
		robotsCache:  robotsCache,
		scheduler:    sched,
		maxBodyBytes: maxBody,
		maxRetries:   maxRetries,
		backoffBase:  backoffBase,
	}, nil
}

// Client exposes the underlying HTTP client so the robots cache can share a
// transport when desired, mirroring the teacher's Client() accessor.
func (f *HTTPFetcher) Client() *http.Client {
	if f == nil {
		return nil
	}
	return f.client
}

// Fetch performs the full HTTP stage sequence from SPEC_FULL.md §4.4: robots
// check, scheduler acquire, GET with retry/backoff, decompression,
// classifier, too_large guardrail, scheduler release.
func (f *HTTPFetcher) Fetch(ctx context.Context, job model.URLJob) model.FetchRecord {
	rec := model.NewRecord(job, model.MethodHTTP, model.StagePrimary)

	target, err := url.Parse(job.URL)
	if err != nil || !target.IsAbs() || target.Host == "" {
		rec.Status = model.StatusInvalidURL
		rec.FinishedAt = time.Now().UTC()
		return rec
	}
	rec.Host = target.Host

	if f.robotsCache != nil && !f.robotsCache.Allowed(ctx, target) {
		rec.Status = model.StatusRobotsBlocked
		rec.RobotsDisallowed = true
		rec.BlockType = model.BlockRobots
		rec.FinishedAt = time.Now().UTC()
		return rec
	}

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries+1; attempt++ {
		rec.Retries = attempt - 1
		if err := f.scheduler.Acquire(ctx, target.Host); err != nil {
			rec.Status = model.StatusOtherError
			rec.ErrorKind = "SchedulerCancelled"
			rec.ErrorMessage = truncate(err.Error(), 256)
			rec.FinishedAt = time.Now().UTC()
			return rec
		}

		start := time.Now()
		result, retryable, fetchErr := f.attempt(ctx, target)
		rec.LatencyMS = time.Since(start).Milliseconds()

		if fetchErr != nil {
			lastErr = fetchErr
			isTimeout := errors.Is(fetchErr, context.DeadlineExceeded) || isTimeoutErr(fetchErr)
			if isTimeout {
				rec.Status = model.StatusTimeout
				rec.ErrorKind = "Timeout"
			} else {
				rec.Status = model.StatusHTTPError
				rec.ErrorKind = errKind(fetchErr)
			}
			rec.ErrorMessage = truncate(fetchErr.Error(), 256)

			shouldRetry := retryable && attempt <= f.maxRetries
			f.scheduler.Release(target.Host)
			if shouldRetry {
				f.scheduler.RecordError(target.Host)
				sleepBackoff(ctx, f.backoffBase, attempt)
				continue
			}
			f.scheduler.RecordError(target.Host)
			rec.FinishedAt = time.Now().UTC()
			return rec
		}

		rec.HTTPStatus = result.statusCode
		rec.Encoding = result.encoding
		if result.statusCode >= 200 && result.statusCode < 400 {
			rec.Status = model.StatusSuccess
		} else {
			rec.Status = model.StatusHTTPError
		}

		if len(result.body) > 0 {
			rec.ContentLength = len(result.body)
		}

		if result.tooLarge {
			f.scheduler.Release(target.Host)
			rec.Status = model.StatusTooLarge
			rec.ContentLength = 0
			rec.FinishedAt = time.Now().UTC()
			return rec
		}

		if result.isHTML {
			det := classifier.Detect(result.statusCode, target.String(), result.headers, string(result.body))
			if det.Present {
				f.scheduler.Release(target.Host)
				f.scheduler.RecordCaptcha(target.Host)
				rec.Status = model.StatusCaptchaDetected
				rec.CaptchaDetected = true
				rec.BlockType = model.BlockCaptcha
				rec.BlockVendor = string(det.Vendor)
				rec.Body = result.body
				rec.FinishedAt = time.Now().UTC()
				return rec
			}
			rec.Body = result.body
		}

		if rec.Status == model.StatusHTTPError && transientStatusCodes[result.statusCode] && attempt <= f.maxRetries {
			f.scheduler.Release(target.Host)
			f.scheduler.RecordError(target.Host)
			sleepBackoff(ctx, f.backoffBase, attempt)
			continue
		}

		f.scheduler.Release(target.Host)
		if rec.Status == model.StatusHTTPError {
			f.scheduler.RecordError(target.Host)
		}
		rec.FinishedAt = time.Now().UTC()
		return rec
	}

	rec.Status = model.StatusHTTPError
	rec.ErrorKind = "MaxRetriesExceeded"
	if lastErr != nil {
		rec.ErrorMessage = truncate(lastErr.Error(), 256)
	}
	rec.FinishedAt = time.Now().UTC()
	return rec
}

type httpResult struct {
	statusCode int
	body       []byte
	encoding   string
	headers    http.Header
	isHTML     bool
	tooLarge   bool
}

func (f *HTTPFetcher) attempt(ctx context.Context, target *url.URL) (httpResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return httpResult{}, false, err
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", acceptLanguages[rand.Intn(len(acceptLanguages))])
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := f.client.Do(req)
	if err != nil {
		return httpResult{}, true, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	isHTML := strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml+xml")

	body, tooLarge, err := f.readBody(resp)
	if err != nil {
		return httpResult{}, false, err
	}

	return httpResult{
		statusCode: resp.StatusCode,
		body:       body,
		encoding:   resp.Header.Get("Content-Encoding"),
		headers:    resp.Header.Clone(),
		isHTML:     isHTML,
		tooLarge:   tooLarge,
	}, false, nil
}

func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, bool, error) {
	if resp == nil || resp.Body == nil {
		return nil, false, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	var closers []io.Closer

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	limited := io.LimitReader(reader, f.maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, true, nil
	}
	return body, false, nil
}

func sleepBackoff(ctx context.Context, base time.Duration, attempt int) {
	delay := base * time.Duration(1<<uint(attempt-1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout") ||
		strings.Contains(strings.ToLower(err.Error()), "deadline exceeded")
}

func errKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	default:
		return fmt.Sprintf("%T", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
