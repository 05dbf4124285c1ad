// Package metrics aggregates a run's URL Records into the single
// RunSummary written once per batch (SPEC_FULL.md §4.10).
//
// Grounded on original_source/tavily_scraper/utils/metrics.py's percentile and
// compute_run_summary: same nearest-rank percentile formula, same rate and
// per-method latency/content-length breakdown, reimplemented in Go.
package metrics

import (
	"sort"

	"github.com/chernistry/tavily/internal/model"
)

// Aggregate computes the RunSummary for a completed (or partial) set of
// URL Records. An empty input yields a zero-valued summary with
// TotalURLs=0 and all rates 0, matching compute_run_summary's empty-input
// branch.
func Aggregate(records []model.URLRecord) model.RunSummary {
	total := len(records)
	if total == 0 {
		return model.RunSummary{}
	}

	var (
		success, httpErr, timeout, captcha, robotsBlocked int
		httpCount, browserCount                           int
		httpLatencies, browserLatencies                   []int64
		httpContentLens, browserContentLens               []int64
	)

	for _, r := range records {
		switch r.Status {
		case model.StatusSuccess:
			success++
		case model.StatusHTTPError:
			httpErr++
		case model.StatusTimeout:
			timeout++
		case model.StatusCaptchaDetected:
			captcha++
		case model.StatusRobotsBlocked:
			robotsBlocked++
		}

		switch r.Method {
		case model.MethodHTTP:
			httpCount++
			if r.LatencyMS > 0 {
				httpLatencies = append(httpLatencies, r.LatencyMS)
			}
			if r.ContentLength > 0 {
				httpContentLens = append(httpContentLens, int64(r.ContentLength))
			}
		case model.MethodBrowser:
			browserCount++
			if r.LatencyMS > 0 {
				browserLatencies = append(browserLatencies, r.LatencyMS)
			}
			if r.ContentLength > 0 {
				browserContentLens = append(browserContentLens, int64(r.ContentLength))
			}
		}
	}

	f := float64(total)
	return model.RunSummary{
		TotalURLs:             total,
		SuccessRate:           float64(success) / f,
		HTTPErrorRate:         float64(httpErr) / f,
		TimeoutRate:           float64(timeout) / f,
		CaptchaRate:           float64(captcha) / f,
		RobotsBlockRate:       float64(robotsBlocked) / f,
		HTTPXShare:            float64(httpCount) / f,
		PlaywrightShare:       float64(browserCount) / f,
		HTTPP50LatencyMS:      percentile(httpLatencies, 50),
		HTTPP95LatencyMS:      percentile(httpLatencies, 95),
		BrowserP50LatencyMS:   percentile(browserLatencies, 50),
		BrowserP95LatencyMS:   percentile(browserLatencies, 95),
		HTTPMeanContentLen:    mean(httpContentLens),
		BrowserMeanContentLen: mean(browserContentLens),
	}
}

// percentile implements the nearest-rank method from metrics.py's
// percentile: index = round(p/100 * (n-1)), clamped to [0, n-1]. Returns
// nil for an empty sample, matching the Optional[int] return there.
func percentile(values []int64, p float64) *int64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	idx := int(roundHalfAwayFromZero(p / 100.0 * float64(n-1)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	v := sorted[idx]
	return &v
}

func mean(values []int64) *int64 {
	if len(values) == 0 {
		return nil
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	avg := sum / int64(len(values))
	return &avg
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return float64(int64(v + 0.5))
	}
	return float64(int64(v - 0.5))
}
