package metrics

import (
	"testing"

	"github.com/chernistry/tavily/internal/model"
)

func TestAggregateEmptyInput(t *testing.T) {
	summary := Aggregate(nil)
	if summary.TotalURLs != 0 {
		t.Fatalf("total_urls = %d, want 0", summary.TotalURLs)
	}
	if summary.HTTPP50LatencyMS != nil {
		t.Fatal("expected nil p50 latency for an empty run")
	}
}

func TestAggregateRatesSumCorrectly(t *testing.T) {
	records := []model.URLRecord{
		{Status: model.StatusSuccess, Method: model.MethodHTTP, LatencyMS: 100, ContentLength: 500},
		{Status: model.StatusSuccess, Method: model.MethodHTTP, LatencyMS: 200, ContentLength: 1500},
		{Status: model.StatusHTTPError, Method: model.MethodHTTP, LatencyMS: 300},
		{Status: model.StatusTimeout, Method: model.MethodBrowser, LatencyMS: 400},
		{Status: model.StatusInvalidURL},
	}
	summary := Aggregate(records)

	if summary.TotalURLs != 5 {
		t.Fatalf("total_urls = %d, want 5", summary.TotalURLs)
	}
	if summary.SuccessRate != 0.4 {
		t.Fatalf("success_rate = %v, want 0.4", summary.SuccessRate)
	}
	if summary.HTTPXShare != 0.6 {
		t.Fatalf("httpx_share = %v, want 0.6", summary.HTTPXShare)
	}
	if summary.PlaywrightShare != 0.2 {
		t.Fatalf("playwright_share = %v, want 0.2", summary.PlaywrightShare)
	}
	if summary.HTTPMeanContentLen == nil || *summary.HTTPMeanContentLen != 1000 {
		t.Fatalf("http mean content length = %v, want 1000", summary.HTTPMeanContentLen)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	values := []int64{10, 20, 30, 40, 50}
	p50 := percentile(values, 50)
	if p50 == nil || *p50 != 30 {
		t.Fatalf("p50 = %v, want 30", p50)
	}
	p95 := percentile(values, 95)
	if p95 == nil || *p95 != 50 {
		t.Fatalf("p95 = %v, want 50", p95)
	}
}

func TestPercentileEmptyIsNil(t *testing.T) {
	if percentile(nil, 50) != nil {
		t.Fatal("expected nil percentile for empty sample")
	}
}
