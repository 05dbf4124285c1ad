package fetcher

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chernistry/tavily/internal/config"
	"github.com/chernistry/tavily/internal/model"
	"github.com/chernistry/tavily/internal/robots"
	"github.com/chernistry/tavily/internal/scheduler"
)

func newFetcher(t *testing.T, httpCfg config.HTTPConfig, robotsCfg config.RobotsConfig) *HTTPFetcher {
	t.Helper()
	cache := robots.NewCache(robotsCfg, nil)
	sched := scheduler.New(config.SchedulerConfig{GlobalLimit: 8, PerHostDefaultLimit: 4, MaxErrorsForClamp: 5})
	f, err := NewHTTPFetcher(httpCfg, cache, sched)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	return f
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := newFetcher(t, config.HTTPConfig{TimeoutSeconds: 5, MaxBodyBytes: 1024}, config.RobotsConfig{Respect: true, UserAgent: "TestAgent"})
	rec := f.Fetch(context.Background(), model.URLJob{URL: srv.URL + "/page"})

	if rec.Status != model.StatusSuccess {
		t.Fatalf("status = %v, want success", rec.Status)
	}
	if rec.HTTPStatus != 200 {
		t.Fatalf("http_status = %d, want 200", rec.HTTPStatus)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	f := newFetcher(t, config.HTTPConfig{TimeoutSeconds: 5}, config.RobotsConfig{Respect: false})
	rec := f.Fetch(context.Background(), model.URLJob{URL: "://bad"})
	if rec.Status != model.StatusInvalidURL {
		t.Fatalf("status = %v, want invalid_url", rec.Status)
	}
}

func TestFetchRobotsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFetcher(t, config.HTTPConfig{TimeoutSeconds: 5}, config.RobotsConfig{Respect: true, UserAgent: "TestAgent"})
	rec := f.Fetch(context.Background(), model.URLJob{URL: srv.URL + "/private/page"})
	if rec.Status != model.StatusRobotsBlocked {
		t.Fatalf("status = %v, want robots_blocked", rec.Status)
	}
	if !rec.RobotsDisallowed || rec.BlockType != model.BlockRobots {
		t.Fatalf("expected robots_disallowed+block_type robots, got %+v", rec)
	}
}

func TestFetchTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := newFetcher(t, config.HTTPConfig{TimeoutSeconds: 5, MaxBodyBytes: 128}, config.RobotsConfig{Respect: false})
	rec := f.Fetch(context.Background(), model.URLJob{URL: srv.URL + "/page"})
	if rec.Status != model.StatusTooLarge {
		t.Fatalf("status = %v, want too_large", rec.Status)
	}
	if rec.ContentLength != 0 {
		t.Fatalf("expected content_length reset to 0, got %d", rec.ContentLength)
	}
}

func TestFetchCaptchaDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><div class="g-recaptcha"></div></body></html>`))
	}))
	defer srv.Close()

	f := newFetcher(t, config.HTTPConfig{TimeoutSeconds: 5, MaxBodyBytes: 4096}, config.RobotsConfig{Respect: false})
	rec := f.Fetch(context.Background(), model.URLJob{URL: srv.URL + "/page"})
	if rec.Status != model.StatusCaptchaDetected {
		t.Fatalf("status = %v, want captcha_detected", rec.Status)
	}
	if rec.BlockVendor != "recaptcha" {
		t.Fatalf("block_vendor = %q, want recaptcha", rec.BlockVendor)
	}
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := newFetcher(t, config.HTTPConfig{
		TimeoutSeconds: 5,
		MaxBodyBytes:   1024,
		MaxRetries:     1,
		BackoffBase:    config.DurationFrom(1 * time.Millisecond),
	}, config.RobotsConfig{Respect: false})

	rec := f.Fetch(context.Background(), model.URLJob{URL: srv.URL + "/page"})
	if rec.Status != model.StatusSuccess {
		t.Fatalf("status = %v, want success after retry", rec.Status)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestFetchDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("<html><body>gzipped</body></html>"))
		gz.Close()
	}))
	defer srv.Close()

	f := newFetcher(t, config.HTTPConfig{TimeoutSeconds: 5, MaxBodyBytes: 4096}, config.RobotsConfig{Respect: false})
	rec := f.Fetch(context.Background(), model.URLJob{URL: srv.URL + "/page"})
	if rec.Status != model.StatusSuccess {
		t.Fatalf("status = %v, want success", rec.Status)
	}
	if rec.ContentLength == 0 {
		t.Fatal("expected non-zero content length after gzip decode")
	}
}
