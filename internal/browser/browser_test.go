package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chernistry/tavily/internal/config"
	"github.com/chernistry/tavily/internal/model"
	"github.com/chernistry/tavily/internal/robots"
	"github.com/chernistry/tavily/internal/scheduler"
)

// Fetch's robots/invalid-url short-circuits happen before any chromedp
// browser is started, so they're exercised here without a real Chrome
// binary. Navigation itself has no fake-able seam in this package; it is
// covered at the router level, where stub fetchers stand in for the
// BrowserFetcher interface (see internal/router).

func testFetcher(t *testing.T, robotsCache *robots.Cache) *ChromeFetcher {
	t.Helper()
	f, err := NewChromeFetcher(
		config.BrowserConfig{NavTimeoutSeconds: 10, RecycleAfterPages: 5},
		config.StealthConfig{Enabled: false, NetworkProfile: "wifi"},
		robotsCache,
		scheduler.New(config.SchedulerConfig{GlobalLimit: 8, PerHostDefaultLimit: 2, MaxErrorsForClamp: 5}),
	)
	if err != nil {
		t.Fatalf("NewChromeFetcher: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	f := testFetcher(t, robots.NewCache(config.RobotsConfig{Respect: false}, nil))
	rec := f.Fetch(context.Background(), model.URLJob{URL: "not-a-url"})
	if rec.Status != model.StatusInvalidURL {
		t.Fatalf("status = %v, want invalid_url", rec.Status)
	}
}

func TestFetchShortCircuitsOnRobotsDisallow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cache := robots.NewCache(config.RobotsConfig{Respect: true, UserAgent: "TestAgent"}, nil)
	f := testFetcher(t, cache)

	rec := f.Fetch(context.Background(), model.URLJob{URL: srv.URL + "/page"})
	if rec.Status != model.StatusRobotsBlocked {
		t.Fatalf("status = %v, want robots_blocked", rec.Status)
	}
	if rec.BlockType != model.BlockRobots {
		t.Fatalf("block_type = %v, want robots", rec.BlockType)
	}
}
