package router

import (
	"context"
	"testing"

	"github.com/chernistry/tavily/internal/model"
)

type stubFetcher struct {
	rec   model.FetchRecord
	panic bool
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, job model.URLJob) model.FetchRecord {
	s.calls++
	if s.panic {
		panic("boom")
	}
	return s.rec
}

type stubGate struct{ allow bool }

func (g stubGate) ShouldTryBrowser(host string) bool { return g.allow }

func TestRouteAndFetchInvalidURL(t *testing.T) {
	r := New(&stubFetcher{}, &stubFetcher{}, stubGate{allow: true})
	rec := r.RouteAndFetch(context.Background(), model.URLJob{URL: "not a url"})
	if rec.Status != model.StatusInvalidURL {
		t.Fatalf("status = %v, want invalid_url", rec.Status)
	}
}

func TestRouteAndFetchHappyPathNoEscalation(t *testing.T) {
	httpStage := &stubFetcher{rec: model.FetchRecord{
		URL: "http://example.com/", Host: "example.com", Method: model.MethodHTTP,
		Status: model.StatusSuccess, HTTPStatus: 200, ContentLength: 5000,
	}}
	browserStage := &stubFetcher{}
	r := New(httpStage, browserStage, stubGate{allow: true})

	rec := r.RouteAndFetch(context.Background(), model.URLJob{URL: "http://example.com/"})
	if rec.Status != model.StatusSuccess {
		t.Fatalf("status = %v, want success", rec.Status)
	}
	if browserStage.calls != 0 {
		t.Fatal("expected no browser escalation for a healthy HTTP result")
	}
}

func TestRouteAndFetchRobotsBlockedShortCircuits(t *testing.T) {
	httpStage := &stubFetcher{rec: model.FetchRecord{Status: model.StatusRobotsBlocked, BlockType: model.BlockRobots}}
	browserStage := &stubFetcher{}
	r := New(httpStage, browserStage, stubGate{allow: true})

	rec := r.RouteAndFetch(context.Background(), model.URLJob{URL: "http://example.com/"})
	if rec.Status != model.StatusRobotsBlocked {
		t.Fatalf("status = %v, want robots_blocked", rec.Status)
	}
	if browserStage.calls != 0 {
		t.Fatal("robots_blocked must never escalate to the browser")
	}
}

func TestRouteAndFetchCaptchaShortCircuits(t *testing.T) {
	httpStage := &stubFetcher{rec: model.FetchRecord{Status: model.StatusCaptchaDetected, BlockType: model.BlockCaptcha}}
	browserStage := &stubFetcher{}
	r := New(httpStage, browserStage, stubGate{allow: true})

	rec := r.RouteAndFetch(context.Background(), model.URLJob{URL: "http://example.com/"})
	if rec.Status != model.StatusCaptchaDetected {
		t.Fatalf("status = %v, want captcha_detected", rec.Status)
	}
	if browserStage.calls != 0 {
		t.Fatal("captcha_detected must never escalate to the browser")
	}
}

func TestRouteAndFetchEscalatesOnHTTPError(t *testing.T) {
	httpStage := &stubFetcher{rec: model.FetchRecord{URL: "http://example.com/", Host: "example.com", Status: model.StatusHTTPError}}
	browserStage := &stubFetcher{rec: model.FetchRecord{
		URL: "http://example.com/", Host: "example.com", Method: model.MethodBrowser,
		Status: model.StatusSuccess, HTTPStatus: 200,
	}}
	r := New(httpStage, browserStage, stubGate{allow: true})

	rec := r.RouteAndFetch(context.Background(), model.URLJob{URL: "http://example.com/"})
	if rec.Status != model.StatusSuccess || rec.Method != model.MethodBrowser {
		t.Fatalf("expected browser result to supersede, got %+v", rec)
	}
	if browserStage.calls != 1 {
		t.Fatalf("expected exactly one browser call, got %d", browserStage.calls)
	}
}

func TestRouteAndFetchGateBlocksEscalation(t *testing.T) {
	httpStage := &stubFetcher{rec: model.FetchRecord{Host: "clamped.test", Status: model.StatusHTTPError}}
	browserStage := &stubFetcher{}
	r := New(httpStage, browserStage, stubGate{allow: false})

	rec := r.RouteAndFetch(context.Background(), model.URLJob{URL: "http://clamped.test/"})
	if rec.Status != model.StatusHTTPError {
		t.Fatalf("status = %v, want http_error (no browser available)", rec.Status)
	}
	if browserStage.calls != 0 {
		t.Fatal("expected ShouldTryBrowser=false to block escalation")
	}
}

func TestRouteAndFetchRecoversFromPanic(t *testing.T) {
	httpStage := &stubFetcher{panic: true}
	r := New(httpStage, &stubFetcher{}, stubGate{allow: true})

	rec := r.RouteAndFetch(context.Background(), model.URLJob{URL: "http://example.com/"})
	if rec.Status != model.StatusOtherError {
		t.Fatalf("status = %v, want other_error after a panic", rec.Status)
	}
}

func TestRouteAndFetchEscalatesOnShortContent(t *testing.T) {
	httpStage := &stubFetcher{rec: model.FetchRecord{
		URL: "http://example.com/", Host: "example.com",
		Status: model.StatusSuccess, HTTPStatus: 200, ContentLength: 10,
	}}
	browserStage := &stubFetcher{rec: model.FetchRecord{
		URL: "http://example.com/", Host: "example.com", Method: model.MethodBrowser,
		Status: model.StatusSuccess, HTTPStatus: 200, ContentLength: 5000,
	}}
	r := New(httpStage, browserStage, stubGate{allow: true})

	rec := r.RouteAndFetch(context.Background(), model.URLJob{URL: "http://example.com/"})
	if rec.Method != model.MethodBrowser {
		t.Fatalf("expected escalation for short content, got method=%v", rec.Method)
	}
}
