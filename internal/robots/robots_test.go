package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/chernistry/tavily/internal/config"
)

func TestAllowedDeniesDisallowedPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cache := NewCache(config.RobotsConfig{Respect: true, UserAgent: "TestAgent"}, nil)
	target, _ := url.Parse(srv.URL + "/private")
	if cache.Allowed(context.Background(), target) {
		t.Fatal("expected /private to be disallowed")
	}

	allowedTarget, _ := url.Parse(srv.URL + "/public")
	if !cache.Allowed(context.Background(), allowedTarget) {
		t.Fatal("expected /public to be allowed")
	}
}

func TestAllowedFailsOpenOnFetchError(t *testing.T) {
	cache := NewCache(config.RobotsConfig{Respect: true, UserAgent: "TestAgent"}, nil)
	target, _ := url.Parse("http://127.0.0.1:1/private")
	if !cache.Allowed(context.Background(), target) {
		t.Fatal("expected fail-open allow on unreachable robots.txt")
	}
}

func TestAllowedRespectsDisabledRespect(t *testing.T) {
	cache := NewCache(config.RobotsConfig{Respect: false, UserAgent: "TestAgent"}, nil)
	target, _ := url.Parse("http://example.com/private")
	if !cache.Allowed(context.Background(), target) {
		t.Fatal("expected allowed when respect is disabled")
	}
}

func TestAllowedRejectsRelativeURL(t *testing.T) {
	cache := NewCache(config.RobotsConfig{Respect: true, UserAgent: "TestAgent"}, nil)
	target, _ := url.Parse("/relative/path")
	if cache.Allowed(context.Background(), target) {
		t.Fatal("expected relative url to be rejected")
	}
}
