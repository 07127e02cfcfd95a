package util

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCanFetch_RespectsDisallow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	checker := NewRobotsChecker("doxa-test", 5*time.Second)

	allowed, err := checker.CanFetch(context.Background(), ts.URL+"/public/page")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !allowed {
		t.Error("Expected an unrestricted path to be allowed")
	}

	allowed, err = checker.CanFetch(context.Background(), ts.URL+"/private/secret")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if allowed {
		t.Error("Expected a disallowed path to be blocked")
	}
}

func TestCanFetch_MissingRobotsAllows(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	checker := NewRobotsChecker("doxa-test", 5*time.Second)
	allowed, err := checker.CanFetch(context.Background(), ts.URL+"/anything")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !allowed {
		t.Error("Expected a missing robots.txt to allow the fetch")
	}
}

func TestCanFetch_UnreachableHostAllows(t *testing.T) {
	checker := NewRobotsChecker("doxa-test", 100*time.Millisecond)
	allowed, err := checker.CanFetch(context.Background(), "http://127.0.0.1:1/page")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !allowed {
		t.Error("Expected an unreachable robots.txt to allow the fetch")
	}
}

func TestCanFetch_CachesPerHost(t *testing.T) {
	var fetches atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fetches.Add(1)
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
		}
	}))
	defer ts.Close()

	checker := NewRobotsChecker("doxa-test", 5*time.Second)
	for i := 0; i < 3; i++ {
		if _, err := checker.CanFetch(context.Background(), ts.URL+"/page"); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
	if fetches.Load() != 1 {
		t.Errorf("Expected one robots.txt fetch, got %d", fetches.Load())
	}

	checker.Clear()
	if _, err := checker.CanFetch(context.Background(), ts.URL+"/page"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if fetches.Load() != 2 {
		t.Errorf("Expected a refetch after clearing the cache, got %d", fetches.Load())
	}
}

func TestCanFetch_InvalidURL(t *testing.T) {
	checker := NewRobotsChecker("doxa-test", time.Second)
	if _, err := checker.CanFetch(context.Background(), "://bad"); err == nil {
		t.Error("Expected an error for an unparseable URL")
	}
}
