package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/doxa-graph/doxa/internal/model"
)

func noSearchSleep(t *testing.T) {
	t.Helper()
	orig := searchSleepFunc
	searchSleepFunc = func(time.Duration) {}
	t.Cleanup(func() { searchSleepFunc = orig })
}

func TestSearch_RequestShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("Expected POST /search, got %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("Expected the API key header")
		}

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Expected a JSON body, got %v", err)
		}
		if req.Query != "interest rates" || req.NumResults != 3 || req.Type != "auto" {
			t.Errorf("Unexpected request body: %+v", req)
		}
		if req.Contents.Text.MaxCharacters != 500 {
			t.Errorf("Expected snippet cap 500, got %d", req.Contents.Text.MaxCharacters)
		}

		_, _ = w.Write([]byte(`{"results": [
			{"title": "Fed minutes", "url": "https://example.com/fed", "text": "Rates held steady."},
			{"title": "", "url": "https://example.com/blank", "text": "No title here."}
		]}`))
	}))
	defer ts.Close()

	c, err := NewClient("test-key", ts.URL, 5*time.Second, nil, nil)
	if err != nil {
		t.Fatalf("Expected client creation to succeed, got %v", err)
	}

	got, err := c.Search(context.Background(), "interest rates", 3)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(got))
	}
	if got[0].Title != "Fed minutes" || got[0].Snippet != "Rates held steady." {
		t.Errorf("Unexpected first source: %+v", got[0])
	}
	if got[1].Title != "Untitled" {
		t.Errorf("Expected missing titles replaced, got %q", got[1].Title)
	}
}

func TestSearch_ClampsNumResults(t *testing.T) {
	var gotNum int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotNum = req.NumResults
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer ts.Close()

	c, _ := NewClient("test-key", ts.URL, 5*time.Second, nil, nil)

	if _, err := c.Search(context.Background(), "q", 50); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if gotNum != 10 {
		t.Errorf("Expected numResults clamped to 10, got %d", gotNum)
	}

	if _, err := c.Search(context.Background(), "q", 0); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if gotNum != 5 {
		t.Errorf("Expected zero numResults to default to 5, got %d", gotNum)
	}
}

func TestSearch_EmptyResultsIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer ts.Close()

	c, _ := NewClient("test-key", ts.URL, 5*time.Second, nil, nil)
	got, err := c.Search(context.Background(), "obscure query", 5)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no sources, got %d", len(got))
	}
}

func TestSearch_RetriesThenFails(t *testing.T) {
	noSearchSleep(t)

	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c, _ := NewClient("test-key", ts.URL, 5*time.Second, nil, nil)
	_, err := c.Search(context.Background(), "q", 5)
	if err == nil {
		t.Fatal("Expected an error after exhausting retries")
	}
	var uerr *model.UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("Expected an upstream error, got %T", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	if _, err := NewClient("", "", 5*time.Second, nil, nil); err == nil {
		t.Error("Expected an error for a missing API key")
	}
}
