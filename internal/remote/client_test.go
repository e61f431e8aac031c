package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestClientBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		_ = json.NewEncoder(w).Encode([]Project{})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		BaseURL:  srv.URL,
		Username: "bot@example.com",
		APIToken: "tok123",
		Logger:   testLogger(),
	})

	if _, err := c.ListProjects(context.Background()); err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if gotUser != "bot@example.com" || gotPass != "tok123" {
		t.Errorf("unexpected credentials: %q / %q", gotUser, gotPass)
	}
}

func TestListProjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/project" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]Project{
			{Key: "OPS", Name: "Operations"},
			{Key: "WEB", Name: "Website"},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Logger: testLogger()})
	projects, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 2 || projects[0].Key != "OPS" {
		t.Errorf("unexpected projects: %+v", projects)
	}
}

func TestSearchPageParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("jql"); got != `project = "OPS"` {
			t.Errorf("unexpected jql: %q", got)
		}
		if got := q.Get("startAt"); got != "50" {
			t.Errorf("unexpected startAt: %q", got)
		}
		if got := q.Get("maxResults"); got != "50" {
			t.Errorf("unexpected maxResults: %q", got)
		}
		_ = json.NewEncoder(w).Encode(Page{StartAt: 50, MaxResults: 50, Total: 120})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Logger: testLogger()})
	page, err := c.SearchPage(context.Background(), `project = "OPS"`, 50, 50)
	if err != nil {
		t.Fatalf("SearchPage failed: %v", err)
	}
	if page.Total != 120 {
		t.Errorf("expected total 120, got %d", page.Total)
	}
}

func TestCountSinceProbesCheaply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("maxResults"); got != "0" {
			t.Errorf("change probe should request zero results, got maxResults=%q", got)
		}
		_ = json.NewEncoder(w).Encode(Page{Total: 7})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Logger: testLogger()})
	n, err := c.CountSince(context.Background(), "OPS", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if n != 7 {
		t.Errorf("expected count 7, got %d", n)
	}
}

func TestHTTPErrorCapturesStatusAndHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "slow down")
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Logger: testLogger()})
	_, err := c.SearchPage(context.Background(), "q", 0, 50)
	if err == nil {
		t.Fatal("expected error")
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", httpErr.StatusCode)
	}
	if d, ok := httpErr.RetryAfterHint(); !ok || d != 17*time.Second {
		t.Errorf("expected retry-after hint 17s, got %v (ok=%v)", d, ok)
	}
}
