package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cyclecloud/azslurmd/pkg/errs"
)

func TestDoDecodesJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"ip-0001"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	var out struct {
		Name string `json:"name"`
	}
	if err := c.Do(context.Background(), http.MethodGet, "/nodes/ip-0001", nil, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name != "ip-0001" {
		t.Fatalf("unexpected name: %q", out.Name)
	}
}

func TestDoDoesNotRetry4xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	err := c.Do(context.Background(), http.MethodGet, "/nodes/missing", nil, nil)
	if !errs.Is(err, errs.InvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable status, got %d", calls)
	}
}

func TestDoRetries5xxUntilSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	c.Attempts = 5
	var out struct {
		Name string `json:"name"`
	}
	if err := c.Do(context.Background(), http.MethodGet, "/nodes", nil, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name != "ok" {
		t.Fatalf("unexpected name: %q", out.Name)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
