package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInvokeRetriesOnRetriableStatusThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	saved := Endpoints
	Endpoints = []string{srv.URL, srv.URL}
	defer func() { Endpoints = saved }()

	client := &http.Client{}
	result, err := Invoke(context.Background(), client, "v1internal:generateContent", "", "tok", "", []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}
	if len(result.FallbackAttempts) != 1 {
		t.Fatalf("expected exactly one attempt logged, got %d", len(result.FallbackAttempts))
	}
}

func TestInvokeStopsOnNonRetriableError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	saved := Endpoints
	Endpoints = []string{srv.URL, srv.URL, srv.URL}
	defer func() { Endpoints = saved }()

	client := &http.Client{}
	result, err := Invoke(context.Background(), client, "v1internal:generateContent", "", "tok", "", []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected short-circuit after first attempt, got %d calls", calls)
	}
	if result.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 surfaced, got %d", result.StatusCode)
	}
}

func TestInvokeExhaustsAllEndpointsOnPersistentRetriableStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	saved := Endpoints
	Endpoints = []string{srv.URL, srv.URL}
	defer func() { Endpoints = saved }()

	client := &http.Client{}
	result, err := Invoke(context.Background(), client, "v1internal:generateContent", "", "tok", "", []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected both endpoints tried, got %d calls", calls)
	}
	if result.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected last 429 surfaced, got %d", result.StatusCode)
	}
	if len(result.FallbackAttempts) != 2 {
		t.Fatalf("expected two attempts logged, got %d", len(result.FallbackAttempts))
	}
}
