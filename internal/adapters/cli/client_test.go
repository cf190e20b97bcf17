package cli

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/tagging-coordinator/internal/infrastructure/resilience"
)

func retryingExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	})
}

func TestClientRetriesOverloadedServer(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server is busy"}`))
			return
		}
		_, _ = w.Write([]byte("pixels"))
	}))
	defer srv.Close()

	data, err := NewClient(srv.URL, "alice", retryingExecutor()).FetchBlob(t.Context(), "permanent", "cat.jpg")
	if err != nil {
		t.Fatalf("FetchBlob() error = %v", err)
	}
	if string(data) != "pixels" || calls.Load() != 2 {
		t.Fatalf("got %q after %d calls", data, calls.Load())
	}
}

func TestClientDoesNotRetryConflict(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"image 4 is not checked out"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "alice", retryingExecutor()).Download(t.Context(), 5)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestClassifyAPIError(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusInternalServerError, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		got := classifyAPIError(&HTTPStatusError{Operation: "GET /v1/download", StatusCode: tc.status})
		if got.Retryable != tc.retryable {
			t.Fatalf("status %d: retryable = %v, want %v", tc.status, got.Retryable, tc.retryable)
		}
	}
}
