package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/transport"
)

func newClient(url string, retries int) *transport.Client {
	return transport.NewClient(&transport.ClientConfig{
		BaseURL:        url,
		Auth:           transport.BearerToken{Token: "00Dxx!token"},
		MaxRetries:     retries,
		RetryBaseDelay: time.Millisecond,
		RateLimit:      1000,
		RateBurst:      100,
	}, zap.NewNop())
}

// Test: idempotent requests are retried on 5xx and resend the same body.
func TestDo_RetriesServerErrorsWithBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "Id\n001\n" {
			t.Errorf("attempt %d: unexpected body %q", calls.Load()+1, body)
		}
		if r.Header.Get("Authorization") != "Bearer 00Dxx!token" {
			t.Errorf("missing bearer token")
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	resp, err := newClient(srv.URL, 3).Do(context.Background(), &transport.Request{
		Method: http.MethodPut,
		Path:   "/jobs/ingest/750/batches",
		Body:   []byte("Id\n001\n"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

// Test: a POST is not repeated after a server error.
func TestDo_NoRetryForPostServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, 3).Post(context.Background(), "/jobs/ingest", map[string]string{"object": "Account"})
	var httpErr *transport.HTTPError
	if !errors.As(err, &httpErr) || !httpErr.IsServerError() {
		t.Fatalf("expected server HTTPError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", calls.Load())
	}
}

// Test: rate limiting is retried for every method.
func TestDo_RetriesRateLimitedPost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"750"}`))
	}))
	defer srv.Close()

	resp, err := newClient(srv.URL, 2).Post(context.Background(), "/jobs/ingest", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out struct{ ID string }
	if err := resp.JSON(&out); err != nil || out.ID != "750" {
		t.Errorf("unexpected body %q (%v)", resp.Body, err)
	}
}

// Test: client errors return immediately with the response body.
func TestDo_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`[{"errorCode":"INVALIDJOB","message":"bad object"}]`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, 3).Get(context.Background(), "/jobs/ingest/750", nil)
	var httpErr *transport.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", calls.Load())
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := transport.NewClient(&transport.ClientConfig{
		BaseURL:        srv.URL,
		MaxRetries:     5,
		RetryBaseDelay: time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, "/", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
