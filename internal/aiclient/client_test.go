package aiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swarmguard/taskrunner/internal/resilience"
)

func TestSendPromptRetriesTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
			return
		}
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(Response{TaskID: req.TaskID, Result: "pong"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.RetryDelay = time.Millisecond
	resp, err := c.SendPrompt(context.Background(), Request{TaskID: "t1", Prompt: "ping"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Result != "pong" {
		t.Fatalf("expected pong, got %q", resp.Result)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 2 failed attempts before success, got %d total", hits)
	}
}

func TestSendPromptSurfacesPersistentServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Retries = 2
	c.RetryDelay = time.Millisecond
	if _, err := c.SendPrompt(context.Background(), Request{TaskID: "t1", Prompt: "ping"}); err == nil {
		t.Fatal("expected error after exhausting the client's own retry budget")
	}
}

func TestSendPromptDeniedByRateLimiter(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Limiter = resilience.NewRateLimiter(0, 0, time.Minute, 0)
	_, err := c.SendPrompt(context.Background(), Request{TaskID: "t1", Prompt: "ping"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("a rate-limited request must never reach the transport, got %d hits", hits)
	}
}

func TestStreamPromptDeliversChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("hello "))
		flusher.Flush()
		_, _ = w.Write([]byte("world"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	var got string
	resp, err := c.StreamPrompt(context.Background(), Request{TaskID: "t1", Prompt: "ping"}, func(chunk string) {
		got += chunk
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello world" || resp.Result != "hello world" {
		t.Fatalf("expected streamed chunks to reassemble, got %q / %q", got, resp.Result)
	}
}
