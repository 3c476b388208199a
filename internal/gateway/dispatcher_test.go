package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherUnaryHappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "hi"}}},
			"usage":   map[string]any{"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12},
		})
	}))
	defer upstream.Close()

	q := NewQueue(4)
	client := NewUpstreamClient(upstream.URL, 2*time.Second)
	d := NewDispatcher(q, client, 2, slog.Default())
	d.Start()
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job := NewJob(ctx, "/v1/chat/completions", map[string]any{"model": "m"}, nil, ModeUnary)
	if err := q.Enqueue(job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	result, ok := job.Await()
	if !ok {
		t.Fatal("expected job to complete before context deadline")
	}
	if result.ErrTag {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if result.Body["choices"] == nil {
		t.Fatalf("expected choices in result body, got %+v", result.Body)
	}
}

func TestDispatcherUnaryUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "boom"}})
	}))
	defer upstream.Close()

	q := NewQueue(4)
	client := NewUpstreamClient(upstream.URL, 2*time.Second)
	d := NewDispatcher(q, client, 1, slog.Default())
	d.Start()
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job := NewJob(ctx, "/v1/chat/completions", map[string]any{"model": "m"}, nil, ModeUnary)
	_ = q.Enqueue(job)

	result, ok := job.Await()
	if !ok {
		t.Fatal("expected job to complete")
	}
	if !result.ErrTag || result.StatusCode != 500 || result.Message != "boom" {
		t.Fatalf("result = %+v, want ErrTag with status 500 and message boom", result)
	}
}

func TestDispatcherUnsupportedEndpoint(t *testing.T) {
	q := NewQueue(1)
	d := NewDispatcher(q, NewUpstreamClient("http://unused", time.Second), 1, slog.Default())
	d.Start()
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job := NewJob(ctx, "/v1/unknown", nil, nil, ModeUnary)
	_ = q.Enqueue(job)

	result, ok := job.Await()
	if !ok {
		t.Fatal("expected job to complete")
	}
	if !result.ErrTag || result.StatusCode != 404 {
		t.Fatalf("result = %+v, want 404 ErrTag", result)
	}
}

// TestDispatcherConcurrencyCap verifies at most `concurrency` jobs are in
// the upstream phase simultaneously (spec.md §8's concurrency-cap property).
func TestDispatcherConcurrencyCap(t *testing.T) {
	var inFlight, maxSeen int64
	release := make(chan struct{})

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt64(&maxSeen, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt64(&inFlight, -1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"usage": map[string]any{}})
	}))
	defer upstream.Close()

	const concurrency = 2
	const jobCount = 6
	q := NewQueue(jobCount)
	client := NewUpstreamClient(upstream.URL, 5*time.Second)
	d := NewDispatcher(q, client, concurrency, slog.Default())
	d.Start()
	defer d.Stop()

	var wg sync.WaitGroup
	jobs := make([]*Job, jobCount)
	for i := 0; i < jobCount; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobs[i] = NewJob(ctx, "/v1/chat/completions", map[string]any{}, nil, ModeUnary)
		if err := q.Enqueue(jobs[i]); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	time.Sleep(300 * time.Millisecond)
	close(release)

	for _, j := range jobs {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			j.Await()
		}(j)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&maxSeen); got > concurrency {
		t.Fatalf("max concurrent upstream calls = %d, want <= %d", got, concurrency)
	}
}
