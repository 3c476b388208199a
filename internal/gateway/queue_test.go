package gateway

import (
	"context"
	"testing"
)

func TestQueueEnqueueRespectsCapacity(t *testing.T) {
	q := NewQueue(2)

	j1 := NewJob(context.Background(), "/v1/chat/completions", nil, nil, ModeUnary)
	j2 := NewJob(context.Background(), "/v1/chat/completions", nil, nil, ModeUnary)
	j3 := NewJob(context.Background(), "/v1/chat/completions", nil, nil, ModeUnary)

	if err := q.Enqueue(j1); err != nil {
		t.Fatalf("Enqueue(j1) error = %v", err)
	}
	if err := q.Enqueue(j2); err != nil {
		t.Fatalf("Enqueue(j2) error = %v", err)
	}
	if err := q.Enqueue(j3); err == nil {
		t.Fatal("expected Enqueue(j3) to fail once the queue is at capacity")
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue(3)
	jobs := []*Job{
		NewJob(context.Background(), "/v1/chat/completions", map[string]any{"n": 1}, nil, ModeUnary),
		NewJob(context.Background(), "/v1/chat/completions", map[string]any{"n": 2}, nil, ModeUnary),
		NewJob(context.Background(), "/v1/chat/completions", map[string]any{"n": 3}, nil, ModeUnary),
	}
	for _, j := range jobs {
		if err := q.Enqueue(j); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	for i, want := range jobs {
		got := <-q.Dequeue()
		if got != want {
			t.Fatalf("dequeue %d: got job with body %v, want %v", i, got.Body, want.Body)
		}
	}
}

func TestQueueDepth(t *testing.T) {
	q := NewQueue(5)
	if q.Depth() != 0 {
		t.Fatalf("Depth() = %d, want 0", q.Depth())
	}
	_ = q.Enqueue(NewJob(context.Background(), "/v1/chat/completions", nil, nil, ModeUnary))
	if q.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1", q.Depth())
	}
}
