package gateway

import (
	"github.com/shoreline-labs/llmgate/internal/gwerr"
	"github.com/shoreline-labs/llmgate/internal/telemetry"
)

// Queue is a bounded FIFO of Jobs backed by a buffered channel. Enqueue
// never blocks: a full queue is immediate backpressure, never a wait
// (spec.md §4.5).
type Queue struct {
	jobs chan *Job
	size int
}

// NewQueue constructs a Queue with the given maximum depth.
func NewQueue(maxSize int) *Queue {
	return &Queue{jobs: make(chan *Job, maxSize), size: maxSize}
}

// Enqueue offers job to the queue without blocking. It returns a
// ServiceUnavailable gwerr.Error if the queue is at capacity.
func (q *Queue) Enqueue(job *Job) error {
	select {
	case q.jobs <- job:
		telemetry.QueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		telemetry.QueueRejectedTotal.Inc()
		return gwerr.New(gwerr.KindServiceUnavailable, "queue is at capacity, try again later")
	}
}

// Dequeue exposes the read side of the channel for the Dispatcher.
func (q *Queue) Dequeue() <-chan *Job {
	return q.jobs
}

// Depth returns the current number of queued (not yet dequeued) jobs.
func (q *Queue) Depth() int {
	return len(q.jobs)
}
