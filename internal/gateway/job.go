package gateway

import (
	"context"
	"sync"

	"github.com/shoreline-labs/llmgate/internal/auth"
)

// Mode distinguishes a unary (buffered-JSON) dispatch from a streaming
// (SSE passthrough) one (spec.md §3's Job entity).
type Mode int

const (
	ModeUnary Mode = iota
	ModeStream
)

// Result is what the Dispatcher hands back to the Admission Front for a
// unary Job. An __error__-tagged result (ErrTag set) carries a status code
// and message instead of an upstream body — spec.md §4.6/§7.
type Result struct {
	ErrTag     bool
	StatusCode int
	Message    string
	Body       map[string]any
}

// Job is a unit of dispatch work: an endpoint + body + principal snapshot,
// plus either a completion signal (unary) or a chunk channel (stream).
// Ownership transfers from the Admission Front to the Dispatcher at
// enqueue time and back once the result/chunk channel is closed (spec.md §3).
type Job struct {
	Endpoint  string
	Body      map[string]any
	Principal *auth.Principal
	Mode      Mode

	// Ctx is the request's lifetime: the timeout-bounded context for unary
	// jobs, or the raw request context for streaming jobs (whose read
	// timeout is intentionally disabled, per spec.md §4.7). The Dispatcher
	// uses Ctx.Done() both to cancel the upstream call and to stop
	// blocking on chunk sends once the caller has gone away.
	Ctx context.Context

	// chunks carries raw SSE bytes for streaming jobs. A closed channel is
	// the end-of-stream signal (spec.md §9's sentinel, expressed the
	// idiomatic Go way rather than as a nil-value marker).
	chunks chan []byte

	once   sync.Once
	done   chan struct{}
	result Result
}

// NewJob constructs a Job for the given mode. Streaming jobs get a bounded
// chunk channel; unary jobs get a single-shot completion signal.
func NewJob(ctx context.Context, endpoint string, body map[string]any, principal *auth.Principal, mode Mode) *Job {
	j := &Job{
		Endpoint:  endpoint,
		Body:      body,
		Principal: principal,
		Mode:      mode,
		Ctx:       ctx,
		done:      make(chan struct{}),
	}
	if mode == ModeStream {
		j.chunks = make(chan []byte, 64)
	}
	return j
}

// Complete fills the unary result slot exactly once and signals waiters.
// Subsequent calls are no-ops, matching the single-shot semantics in
// spec.md §9.
func (j *Job) Complete(r Result) {
	j.once.Do(func() {
		j.result = r
		close(j.done)
	})
}

// Await blocks until the Job completes or Ctx is cancelled (e.g. the
// per-request timeout expires). On cancellation the Job's eventual result
// is discarded by the caller, per spec.md §5.
func (j *Job) Await() (Result, bool) {
	select {
	case <-j.done:
		return j.result, true
	case <-j.Ctx.Done():
		return Result{}, false
	}
}

// PushChunk sends one SSE frame to the stream's consumer. It returns false
// if Ctx is done before the send completes, e.g. on client disconnect.
func (j *Job) PushChunk(chunk []byte) bool {
	select {
	case j.chunks <- chunk:
		return true
	case <-j.Ctx.Done():
		return false
	}
}

// CloseStream closes the chunk channel, signalling end-of-stream to the
// Admission Front's range loop. Safe to call exactly once per Job.
func (j *Job) CloseStream() {
	close(j.chunks)
}

// Chunks exposes the read side of the stream channel to the Admission
// Front. Consumers should range over it; the loop ends when CloseStream
// is called.
func (j *Job) Chunks() <-chan []byte {
	return j.chunks
}
