package gateway

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shoreline-labs/llmgate/internal/telemetry"
)

// dequeuePoll bounds how long the dispatcher waits on an empty queue before
// re-checking for shutdown — spec.md §4.6/§5 calls for ~200ms.
const dequeuePoll = 200 * time.Millisecond

// drainTimeout is how long lifecycle management waits for the dispatcher to
// finish in-flight work before it is considered stuck (spec.md §4.6).
const drainTimeout = 5 * time.Second

// Dispatcher is the single background worker draining the Job queue,
// bounded by a semaphore of size vllmMaxConcurrency, grounded on
// original_source/gateway/app/queue.py's _dispatcher loop.
type Dispatcher struct {
	queue    *Queue
	upstream *UpstreamClient
	sem      chan struct{}
	logger   *slog.Logger

	shutdown chan struct{}
	stopped  chan struct{}
	inflight sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher. concurrency bounds the number of
// jobs simultaneously in the upstream phase.
func NewDispatcher(queue *Queue, upstream *UpstreamClient, concurrency int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		upstream: upstream,
		sem:      make(chan struct{}, concurrency),
		logger:   logger,
		shutdown: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the dispatcher loop in a new goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop signals the dispatcher to exit and waits up to drainTimeout for it
// to finish in-flight work. It always returns once the worker has stopped
// or the deadline passed — it never force-cancels, since there is no
// cooperative-cancel hook below the upstream HTTP call's own context.
func (d *Dispatcher) Stop() {
	close(d.shutdown)
	select {
	case <-d.stopped:
	case <-time.After(drainTimeout):
		d.logger.Warn("dispatcher did not drain within timeout")
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	defer d.inflight.Wait()
	for {
		select {
		case <-d.shutdown:
			return
		default:
		}

		var job *Job
		select {
		case job = <-d.queue.Dequeue():
		case <-time.After(dequeuePoll):
			continue
		case <-d.shutdown:
			return
		}

		telemetry.QueueDepth.Set(float64(d.queue.Depth()))
		d.sem <- struct{}{}
		d.inflight.Add(1)
		go d.dispatch(job)
	}
}

func (d *Dispatcher) dispatch(job *Job) {
	telemetry.InFlightUpstream.Inc()
	defer func() {
		<-d.sem
		telemetry.InFlightUpstream.Dec()
		d.inflight.Done()
	}()

	if job.Endpoint != "/v1/chat/completions" {
		job.Complete(Result{ErrTag: true, StatusCode: 404, Message: "unsupported endpoint"})
		return
	}

	if job.Mode == ModeStream {
		d.dispatchStream(job)
		return
	}
	d.dispatchUnary(job)
}

func (d *Dispatcher) dispatchUnary(job *Job) {
	body, err := d.upstream.Unary(job.Ctx, job.Body)
	if err != nil {
		if uerr, ok := err.(*UpstreamHTTPError); ok {
			bodyMap, _ := uerr.Body.(map[string]any)
			job.Complete(Result{ErrTag: true, StatusCode: uerr.StatusCode, Message: uerr.Message, Body: bodyMap})
			telemetry.UpstreamErrorsTotal.WithLabelValues("http").Inc()
			return
		}
		job.Complete(Result{ErrTag: true, StatusCode: 502, Message: err.Error()})
		telemetry.UpstreamErrorsTotal.WithLabelValues("transport").Inc()
		return
	}
	job.Complete(Result{Body: body})
}

func (d *Dispatcher) dispatchStream(job *Job) {
	defer job.CloseStream()

	body, err := d.upstream.Stream(job.Ctx, job.Body)
	if err != nil {
		frame := []byte("event: error\ndata: {\"message\": \"" + err.Error() + "\"}\n\n")
		job.PushChunk(frame)
		telemetry.UpstreamErrorsTotal.WithLabelValues("transport").Inc()
		return
	}
	defer body.Close()

	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !job.PushChunk(chunk) {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				d.logger.Warn("stream read error", "error", err)
			}
			return
		}
	}
}
