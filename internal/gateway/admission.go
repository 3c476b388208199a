package gateway

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/shoreline-labs/llmgate/internal/accounting"
	"github.com/shoreline-labs/llmgate/internal/auth"
	"github.com/shoreline-labs/llmgate/internal/gwerr"
	"github.com/shoreline-labs/llmgate/internal/httpserver"
)

// finalizeTimeout bounds the detached accounting write issued once a
// stream's chunk loop ends, including the client-disconnect case.
const finalizeTimeout = 5 * time.Second

// RateLimiter is the subset of ratelimit.Limiter the Admission Front needs.
// Accepting an interface keeps this package testable without Redis.
type RateLimiter interface {
	Allow(ctx context.Context, keyID string) bool
}

// QuotaGuard is the subset of quota.Guard the Admission Front needs.
type QuotaGuard interface {
	Check(ctx context.Context, organizationID string) error
}

// AccountingSink is the subset of accounting.Sink the Admission Front needs.
type AccountingSink interface {
	Record(ctx context.Context, p accounting.RecordParams)
}

// AdmissionFront is the HTTP-facing front door: POST /v1/chat/completions
// and GET /v1/models (spec.md §4.4). It wires Credential resolution
// (already done by auth.Middleware before the handler runs), the Rate
// Limiter, the Quota Guard, the Job Queue, and the Accounting Sink.
type AdmissionFront struct {
	RateLimiter RateLimiter
	Quota       QuotaGuard
	Queue       *Queue
	Accounting  AccountingSink
	// DefaultTimeout is the unary admission wait when the caller does not
	// supply timeout_s (spec.md §4.4), configured via REQUEST_TIMEOUT_S.
	DefaultTimeout time.Duration
}

// NewAdmissionFront constructs an AdmissionFront.
func NewAdmissionFront(rl RateLimiter, q QuotaGuard, queue *Queue, sink AccountingSink, defaultTimeout time.Duration) *AdmissionFront {
	return &AdmissionFront{RateLimiter: rl, Quota: q, Queue: queue, Accounting: sink, DefaultTimeout: defaultTimeout}
}

// Models handles GET /v1/models.
func (a *AdmissionFront) Models(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, Models())
}

// ChatCompletions handles POST /v1/chat/completions, implementing the
// seven-step admission algorithm in spec.md §4.4.
func (a *AdmissionFront) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	principal := auth.FromContext(r.Context())
	if principal == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid or missing API key")
		return
	}

	var req ChatCompletionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if !a.RateLimiter.Allow(r.Context(), principal.KeyID) {
		httpserver.RespondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if err := a.Quota.Check(r.Context(), principal.OrganizationID); err != nil {
		if gerr, ok := gwerr.As(err); ok {
			httpserver.RespondError(w, gerr.Status, gerr.Message)
			return
		}
		httpserver.RespondError(w, http.StatusInternalServerError, "quota check failed")
		return
	}

	started := time.Now()

	if req.Stream {
		a.serveStream(w, r, principal, &req, started)
		return
	}
	a.serveUnary(w, r, principal, &req, started)
}

func (a *AdmissionFront) timeoutFor(req *ChatCompletionRequest) time.Duration {
	if req.TimeoutS != nil && *req.TimeoutS > 0 {
		return time.Duration(*req.TimeoutS * float64(time.Second))
	}
	return a.DefaultTimeout
}

func (a *AdmissionFront) serveUnary(w http.ResponseWriter, r *http.Request, principal *auth.Principal, req *ChatCompletionRequest, started time.Time) {
	ctx, cancel := context.WithTimeout(r.Context(), a.timeoutFor(req))
	defer cancel()

	body := req.toUpstreamBody()
	job := NewJob(ctx, "/v1/chat/completions", body, principal, ModeUnary)

	if err := a.Queue.Enqueue(job); err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "queue is at capacity, try again later")
		return
	}

	result, ok := job.Await()
	latency := time.Since(started).Milliseconds()

	if !ok {
		status := http.StatusGatewayTimeout
		msg := "upstream request timed out"
		a.record(r.Context(), principal, "/v1/chat/completions", req, nil, &status, &msg, latency)
		httpserver.RespondError(w, status, msg)
		return
	}

	if result.ErrTag {
		status := result.StatusCode
		msg := result.Message
		a.record(r.Context(), principal, "/v1/chat/completions", req, result.Body, &status, &msg, latency)
		httpserver.RespondError(w, status, msg)
		return
	}

	status := http.StatusOK
	httpserver.Respond(w, http.StatusOK, result.Body)
	a.record(r.Context(), principal, "/v1/chat/completions", req, result.Body, &status, nil, latency)
}

func (a *AdmissionFront) serveStream(w http.ResponseWriter, r *http.Request, principal *auth.Principal, req *ChatCompletionRequest, started time.Time) {
	body := req.toUpstreamBody()
	body["stream"] = true
	job := NewJob(r.Context(), "/v1/chat/completions", body, principal, ModeStream)

	if err := a.Queue.Enqueue(job); err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "queue is at capacity, try again later")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	var seen bytes.Buffer
	var lastUsageFrame map[string]any
	for chunk := range job.Chunks() {
		seen.Write(chunk)
		if frame, ok := sniffUsage(seen.Bytes()); ok {
			lastUsageFrame = frame
		}
		if _, err := w.Write(chunk); err != nil {
			break
		}
		if canFlush {
			flusher.Flush()
		}
	}

	latency := time.Since(started).Milliseconds()
	status := http.StatusOK

	// r.Context() may already be cancelled here (client disconnect mid-stream,
	// spec.md §5), which would make the accounting write fail and be
	// swallowed. Detach from cancellation but keep a short budget so a
	// disconnect still records partial usage instead of recording nothing.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), finalizeTimeout)
	defer cancel()
	a.record(recordCtx, principal, "/v1/chat/completions", req, lastUsageFrame, &status, nil, latency)
}

// record calls the Accounting Sink, synthesizing the plain-map request
// body and deriving organization/owner identifiers from the Principal.
func (a *AdmissionFront) record(ctx context.Context, principal *auth.Principal, endpoint string, req *ChatCompletionRequest, responseBody map[string]any, statusCode *int, errorMessage *string, latencyMS int64) {
	var userID *string
	if principal.UserID != "" {
		userID = &principal.UserID
	}
	var model *string
	if req.Model != "" {
		model = &req.Model
	}

	a.Accounting.Record(ctx, accounting.RecordParams{
		KeyID:          principal.KeyID,
		OrganizationID: principal.OrganizationID,
		OwnerType:      string(principal.OwnerType),
		OwnerID:        principal.OwnerID,
		UserID:         userID,
		Endpoint:       endpoint,
		Model:          model,
		RequestBody:    req.toUpstreamBody(),
		ResponseBody:   responseBody,
		StatusCode:     statusCode,
		ErrorMessage:   errorMessage,
		LatencyMS:      &latencyMS,
	})
}
