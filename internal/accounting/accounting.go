// Package accounting implements the per-request bookkeeping described in
// spec.md §4.8: one Request row plus two UPSERT roll-ups, all inside a
// single transaction. Grounded on
// original_source/gateway/app/accounting.py and the UPSERT idiom in
// wisbric-nightowl's pkg/roster/store.go (UpsertScheduleWeek).
package accounting

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoreline-labs/llmgate/internal/telemetry"
)

// RecordParams carries everything Sink.Record needs to persist one
// completed (or failed) request.
type RecordParams struct {
	KeyID          string
	OrganizationID string
	OwnerType      string
	OwnerID        string
	UserID         *string
	Endpoint       string
	Model          *string
	RequestBody    map[string]any
	ResponseBody   map[string]any
	StatusCode     *int
	ErrorMessage   *string
	LatencyMS      *int64
}

// Sink persists request accounting rows. A zero-value Sink with DB set is
// ready to use.
type Sink struct {
	DB     *pgxpool.Pool
	Logger *slog.Logger
}

// New constructs a Sink.
func New(db *pgxpool.Pool, logger *slog.Logger) *Sink {
	return &Sink{DB: db, Logger: logger}
}

type usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

func extractUsage(resp map[string]any) usage {
	var u usage
	raw, ok := resp["usage"].(map[string]any)
	if !ok {
		return u
	}
	u.PromptTokens = toInt64(raw["prompt_tokens"])
	u.CompletionTokens = toInt64(raw["completion_tokens"])
	u.TotalTokens = toInt64(raw["total_tokens"])
	return u
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

// Record performs the three writes described in spec.md §4.8 inside a
// single transaction. Failures are logged and swallowed — accounting MUST
// NOT affect the client-visible response. Successful and streamed responses
// have already been sent by the time Record is called (spec.md §4.8's
// "compute → respond → record" ordering); error outcomes are recorded just
// before the error response is written.
func (s *Sink) Record(ctx context.Context, p RecordParams) {
	if err := s.record(ctx, p); err != nil {
		telemetry.AccountingFailuresTotal.Inc()
		s.Logger.Error("accounting: failed to record request", "error", err, "key_id", p.KeyID)
	}
}

func (s *Sink) record(ctx context.Context, p RecordParams) error {
	u := extractUsage(p.ResponseBody)
	now := time.Now().UTC()
	day := now.Truncate(24 * time.Hour)

	requestBody, err := json.Marshal(p.RequestBody)
	if err != nil {
		return err
	}
	var responseBody []byte
	if p.ResponseBody != nil {
		responseBody, err = json.Marshal(p.ResponseBody)
		if err != nil {
			return err
		}
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insertRequest = `
		INSERT INTO requests (
			key_id, user_id, organization_id, owner_type, owner_id,
			endpoint, model, request_body, response_body, status_code, error_message,
			prompt_tokens, completion_tokens, total_tokens, latency_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now()
		)`
	if _, err := tx.Exec(ctx, insertRequest,
		p.KeyID, p.UserID, p.OrganizationID, p.OwnerType, p.OwnerID,
		p.Endpoint, p.Model, requestBody, responseBody, p.StatusCode, p.ErrorMessage,
		u.PromptTokens, u.CompletionTokens, u.TotalTokens, p.LatencyMS,
	); err != nil {
		return err
	}

	const upsertRollup = `
		INSERT INTO usage_rollups (
			key_id, user_id, day, request_count, prompt_tokens, completion_tokens, total_tokens
		) VALUES (
			$1, $2, $3, 1, $4, $5, $6
		)
		ON CONFLICT (key_id, day) DO UPDATE SET
			request_count = usage_rollups.request_count + EXCLUDED.request_count,
			prompt_tokens = usage_rollups.prompt_tokens + EXCLUDED.prompt_tokens,
			completion_tokens = usage_rollups.completion_tokens + EXCLUDED.completion_tokens,
			total_tokens = usage_rollups.total_tokens + EXCLUDED.total_tokens`
	if _, err := tx.Exec(ctx, upsertRollup,
		p.KeyID, p.UserID, day, u.PromptTokens, u.CompletionTokens, u.TotalTokens,
	); err != nil {
		return err
	}

	const upsertAPIUsage = `
		INSERT INTO api_usage (
			organization_id, owner_type, owner_id, key_id, day,
			request_count, prompt_tokens, completion_tokens, total_tokens
		) VALUES (
			$1, $2, $3, $4, $5, 1, $6, $7, $8
		)
		ON CONFLICT (organization_id, owner_type, owner_id, key_id, day) DO UPDATE SET
			request_count = api_usage.request_count + EXCLUDED.request_count,
			prompt_tokens = api_usage.prompt_tokens + EXCLUDED.prompt_tokens,
			completion_tokens = api_usage.completion_tokens + EXCLUDED.completion_tokens,
			total_tokens = api_usage.total_tokens + EXCLUDED.total_tokens`
	if _, err := tx.Exec(ctx, upsertAPIUsage,
		p.OrganizationID, p.OwnerType, p.OwnerID, p.KeyID, day,
		u.PromptTokens, u.CompletionTokens, u.TotalTokens,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
