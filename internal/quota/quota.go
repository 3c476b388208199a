// Package quota implements the organization monthly-token quota guard
// (spec.md §4.3). It reads the current-month consumption from the
// api_usage roll-up table rather than scanning individual requests.
package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoreline-labs/llmgate/internal/gwerr"
	"github.com/shoreline-labs/llmgate/internal/telemetry"
)

// Guard checks an organization's monthly token quota against its
// current-month usage. Like the rate limiter, a storage failure fails open
// — the guard is a cost control, not a safety boundary.
type Guard struct {
	DB     *pgxpool.Pool
	Logger *slog.Logger
}

// New constructs a Guard.
func New(db *pgxpool.Pool, logger *slog.Logger) *Guard {
	return &Guard{DB: db, Logger: logger}
}

// Check returns a TooManyRequests gwerr.Error if organizationID has a
// monthly_token_quota set and current-month usage has reached or exceeded
// it. An unset (NULL) quota means unlimited. Evaluation is per-request with
// no locking — spec.md §4.3 tolerates at-most-in-flight-concurrency overage.
func (g *Guard) Check(ctx context.Context, organizationID string) error {
	var quota *int64
	err := g.DB.QueryRow(ctx, `SELECT monthly_token_quota FROM organizations WHERE id = $1`, organizationID).Scan(&quota)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		g.Logger.Warn("quota guard: organization lookup failed, failing open", "error", err)
		return nil
	}
	if quota == nil {
		return nil
	}

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	today := now.Truncate(24 * time.Hour)

	var used int64
	const query = `
		SELECT COALESCE(SUM(total_tokens), 0)
		FROM api_usage
		WHERE organization_id = $1
		  AND day BETWEEN $2 AND $3`
	if err := g.DB.QueryRow(ctx, query, organizationID, start, today).Scan(&used); err != nil {
		g.Logger.Warn("quota guard: usage lookup failed, failing open", "error", err)
		return nil
	}

	if used >= *quota {
		telemetry.QuotaExceededTotal.Inc()
		return gwerr.New(gwerr.KindTooManyRequests, "organization token quota exceeded")
	}
	return nil
}
