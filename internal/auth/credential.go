package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned by Resolve on any failure — missing token, no
// matching key, expired key, or a database error. Per spec.md §4.1,
// internal errors are normalized to Unauthorized rather than leaking
// storage-state timing information.
var ErrUnauthorized = errors.New("unauthorized")

// candidateKey is an api_keys row narrowed by key_last4 — see the "why
// last-4 narrowing" note in spec.md §4.1.
type candidateKey struct {
	id        string
	ownerType string
	ownerID   string
	legacyUID *string
	role      string
	status    string
	expiresAt *time.Time
	keyHash   string
}

// CredentialStore resolves a bearer API key to a Principal against the
// api_keys/teams/users tables.
type CredentialStore struct {
	DB           *pgxpool.Pool
	BootstrapKey string
	Logger       *slog.Logger
}

// NewCredentialStore constructs a CredentialStore.
func NewCredentialStore(db *pgxpool.Pool, bootstrapKey string, logger *slog.Logger) *CredentialStore {
	return &CredentialStore{DB: db, BootstrapKey: bootstrapKey, Logger: logger}
}

// Resolve implements the algorithm in spec.md §4.1: bootstrap bypass,
// last-4 narrowing, per-candidate status/expiry/hash check, then ownership
// resolution to an organization. Any failure collapses to ErrUnauthorized.
func (s *CredentialStore) Resolve(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	if s.BootstrapKey != "" && token == s.BootstrapKey {
		return &Principal{
			KeyID:          "bootstrap",
			OrganizationID: "bootstrap",
			OwnerType:      OwnerUser,
			OwnerID:        "bootstrap",
			UserID:         "bootstrap",
			Role:           RoleAdmin,
		}, nil
	}

	last4 := token
	if len(token) > 4 {
		last4 = token[len(token)-4:]
	}

	candidates, err := s.candidatesByLast4(ctx, last4)
	if err != nil {
		s.Logger.Warn("credential lookup failed", "error", err)
		return nil, ErrUnauthorized
	}

	now := time.Now().UTC()
	for _, c := range candidates {
		if c.status != "active" {
			continue
		}
		if c.expiresAt != nil && now.After(c.expiresAt.UTC()) {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(c.keyHash), []byte(token)); err != nil {
			continue
		}

		principal, err := s.resolveOwnership(ctx, c)
		if err != nil {
			continue
		}
		return principal, nil
	}

	return nil, ErrUnauthorized
}

func (s *CredentialStore) candidatesByLast4(ctx context.Context, last4 string) ([]candidateKey, error) {
	const query = `
		SELECT id, owner_type, owner_id, user_id, role, status, expires_at, key_hash
		FROM api_keys
		WHERE key_last4 = $1`

	rows, err := s.DB.Query(ctx, query, last4)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidateKey
	for rows.Next() {
		var c candidateKey
		var expiresAt *time.Time
		var legacyUID *string
		if err := rows.Scan(&c.id, &c.ownerType, &c.ownerID, &legacyUID, &c.role, &c.status, &expiresAt, &c.keyHash); err != nil {
			return nil, err
		}
		c.expiresAt = expiresAt
		c.legacyUID = legacyUID
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CredentialStore) resolveOwnership(ctx context.Context, c candidateKey) (*Principal, error) {
	switch OwnerType(c.ownerType) {
	case OwnerTeam:
		var orgID string
		err := s.DB.QueryRow(ctx, `SELECT organization_id FROM teams WHERE id = $1`, c.ownerID).Scan(&orgID)
		if err != nil {
			return nil, err
		}
		return &Principal{
			KeyID:          c.id,
			OrganizationID: orgID,
			OwnerType:      OwnerTeam,
			OwnerID:        c.ownerID,
			Role:           c.role,
		}, nil

	default:
		ownerID := c.ownerID
		if ownerID == "" && c.legacyUID != nil {
			ownerID = *c.legacyUID
		}
		var orgID string
		err := s.DB.QueryRow(ctx, `SELECT organization_id FROM users WHERE id = $1`, ownerID).Scan(&orgID)
		if err != nil {
			return nil, err
		}
		return &Principal{
			KeyID:          c.id,
			OrganizationID: orgID,
			OwnerType:      OwnerUser,
			OwnerID:        ownerID,
			UserID:         ownerID,
			Role:           c.role,
		}, nil
	}
}
