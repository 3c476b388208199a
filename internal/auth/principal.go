// Package auth resolves a bearer API key into a Principal (spec.md §4.1),
// the credential store at the front of the admission path.
package auth

import "context"

// OwnerType distinguishes the two kinds of API key ownership (spec.md §3).
type OwnerType string

const (
	OwnerUser OwnerType = "user"
	OwnerTeam OwnerType = "team"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Principal is the authenticated identity derived from a bearer API key
// (spec.md §3's in-memory Principal entity). It is immutable per request.
type Principal struct {
	KeyID          string
	OrganizationID string
	OwnerType      OwnerType
	OwnerID        string
	UserID         string // only set when OwnerType == OwnerUser
	Role           string
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type contextKey struct{}

// NewContext attaches a Principal to ctx.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext extracts the Principal attached by the auth middleware, if any.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}
