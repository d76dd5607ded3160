package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Identity is the authenticated caller as supplied by the identity provider.
type Identity struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

// IsZero reports whether no identity is present.
func (i *Identity) IsZero() bool {
	return i == nil || i.ID == uuid.Nil
}

// NormalizeEmail lower-cases and trims an address for comparisons and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// FromContext returns the identity stored in ctx.
// Returns nil if no identity is authenticated.
func FromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityContextKey).(Identity)
	if !ok || id.ID == uuid.Nil {
		return nil
	}
	return &id
}
