package middleware

import (
	"context"
	"time"
)

// Identity is the resolved caller of a request: a principal name and the
// permission strings attached to its API key.
type Identity struct {
	Principal   string
	KeyID       string
	Permissions []string
	AuthTime    time.Time
}

// Anonymous reports whether the identity carries no principal.
func (id Identity) Anonymous() bool {
	return id.Principal == ""
}

// identityKey is the context key for the authenticated identity.
type identityKey struct{}

// SetIdentity stores the identity in the context.
func SetIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// GetIdentity extracts the identity from the context. The zero Identity
// is returned for unauthenticated requests.
func GetIdentity(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}

	return Identity{}
}
