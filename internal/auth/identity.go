package auth

import (
	"context"

	"github.com/jjudge-oj/accounts/types"
)

const authorityPrefix = "ROLE_"

// Identity is the caller established for a single request.
type Identity struct {
	Username string
	Role     types.Role
	// Authority is "ROLE_" + role, or empty when the token carried no role.
	Authority string
}

// AuthorityFor returns the authority label granted by role.
func AuthorityFor(role types.Role) string {
	if role == "" {
		return ""
	}
	return authorityPrefix + string(role)
}

// HasRole reports whether the identity holds the authority for role.
func (i Identity) HasRole(role types.Role) bool {
	return i.Authority != "" && i.Authority == AuthorityFor(role)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity installed in ctx, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
