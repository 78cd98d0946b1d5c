// Package auth resolves API credentials to caller identities. Real identity
// lives in an external provider; this table-driven resolver stands in for it
// and keeps raw credentials out of every other package.
package auth

import (
	"context"

	"xyz-layer-registry/internal/xyz"
)

type contextKey string

const contextKeyIdentity contextKey = "identity"

// Resolver maps API keys to identities.
type Resolver struct {
	keys map[string]xyz.Identity
}

// NewResolver builds a resolver from a key → identity table. Empty keys are
// ignored.
func NewResolver(keys map[string]xyz.Identity) *Resolver {
	table := make(map[string]xyz.Identity, len(keys))
	for k, id := range keys {
		if k == "" || id.User == "" {
			continue
		}
		table[k] = id
	}
	return &Resolver{keys: table}
}

// Resolve returns the identity for key, if any.
func (r *Resolver) Resolve(key string) (xyz.Identity, bool) {
	id, ok := r.keys[key]
	return id, ok
}

// Empty reports whether no identities are configured.
func (r *Resolver) Empty() bool {
	return len(r.keys) == 0
}

// WithIdentity installs the resolved identity in the request context.
func WithIdentity(ctx context.Context, id xyz.Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, id)
}

// FromContext returns the caller identity, or a zero Identity when the
// request never passed authentication.
func FromContext(ctx context.Context) xyz.Identity {
	if id, ok := ctx.Value(contextKeyIdentity).(xyz.Identity); ok {
		return id
	}
	return xyz.Identity{}
}
