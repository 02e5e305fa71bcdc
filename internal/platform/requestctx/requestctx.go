// Package requestctx carries request-scoped identity between the HTTP
// handshake and the WebSocket handler.
package requestctx

import (
	"context"

	"github.com/parleyhq/parley/internal/authz"
)

// identityContextKey is the context key for the resolved caller identity.
type identityContextKey struct{}

// WithIdentity stores a resolved identity in context.
func WithIdentity(ctx context.Context, identity authz.Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity stored in context. Requests that
// never passed identity resolution read back as anonymous.
func IdentityFromContext(ctx context.Context) authz.Identity {
	if ctx == nil {
		return authz.Anonymous()
	}
	if identity, ok := ctx.Value(identityContextKey{}).(authz.Identity); ok {
		return identity
	}
	return authz.Anonymous()
}
