// Package middleware holds the request-context helpers shared by the HTTP
// layer and anything that needs the caller's identity.
package middleware

import (
	"context"

	"github.com/walletwise/walletwise/backend/pkg/contracts"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity stores the authenticated Identity in the context.
func SetIdentity(ctx context.Context, identity *contracts.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity returns the authenticated Identity, or nil for anonymous
// requests.
func GetIdentity(ctx context.Context) *contracts.Identity {
	if v, ok := ctx.Value(identityKey).(*contracts.Identity); ok {
		return v
	}
	return nil
}

// UserID returns the subject of the authenticated identity, or "".
func UserID(ctx context.Context) string {
	if id := GetIdentity(ctx); id != nil {
		return id.Subject
	}
	return ""
}
