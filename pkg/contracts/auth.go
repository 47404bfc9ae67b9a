// Package contracts defines the boundaries between the HTTP layer and the
// services behind it: authentication providers and the chat services the
// handlers call.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// Roles carried by an Identity.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ── Identity ────────────────────────────────────────────────

// Identity is an authenticated caller. Handlers only ever see this type,
// never the token it came from.
type Identity struct {
	// Subject is the user id for users and a key fingerprint for admin keys.
	Subject string `json:"subject"`

	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	// Provider names the auth provider that produced the identity.
	Provider string `json:"provider"`

	// Role is RoleUser or RoleAdmin.
	Role string `json:"role"`

	Claims    map[string]string `json:"claims,omitempty"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
}

// IsAdmin reports whether the identity may call admin routes.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request.
//
//   - (*Identity, nil): authenticated, stop the chain
//   - (nil, nil): not handled by this provider, try the next
//   - (nil, error): credentials present but invalid, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// AuthProviderChain tries providers in registration order.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
