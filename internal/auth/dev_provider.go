package auth

import (
	"context"
	"net/http"

	"github.com/walletwise/walletwise/backend/pkg/contracts"
)

// DevProvider authenticates every request as a fixed user. It is only
// registered when authentication is disabled for local development. The
// X-Dev-User header overrides the user id.
type DevProvider struct {
	userID string
	role   string
}

func NewDevProvider(userID string, admin bool) *DevProvider {
	role := contracts.RoleUser
	if admin {
		role = contracts.RoleAdmin
	}
	return &DevProvider{userID: userID, role: role}
}

func (p *DevProvider) Name() string  { return "dev" }
func (p *DevProvider) Enabled() bool { return p.userID != "" }

func (p *DevProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	id := p.userID
	if h := r.Header.Get("X-Dev-User"); h != "" {
		id = h
	}
	return &contracts.Identity{Subject: id, Provider: p.Name(), Role: p.role}, nil
}
