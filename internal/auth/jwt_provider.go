package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/walletwise/walletwise/backend/internal/users"
	"github.com/walletwise/walletwise/backend/pkg/contracts"
)

// JWTProvider validates HS256 bearer tokens issued by the account service.
// The token subject must resolve to a user in the directory.
type JWTProvider struct {
	secret    []byte
	issuer    string
	directory users.Directory
}

// NewJWTProvider creates the provider. It is disabled when secret is empty.
func NewJWTProvider(secret, issuer string, directory users.Directory) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer, directory: directory}
}

func (p *JWTProvider) Name() string  { return "jwt" }
func (p *JWTProvider) Enabled() bool { return len(p.secret) > 0 }

// Authenticate reads Authorization: Bearer <jwt>. Bearer values that are
// not JWTs are left to the next provider.
func (p *JWTProvider) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	raw := bearerToken(r)
	if raw == "" || strings.Count(raw, ".") != 2 {
		return nil, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New("invalid token: missing subject")
	}

	user, err := p.directory.FindByID(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("unknown user %q: %w", sub, err)
	}

	identity := &contracts.Identity{
		Subject:     user.ID,
		Email:       user.Email,
		DisplayName: user.Name,
		Provider:    p.Name(),
		Role:        contracts.RoleUser,
	}
	if user.Role == contracts.RoleAdmin {
		identity.Role = contracts.RoleAdmin
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}
	return identity, nil
}

// SignToken issues a token for userID. Used by the CLI and tests.
func SignToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
