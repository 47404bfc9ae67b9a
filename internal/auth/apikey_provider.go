package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/walletwise/walletwise/backend/pkg/contracts"
)

// APIKeyProvider authenticates operators holding an admin API key, sent as
// X-API-Key or as a non-JWT bearer token.
type APIKeyProvider struct {
	mu   sync.RWMutex
	keys map[string]bool
}

// NewAPIKeyProvider parses a comma-separated key list.
func NewAPIKeyProvider(keyList string) *APIKeyProvider {
	p := &APIKeyProvider{keys: make(map[string]bool)}
	for _, key := range strings.Split(keyList, ",") {
		if key = strings.TrimSpace(key); key != "" {
			p.keys[key] = true
		}
	}
	return p
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys) > 0
}

func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	key := extractAPIKey(r)
	if key == "" {
		return nil, nil
	}
	if !p.validateKey(key) {
		return nil, errors.New("invalid API key")
	}

	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
	return &contracts.Identity{
		Subject:     "apikey:" + hash[:16],
		Provider:    p.Name(),
		Role:        contracts.RoleAdmin,
		DisplayName: "Admin API key",
	}, nil
}

func (p *APIKeyProvider) validateKey(candidate string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for key := range p.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// AddKey adds a key at runtime.
func (p *APIKeyProvider) AddKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = true
}

// RemoveKey revokes a key at runtime.
func (p *APIKeyProvider) RemoveKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// JWTs are left to the JWT provider.
	if tok := bearerToken(r); tok != "" && strings.Count(tok, ".") != 2 {
		return tok
	}
	return ""
}
