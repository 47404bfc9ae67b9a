// Package llm is the provider abstraction over remote chat models.
//
// Vendor SDK calls live in Drivers (see the openai, gemini and anthropic
// subpackages). A Driver factory is registered per ProviderKind, and every
// driver is wrapped in a Tracked provider that adds timeouts, tool gating
// and health accounting.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

// ErrRateLimited is wrapped by drivers when the vendor answers HTTP 429.
var ErrRateLimited = errors.New("rate limited by provider")

// Provider is what the model manager and orchestrator talk to.
type Provider interface {
	GenerateResponse(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error)
	ValidateModel(ctx context.Context) bool
	HealthStatus() models.ProviderHealth
	ModelInfo() models.ModelInfo
}

// Driver performs the raw vendor call. Tools in req are already gated.
type Driver interface {
	Complete(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error)
	// Ping is a minimal call proving the credentials and model name work.
	Ping(ctx context.Context) error
}

// Factory builds a driver for one candidate with its resolved API key.
type Factory func(c models.ModelCandidate, apiKey string) (Driver, error)

// Registry maps provider kinds to driver factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.ProviderKind]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.ProviderKind]Factory)}
}

// Register binds kind to f, replacing any previous factory.
func (r *Registry) Register(kind models.ProviderKind, f Factory) {
	r.mu.Lock()
	r.factories[kind] = f
	r.mu.Unlock()
}

// Kinds lists the registered provider kinds.
func (r *Registry) Kinds() []models.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]models.ProviderKind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Driver builds the raw driver for c.
func (r *Registry) Driver(c models.ModelCandidate, apiKey string) (Driver, error) {
	r.mu.RLock()
	f, ok := r.factories[c.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no driver registered for provider kind %q", c.Provider)
	}
	return f(c, apiKey)
}

// Build instantiates a tracked provider for c.
func (r *Registry) Build(c models.ModelCandidate, apiKey string, recorder HealthRecorder) (Provider, error) {
	d, err := r.Driver(c, apiKey)
	if err != nil {
		return nil, fmt.Errorf("build %s/%s: %w", c.Provider, c.ModelName, err)
	}
	return NewTracked(c, d, recorder), nil
}
