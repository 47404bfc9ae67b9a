// Package router implements the walletwise Model Manager.
//
// The manager loads model candidates in priority order, validates them, and
// keeps exactly one current provider. On a runtime failure it fails over to
// the next healthy candidate and records the fallback in the health log.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/internal/llm"
	"github.com/walletwise/walletwise/backend/internal/secrets"
	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// State is the lifecycle of the manager.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateExhausted     State = "exhausted"
)

// DefaultHealthThreshold is the score below which Current switches away.
const DefaultHealthThreshold = 0.5

// Status is the read-only snapshot exposed to the API.
type Status struct {
	State      State                  `json:"state"`
	Current    *models.ModelInfo      `json:"current,omitempty"`
	Health     *models.ProviderHealth `json:"health,omitempty"`
	Candidates int                    `json:"candidates"`
}

// Manager owns the current provider. Selection and failover are serialized;
// a failed call blocks its request until failover finishes.
type Manager struct {
	store     store.ModelStore
	drivers   *llm.Registry
	secrets   secrets.Resolver
	threshold float64

	mu         sync.Mutex
	state      State
	candidates []models.ModelCandidate
	current    llm.Provider
	currentIdx int
}

// Option configures a Manager.
type Option func(*Manager)

// WithHealthThreshold overrides DefaultHealthThreshold.
func WithHealthThreshold(t float64) Option {
	return func(m *Manager) {
		if t > 0 {
			m.threshold = t
		}
	}
}

// NewManager creates a manager. Call Initialize before serving traffic, or
// let the first Current call do it lazily.
func NewManager(s store.ModelStore, drivers *llm.Registry, res secrets.Resolver, opts ...Option) *Manager {
	m := &Manager{
		store:      s,
		drivers:    drivers,
		secrets:    res,
		threshold:  DefaultHealthThreshold,
		state:      StateUninitialized,
		currentIdx: -1,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Initialize loads active candidates by priority and selects the first one
// that validates.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initLocked(ctx)
}

func (m *Manager) initLocked(ctx context.Context) error {
	m.state = StateLoading
	m.current = nil
	m.currentIdx = -1

	cands, err := m.store.ListModelCandidates(ctx, true)
	if err != nil {
		m.state = StateExhausted
		return fmt.Errorf("load model candidates: %w", err)
	}
	m.candidates = cands
	log.Info().Int("candidates", len(cands)).Msg("Model candidates loaded")
	return m.selectFrom(ctx, 0)
}

// SelectBestProvider re-runs selection from the highest priority candidate.
func (m *Manager) SelectBestProvider(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateUninitialized {
		return m.initLocked(ctx)
	}
	return m.selectFrom(ctx, 0)
}

// selectFrom adopts the first candidate at or after start that validates.
func (m *Manager) selectFrom(ctx context.Context, start int) error {
	for i := start; i < len(m.candidates); i++ {
		c := m.candidates[i]
		p, err := m.instantiate(c)
		if err != nil {
			log.Warn().Err(err).
				Uint("model_id", c.ID).
				Str("model", c.ModelName).
				Msg("Skipping model candidate")
			continue
		}
		ok := p.ValidateModel(ctx)
		m.persistHealth(ctx, i, p.HealthStatus())
		if !ok {
			continue
		}

		m.current = p
		m.currentIdx = i
		m.state = StateReady
		log.Info().
			Uint("model_id", c.ID).
			Str("provider", string(c.Provider)).
			Str("model", c.ModelName).
			Int("priority", c.Priority).
			Msg("Model provider selected")
		return nil
	}

	m.current = nil
	m.currentIdx = -1
	m.state = StateExhausted
	log.Error().Int("candidates", len(m.candidates)).Msg("No model provider available")
	return models.ErrProviderUnavailable
}

func (m *Manager) instantiate(c models.ModelCandidate) (llm.Provider, error) {
	var apiKey string
	if c.APIKeyRef != "" {
		key, ok := m.secrets.Resolve(c.APIKeyRef)
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrSecretMissing, c.APIKeyRef)
		}
		apiKey = key
	}
	return m.drivers.Build(c, apiKey, m.store)
}

func (m *Manager) persistHealth(ctx context.Context, idx int, h models.ProviderHealth) {
	c := &m.candidates[idx]
	c.ConsecutiveFailures = h.ConsecutiveErrors
	c.HealthScore = h.HealthScore
	c.LastTestedAt = h.LastTestedAt
	if err := m.store.UpdateModelHealth(ctx, c.ID, h); err != nil {
		log.Warn().Err(err).Uint("model_id", c.ID).Msg("Failed to persist model health")
	}
}

// Current returns the current provider, selecting lazily when none is
// current and switching when its health score drops below the threshold.
func (m *Manager) Current(ctx context.Context) (llm.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		var err error
		if m.state == StateUninitialized || len(m.candidates) == 0 {
			err = m.initLocked(ctx)
		} else {
			err = m.selectFrom(ctx, 0)
		}
		if err != nil {
			return nil, err
		}
		return m.current, nil
	}

	if h := m.current.HealthStatus(); h.LastTestedAt != nil && h.HealthScore < m.threshold {
		log.Warn().
			Float64("health_score", h.HealthScore).
			Str("model", m.current.ModelInfo().Name).
			Msg("Current provider below health threshold")
		if err := m.switchLocked(ctx, errors.New("health score below threshold")); err != nil {
			return nil, err
		}
	}
	return m.current, nil
}

// SwitchToNextProvider fails over from failed to the first healthy candidate
// strictly after it and writes a fallback row to the health log. When
// another caller already moved past failed, the current provider is
// returned unchanged. A nil failed means the current provider.
func (m *Manager) SwitchToNextProvider(ctx context.Context, failed llm.Provider, cause error) (llm.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if failed != nil && m.current != failed {
		if m.current == nil {
			return nil, fmt.Errorf("%w: state=%s", models.ErrProviderUnavailable, m.state)
		}
		log.Debug().
			Str("failed_model", failed.ModelInfo().Name).
			Str("current_model", m.current.ModelInfo().Name).
			Msg("Failover already performed by a concurrent call")
		return m.current, nil
	}
	if err := m.switchLocked(ctx, cause); err != nil {
		return nil, err
	}
	return m.current, nil
}

func (m *Manager) switchLocked(ctx context.Context, cause error) error {
	from := m.currentIdx
	var failed models.ModelCandidate
	if from >= 0 && from < len(m.candidates) {
		failed = m.candidates[from]
		if m.current != nil {
			m.persistHealth(ctx, from, m.current.HealthStatus())
		}
	}
	m.state = StateDegraded
	m.current = nil

	err := m.selectFrom(ctx, from+1)

	entry := &models.HealthLog{
		ModelID:   failed.ID,
		ModelName: failed.ModelName,
		Status:    models.HealthFallback,
		CreatedAt: time.Now(),
	}
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}
	if err != nil {
		entry.ErrorMessage = fmt.Sprintf("fallback from %q failed, no candidates left: %s", failed.ModelName, reason)
	} else {
		next := m.candidates[m.currentIdx]
		entry.ErrorMessage = fmt.Sprintf("fallback from %q to %q: %s", failed.ModelName, next.ModelName, reason)
	}
	if lerr := m.store.CreateHealthLog(context.WithoutCancel(ctx), entry); lerr != nil {
		log.Warn().Err(lerr).Msg("Failed to write fallback health log")
	}

	log.Warn().
		Uint("from_model_id", failed.ID).
		Str("cause", reason).
		Bool("exhausted", err != nil).
		Msg("Model provider failover")
	return err
}

// Probe validates the current provider and fails over when it no longer
// answers. With no current provider it re-runs selection.
func (m *Manager) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		if m.state == StateUninitialized {
			return m.initLocked(ctx)
		}
		return m.selectFrom(ctx, 0)
	}
	ok := m.current.ValidateModel(ctx)
	m.persistHealth(ctx, m.currentIdx, m.current.HealthStatus())
	if ok {
		return nil
	}
	return m.switchLocked(ctx, errors.New("scheduled health probe failed"))
}

// ── Administration ──────────────────────────────────────────

// AddModel validates and persists a new candidate, then reloads.
func (m *Manager) AddModel(ctx context.Context, c *models.ModelCandidate) error {
	if err := m.validateCandidate(c); err != nil {
		return err
	}
	c.ID = 0
	if err := m.store.CreateModelCandidate(ctx, c); err != nil {
		return fmt.Errorf("create model candidate: %w", err)
	}
	log.Info().Uint("model_id", c.ID).Str("model", c.ModelName).Msg("Model candidate added")
	m.reloadAfterChange(ctx)
	return nil
}

// UpdateModel applies patch to candidate id, persists it, then reloads so
// the change takes effect immediately.
func (m *Manager) UpdateModel(ctx context.Context, id uint, patch models.ModelCandidatePatch) (*models.ModelCandidate, error) {
	c, err := m.store.GetModelCandidate(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(c)
	if err := m.validateCandidate(c); err != nil {
		return nil, err
	}
	if err := m.store.UpdateModelCandidate(ctx, c); err != nil {
		return nil, fmt.Errorf("update model candidate: %w", err)
	}
	log.Info().Uint("model_id", id).Msg("Model candidate updated")
	m.reloadAfterChange(ctx)
	return c, nil
}

// DeactivateModel clears the active flag. Candidates are never deleted.
func (m *Manager) DeactivateModel(ctx context.Context, id uint) (*models.ModelCandidate, error) {
	inactive := false
	return m.UpdateModel(ctx, id, models.ModelCandidatePatch{IsActive: &inactive})
}

// Reload re-reads candidates and re-runs selection.
func (m *Manager) Reload(ctx context.Context) error {
	return m.Initialize(ctx)
}

// reloadAfterChange keeps admin writes successful even when no candidate
// validates afterwards; the state reports Exhausted instead.
func (m *Manager) reloadAfterChange(ctx context.Context) {
	if err := m.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("Reload after model change left no provider available")
	}
}

func (m *Manager) validateCandidate(c *models.ModelCandidate) error {
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name is required", models.ErrInvalidInput)
	}
	known := false
	for _, k := range m.drivers.Kinds() {
		if k == c.Provider {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: unsupported provider %q", models.ErrInvalidInput, c.Provider)
	}
	if c.MaxTokens < 0 || c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: max_tokens must be >= 0 and temperature within [0, 2]", models.ErrInvalidInput)
	}
	return nil
}

// ── Read-only views ─────────────────────────────────────────

// CurrentModel describes the current provider without triggering selection.
func (m *Manager) CurrentModel() (models.ModelInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return models.ModelInfo{}, false
	}
	return m.current.ModelInfo(), true
}

// Health reports the manager state and current provider health.
func (m *Manager) Health() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{State: m.state, Candidates: len(m.candidates)}
	if m.current != nil {
		info := m.current.ModelInfo()
		h := m.current.HealthStatus()
		st.Current = &info
		st.Health = &h
	}
	return st
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ListModels returns every candidate, active or not, by priority.
func (m *Manager) ListModels(ctx context.Context) ([]models.ModelCandidate, error) {
	return m.store.ListModelCandidates(ctx, false)
}

// HealthLogs returns recent health-log rows; modelID 0 covers all models.
func (m *Manager) HealthLogs(ctx context.Context, modelID uint, limit int) ([]models.HealthLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return m.store.ListHealthLogs(ctx, modelID, limit)
}
