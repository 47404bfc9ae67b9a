package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

// DefaultTimeout bounds a provider call when the candidate has no
// metadata.timeout_ms.
const DefaultTimeout = 60 * time.Second

// HealthRecorder persists one row per provider call.
type HealthRecorder interface {
	CreateHealthLog(ctx context.Context, entry *models.HealthLog) error
}

// Tracked wraps a Driver with per-call timeouts, tool gating and health
// accounting.
type Tracked struct {
	cand     models.ModelCandidate
	driver   Driver
	recorder HealthRecorder
	timeout  time.Duration
	now      func() time.Time

	mu     sync.Mutex
	health models.ProviderHealth
	lastOK bool
}

// NewTracked wraps d for candidate c. recorder may be nil.
func NewTracked(c models.ModelCandidate, d Driver, recorder HealthRecorder) *Tracked {
	timeout := DefaultTimeout
	if ms, ok := c.MetadataInt("timeout_ms"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	t := &Tracked{
		cand:     c,
		driver:   d,
		recorder: recorder,
		timeout:  timeout,
		now:      time.Now,
	}
	t.health = models.ProviderHealth{
		ConsecutiveErrors: c.ConsecutiveFailures,
		HealthScore:       c.HealthScore,
		LastTestedAt:      c.LastTestedAt,
	}
	return t
}

// Candidate returns the configuration this provider was built from.
func (t *Tracked) Candidate() models.ModelCandidate { return t.cand }

func (t *Tracked) GenerateResponse(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil generate request", models.ErrInvalidInput)
	}
	call := *req
	if !t.cand.SupportsTools {
		call.Tools = nil
		call.ToolChoice = ""
		call.HistoryTools = nil
		if HasToolTurns(call.Messages) {
			call.Messages = FlattenToolTurns(call.Messages)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := t.now()
	resp, err := t.driver.Complete(cctx, &call)
	if err == nil && resp == nil {
		err = errors.New("provider returned an empty response")
	}
	t.record(ctx, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", t.cand.Provider, t.cand.ModelName, err)
	}
	if resp.Role == "" {
		resp.Role = models.RoleAssistant
	}
	return resp, nil
}

func (t *Tracked) ValidateModel(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := t.now()
	err := t.driver.Ping(cctx)
	t.record(ctx, start, err)
	if err != nil {
		log.Warn().Err(err).
			Str("provider", string(t.cand.Provider)).
			Str("model", t.cand.ModelName).
			Msg("Model validation failed")
		return false
	}
	return true
}

func (t *Tracked) HealthStatus() models.ProviderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.health
}

func (t *Tracked) ModelInfo() models.ModelInfo {
	return models.ModelInfo{
		ID:            t.cand.ID,
		Name:          t.cand.ModelName,
		Provider:      t.cand.Provider,
		MaxTokens:     t.cand.MaxTokens,
		SupportsTools: t.cand.SupportsTools,
	}
}

// record updates the running health and writes a health-log row.
func (t *Tracked) record(ctx context.Context, start time.Time, callErr error) {
	now := t.now()
	elapsed := now.Sub(start).Milliseconds()

	t.mu.Lock()
	if callErr == nil {
		t.health.ConsecutiveErrors = 0
		t.lastOK = true
	} else {
		t.health.ConsecutiveErrors++
		t.lastOK = false
	}
	t.health.ResponseTimeMs = elapsed
	t.health.LastTestedAt = &now
	t.health.HealthScore = Score(t.health.ConsecutiveErrors, t.lastOK)
	t.health.IsHealthy = t.lastOK
	t.mu.Unlock()

	if t.recorder == nil {
		return
	}
	entry := &models.HealthLog{
		ModelID:        t.cand.ID,
		ModelName:      t.cand.ModelName,
		Status:         Classify(callErr),
		ResponseTimeMs: elapsed,
		CreatedAt:      now,
	}
	if callErr != nil {
		entry.ErrorMessage = callErr.Error()
	}
	// The row outlives a cancelled request.
	if err := t.recorder.CreateHealthLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn().Err(err).Uint("model_id", t.cand.ID).Msg("Failed to write health log")
	}
}

// Score is max(0, 1-0.1*errors) after a successful call, else 0.
func Score(consecutiveErrors int, lastOK bool) float64 {
	if !lastOK {
		return 0
	}
	return math.Max(0, 1-0.1*float64(consecutiveErrors))
}

// Classify maps a call error to a health-log status.
func Classify(err error) models.HealthStatus {
	switch {
	case err == nil:
		return models.HealthSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return models.HealthTimeout
	case errors.Is(err, ErrRateLimited):
		return models.HealthRateLimit
	default:
		return models.HealthError
	}
}
