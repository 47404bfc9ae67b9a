package contracts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/walletwise/walletwise/backend/internal/analytics"
	"github.com/walletwise/walletwise/backend/internal/configstore"
	"github.com/walletwise/walletwise/backend/internal/router"
	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// ErrNotFound is exposed so callers outside internal/ can match it.
type ErrNotFound = store.ErrNotFound

// ── Chat ────────────────────────────────────────────────────

// ChatService answers one user message.
// Implementation: internal/executor.Executor
type ChatService interface {
	SendMessage(ctx context.Context, userID, conversationID, content string) (*models.ChatReply, error)
}

// ConversationService manages a user's conversations.
// Implementation: internal/sessions.Service
type ConversationService interface {
	Create(ctx context.Context, userID, title string) (*models.Conversation, error)
	List(ctx context.Context, userID string, page models.Page) (*models.PageResult[models.Conversation], error)
	Messages(ctx context.Context, userID, conversationID string, page models.Page) (*models.PageResult[models.Message], error)
	Delete(ctx context.Context, userID, conversationID string) error
}

// ── Models ──────────────────────────────────────────────────

// ModelManager selects providers and administers candidates.
// Implementation: internal/router.Manager
type ModelManager interface {
	CurrentModel() (models.ModelInfo, bool)
	Health() router.Status
	ListModels(ctx context.Context) ([]models.ModelCandidate, error)
	AddModel(ctx context.Context, c *models.ModelCandidate) error
	UpdateModel(ctx context.Context, id uint, patch models.ModelCandidatePatch) (*models.ModelCandidate, error)
	DeactivateModel(ctx context.Context, id uint) (*models.ModelCandidate, error)
	Reload(ctx context.Context) error
	HealthLogs(ctx context.Context, modelID uint, limit int) ([]models.HealthLog, error)
}

// ── Configuration ───────────────────────────────────────────

// ConfigService is the admin surface of the config store.
// Implementation: internal/configstore.Service
type ConfigService interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Entry(ctx context.Context, key string) (*models.ConfigEntry, error)
	List(ctx context.Context) ([]models.ConfigEntry, error)
	History(ctx context.Context, key string) ([]models.ConfigHistory, error)
	Create(ctx context.Context, key string, value json.RawMessage, description, actor string) (*models.ConfigEntry, error)
	Set(ctx context.Context, key string, value json.RawMessage, actor, reason string) (*models.ConfigEntry, error)
	ToggleActive(ctx context.Context, key string, active bool, actor string) (*models.ConfigEntry, error)
	Revert(ctx context.Context, key string, version int, actor string) (*models.ConfigEntry, error)
	InvalidateAll(ctx context.Context) error
	Export(ctx context.Context) ([]models.ConfigExport, error)
	Import(ctx context.Context, items []models.ConfigExport, actor string) (*configstore.ImportResult, error)
}

// ── Tools ───────────────────────────────────────────────────

// ToolCatalog lists tools and reloads their configuration.
// Implementation: internal/tools.Registry
type ToolCatalog interface {
	Names() []string
	IsActive(name string) bool
	Config(name string) (models.ToolConfig, bool)
	ActiveDefinitions() []models.ToolDefinition
	Reload(ctx context.Context) error
}

// ── Analytics ───────────────────────────────────────────────

// AnalyticsService summarizes tool interactions.
// Implementation: internal/analytics.Service
type AnalyticsService interface {
	Summarize(ctx context.Context, from, to *time.Time) (*analytics.Report, error)
}
