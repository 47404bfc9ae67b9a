// Package store provides the storage interface and implementations for the
// chatbot subsystem. MemoryStore backs tests and zero-config development;
// GormStore backs SQLite, PostgreSQL and MySQL deployments.
package store

import (
	"context"
	"time"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

// Store is the primary storage interface for the chatbot.
// All service code depends on this interface, so tests can swap the
// in-memory implementation for the relational one.
type Store interface {
	ConfigStore
	ModelStore
	ConversationStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or updates the chatbot tables.
	Migrate(ctx context.Context) error
}

// ── Config Store ────────────────────────────────────────────

type ConfigStore interface {
	ListConfigEntries(ctx context.Context, activeOnly bool) ([]models.ConfigEntry, error)
	GetConfigEntry(ctx context.Context, key string) (*models.ConfigEntry, error)
	CreateConfigEntry(ctx context.Context, entry *models.ConfigEntry) error

	// UpdateConfigEntry saves entry and appends the history row in one unit.
	// A nil history row only saves the entry (used for activation toggles).
	UpdateConfigEntry(ctx context.Context, entry *models.ConfigEntry, history *models.ConfigHistory) error

	// ListConfigHistory returns history rows newest first.
	ListConfigHistory(ctx context.Context, key string) ([]models.ConfigHistory, error)
	GetConfigHistory(ctx context.Context, key string, version int) (*models.ConfigHistory, error)
}

// ── Model Store ─────────────────────────────────────────────

type ModelStore interface {
	// ListModelCandidates returns candidates ordered by priority, then id.
	ListModelCandidates(ctx context.Context, activeOnly bool) ([]models.ModelCandidate, error)
	GetModelCandidate(ctx context.Context, id uint) (*models.ModelCandidate, error)
	CreateModelCandidate(ctx context.Context, candidate *models.ModelCandidate) error
	UpdateModelCandidate(ctx context.Context, candidate *models.ModelCandidate) error

	// UpdateModelHealth persists the health columns of a candidate only.
	UpdateModelHealth(ctx context.Context, id uint, health models.ProviderHealth) error

	CreateHealthLog(ctx context.Context, entry *models.HealthLog) error

	// ListHealthLogs returns newest rows first. modelID 0 matches every model.
	ListHealthLogs(ctx context.Context, modelID uint, limit int) ([]models.HealthLog, error)

	// PurgeHealthLogs deletes rows created before the cutoff.
	PurgeHealthLogs(ctx context.Context, before time.Time) (int64, error)
}

// ── Conversation Store ──────────────────────────────────────

// LogFilter narrows conversation log queries.
type LogFilter struct {
	UserID string
	Since  *time.Time
	Until  *time.Time
	Limit  int
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)

	// ListConversations returns a user's conversations newest first.
	ListConversations(ctx context.Context, userID string, page models.Page) ([]models.Conversation, int64, error)
	TouchConversation(ctx context.Context, id string) error

	// DeleteConversation removes the conversation and all of its messages.
	DeleteConversation(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, msg *models.Message) error

	// ListMessages returns messages oldest first.
	ListMessages(ctx context.Context, conversationID string, page models.Page) ([]models.Message, int64, error)

	CreateConversationLog(ctx context.Context, entry *models.ConversationLog) error

	// ListConversationLogs returns newest rows first.
	ListConversationLogs(ctx context.Context, filter LogFilter) ([]models.ConversationLog, error)

	// PurgeConversationLogs deletes rows created before the cutoff.
	PurgeConversationLogs(ctx context.Context, before time.Time) (int64, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when creating an entity whose key already exists.
type ErrConflict struct {
	Entity string
	Key    string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " already exists: " + e.Key
}
