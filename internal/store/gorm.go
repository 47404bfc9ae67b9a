package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/walletwise/walletwise/backend/internal/database"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// GormStore implements Store on a relational database through GORM.
type GormStore struct {
	db *database.DB
}

// NewGormStore wraps an open database.
func NewGormStore(db *database.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Ping(_ context.Context) error { return s.db.Ping() }

func (s *GormStore) Close() error { return s.db.Close() }

// Migrate creates or updates the chatbot tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&models.ConfigEntry{},
		&models.ConfigHistory{},
		&models.ModelCandidate{},
		&models.HealthLog{},
		&models.Conversation{},
		&models.Message{},
		&models.ConversationLog{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate chatbot tables: %w", err)
	}
	return nil
}

func notFound(err error, entity, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ErrNotFound{Entity: entity, Key: key}
	}
	return err
}

func applyPage(q *gorm.DB, page models.Page) *gorm.DB {
	if page.Limit > 0 {
		q = q.Limit(page.Limit).Offset(page.Offset())
	}
	return q
}

// ── Config ──────────────────────────────────────────────────

func (s *GormStore) ListConfigEntries(ctx context.Context, activeOnly bool) ([]models.ConfigEntry, error) {
	var entries []models.ConfigEntry
	q := s.db.WithContext(ctx).Order("config_key ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list config entries: %w", err)
	}
	return entries, nil
}

func (s *GormStore) GetConfigEntry(ctx context.Context, key string) (*models.ConfigEntry, error) {
	var entry models.ConfigEntry
	if err := s.db.WithContext(ctx).Where("config_key = ?", key).First(&entry).Error; err != nil {
		return nil, notFound(err, "config entry", key)
	}
	return &entry, nil
}

func (s *GormStore) CreateConfigEntry(ctx context.Context, entry *models.ConfigEntry) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ConfigEntry{}).Where("config_key = ?", entry.Key).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return &ErrConflict{Entity: "config entry", Key: entry.Key}
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) UpdateConfigEntry(ctx context.Context, entry *models.ConfigEntry, history *models.ConfigHistory) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ConfigEntry{}).Where("config_key = ?", entry.Key).Updates(map[string]any{
			"value":       entry.Value,
			"description": entry.Description,
			"version":     entry.Version,
			"is_active":   entry.IsActive,
			"updated_by":  entry.UpdatedBy,
			"updated_at":  time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ErrNotFound{Entity: "config entry", Key: entry.Key}
		}
		if history != nil {
			return tx.Create(history).Error
		}
		return nil
	})
}

func (s *GormStore) ListConfigHistory(ctx context.Context, key string) ([]models.ConfigHistory, error) {
	var rows []models.ConfigHistory
	err := s.db.WithContext(ctx).Where("config_key = ?", key).Order("version DESC, id DESC").Find(&rows).Error
	return rows, err
}

func (s *GormStore) GetConfigHistory(ctx context.Context, key string, version int) (*models.ConfigHistory, error) {
	var row models.ConfigHistory
	err := s.db.WithContext(ctx).Where("config_key = ? AND version = ?", key, version).Order("id DESC").First(&row).Error
	if err != nil {
		return nil, notFound(err, "config history", key+"@v"+strconv.Itoa(version))
	}
	return &row, nil
}

// ── Model candidates ────────────────────────────────────────

func (s *GormStore) ListModelCandidates(ctx context.Context, activeOnly bool) ([]models.ModelCandidate, error) {
	var out []models.ModelCandidate
	q := s.db.WithContext(ctx).Order("priority ASC, id ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list model candidates: %w", err)
	}
	return out, nil
}

func (s *GormStore) GetModelCandidate(ctx context.Context, id uint) (*models.ModelCandidate, error) {
	var c models.ModelCandidate
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, "model candidate", strconv.FormatUint(uint64(id), 10))
	}
	return &c, nil
}

func (s *GormStore) CreateModelCandidate(ctx context.Context, candidate *models.ModelCandidate) error {
	return s.db.WithContext(ctx).Create(candidate).Error
}

func (s *GormStore) UpdateModelCandidate(ctx context.Context, candidate *models.ModelCandidate) error {
	// Select("*") so zero values such as IsActive=false are written.
	res := s.db.WithContext(ctx).Model(candidate).Select("*").Omit("created_at").Updates(candidate)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ErrNotFound{Entity: "model candidate", Key: strconv.FormatUint(uint64(candidate.ID), 10)}
	}
	return nil
}

func (s *GormStore) UpdateModelHealth(ctx context.Context, id uint, health models.ProviderHealth) error {
	return s.db.WithContext(ctx).Model(&models.ModelCandidate{}).Where("id = ?", id).Updates(map[string]any{
		"consecutive_failures": health.ConsecutiveErrors,
		"health_score":         health.HealthScore,
		"last_tested_at":       health.LastTestedAt,
	}).Error
}

func (s *GormStore) CreateHealthLog(ctx context.Context, entry *models.HealthLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) ListHealthLogs(ctx context.Context, modelID uint, limit int) ([]models.HealthLog, error) {
	var out []models.HealthLog
	q := s.db.WithContext(ctx).Order("id DESC")
	if modelID != 0 {
		q = q.Where("model_id = ?", modelID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *GormStore) PurgeHealthLogs(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.HealthLog{})
	return res.RowsAffected, res.Error
}

// ── Conversations ───────────────────────────────────────────

func (s *GormStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	return s.db.WithContext(ctx).Create(conv).Error
}

func (s *GormStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err, "conversation", id)
	}
	return &c, nil
}

func (s *GormStore) ListConversations(ctx context.Context, userID string, page models.Page) ([]models.Conversation, int64, error) {
	var (
		out   []models.Conversation
		total int64
	)
	scope := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Conversation{}).Where("user_id = ?", userID)
	}
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := applyPage(scope().Order("created_at DESC, id DESC"), page).Find(&out).Error
	return out, total, err
}

func (s *GormStore) TouchConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

func (s *GormStore) DeleteConversation(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ErrNotFound{Entity: "conversation", Key: id}
		}
		return nil
	})
}

func (s *GormStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *GormStore) ListMessages(ctx context.Context, conversationID string, page models.Page) ([]models.Message, int64, error) {
	var (
		out   []models.Message
		total int64
	)
	scope := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", conversationID)
	}
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := applyPage(scope().Order("id ASC"), page).Find(&out).Error
	return out, total, err
}

func (s *GormStore) CreateConversationLog(ctx context.Context, entry *models.ConversationLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) ListConversationLogs(ctx context.Context, filter LogFilter) ([]models.ConversationLog, error) {
	var out []models.ConversationLog
	q := s.db.WithContext(ctx).Order("id DESC")
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		q = q.Where("created_at <= ?", *filter.Until)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *GormStore) PurgeConversationLogs(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.ConversationLog{})
	return res.RowsAffected, res.Error
}
