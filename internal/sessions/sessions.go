// Package sessions manages chat conversations: creation, ownership checks,
// paginated listing and the append-only message history.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// DefaultTitle names conversations created without a title.
const DefaultTitle = "New conversation"

// maxTitleRunes matches the width of the title column.
const maxTitleRunes = 255

// PromptRenderer renders the system prompt for a user.
type PromptRenderer interface {
	Render(ctx context.Context, userID string) string
}

// Service is the conversation API used by HTTP handlers and the orchestrator.
type Service struct {
	store  store.ConversationStore
	prompt PromptRenderer
}

// NewService creates a conversation service. prompt may be nil, in which
// case conversations start without a system message.
func NewService(s store.ConversationStore, prompt PromptRenderer) *Service {
	return &Service{store: s, prompt: prompt}
}

// Create starts a conversation for userID and seeds it with a freshly
// rendered system prompt.
func (s *Service) Create(ctx context.Context, userID, title string) (*models.Conversation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}

	conv := &models.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if _, err := s.SeedSystemPrompt(ctx, conv); err != nil {
		return nil, err
	}

	log.Info().Str("conversation_id", conv.ID).Str("user_id", userID).Msg("Conversation created")
	return conv, nil
}

// SeedSystemPrompt appends the rendered system prompt to conv. It returns
// nil when no prompt renderer is configured.
func (s *Service) SeedSystemPrompt(ctx context.Context, conv *models.Conversation) (*models.Message, error) {
	if s.prompt == nil {
		return nil, nil
	}
	text := s.prompt.Render(ctx, conv.UserID)
	msg := &models.Message{ConversationID: conv.ID, Role: models.RoleSystem, Content: &text}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("seed system prompt: %w", err)
	}
	return msg, nil
}

// Get returns the conversation when userID owns it.
func (s *Service) Get(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		log.Warn().
			Str("conversation_id", conversationID).
			Str("user_id", userID).
			Msg("Conversation access denied")
		return nil, models.ErrForbidden
	}
	return conv, nil
}

// List returns a page of the user's conversations, newest first.
func (s *Service) List(ctx context.Context, userID string, page models.Page) (*models.PageResult[models.Conversation], error) {
	items, total, err := s.store.ListConversations(ctx, userID, page)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if items == nil {
		items = []models.Conversation{}
	}
	return &models.PageResult[models.Conversation]{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

// Messages returns a page of a conversation's messages, oldest first.
func (s *Service) Messages(ctx context.Context, userID, conversationID string, page models.Page) (*models.PageResult[models.Message], error) {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	items, total, err := s.store.ListMessages(ctx, conversationID, page)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if items == nil {
		items = []models.Message{}
	}
	return &models.PageResult[models.Message]{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

// History returns the full message history without an ownership check.
// Callers must have checked ownership through Get.
func (s *Service) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	items, _, err := s.store.ListMessages(ctx, conversationID, models.Page{})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return items, nil
}

// Append persists one message.
func (s *Service) Append(ctx context.Context, msg *models.Message) error {
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("append %s message: %w", msg.Role, err)
	}
	return nil
}

// Touch bumps the conversation's updated_at.
func (s *Service) Touch(ctx context.Context, conversationID string) {
	if err := s.store.TouchConversation(ctx, conversationID); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to touch conversation")
	}
}

// Delete removes a conversation the user owns, together with its messages.
func (s *Service) Delete(ctx context.Context, userID, conversationID string) error {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			return err
		}
		return fmt.Errorf("delete conversation: %w", err)
	}
	log.Info().Str("conversation_id", conversationID).Str("user_id", userID).Msg("Conversation deleted")
	return nil
}
