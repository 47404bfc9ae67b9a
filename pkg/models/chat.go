package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ── Conversations ───────────────────────────────────────────

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Conversation belongs to exactly one user and owns an ordered message list.
type Conversation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:64;index;not null" json:"user_id"`
	Title     string    `gorm:"size:255" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// Message is append-only. ID increases with creation order.
type Message struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ConversationID string         `gorm:"size:36;index;not null" json:"conversation_id"`
	Role           Role           `gorm:"size:16;not null" json:"role"`
	Content        *string        `gorm:"type:text" json:"content"`
	ToolCalls      datatypes.JSON `json:"tool_calls,omitempty"`
	ToolCallID     string         `gorm:"size:128" json:"tool_call_id,omitempty"`
	ToolName       string         `gorm:"size:128" json:"tool_name,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Calls decodes the tool calls recorded on an assistant message.
func (m *Message) Calls() ([]ToolCall, error) {
	if len(m.ToolCalls) == 0 {
		return nil, nil
	}
	var calls []ToolCall
	if err := json.Unmarshal(m.ToolCalls, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// Text returns the message content or "" when only tool calls are present.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ToolCall is a model-emitted request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ChatMessage is the provider-facing view of a message.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// GenerateRequest is one provider call. Tools are offered to the model;
// HistoryTools only describe tools already called in Messages, for vendors
// that reject tool blocks without matching declarations. They are never
// offered.
type GenerateRequest struct {
	Messages     []ChatMessage    `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	ToolChoice   string           `json:"tool_choice,omitempty"`
	HistoryTools []ToolDefinition `json:"-"`
}

// GenerateResponse is the normalized provider reply.
type GenerateResponse struct {
	OutputText   string     `json:"output_text"`
	Role         Role       `json:"role"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// ChatReply is returned to the caller of SendMessage.
type ChatReply struct {
	ConversationID string   `json:"conversation_id"`
	Message        string   `json:"message"`
	Iterations     int      `json:"iterations"`
	ToolsUsed      []string `json:"tools_used"`
	Model          string   `json:"model,omitempty"`
	Fallback       bool     `json:"fallback,omitempty"`
}

// ConversationLog is an append-only audit row per tool invocation.
type ConversationLog struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	ConversationID      string         `gorm:"size:36;index" json:"conversation_id"`
	UserID              string         `gorm:"size:64;index" json:"user_id"`
	ModelID             uint           `json:"model_id"`
	ModelName           string         `gorm:"size:255" json:"model_name"`
	UserQuery           string         `gorm:"type:text" json:"user_query"`
	DetectedIntent      string         `gorm:"size:128;index" json:"detected_intent"`
	ExtractedParameters datatypes.JSON `json:"extracted_parameters"`
	ToolResult          datatypes.JSON `json:"tool_result"`
	Success             bool           `json:"success"`
	ResponseTimeMs      int64          `json:"response_time_ms"`
	Iteration           int            `json:"iteration"`
	CreatedAt           time.Time      `gorm:"index" json:"created_at"`
}

// Page is a pagination request. Limit 0 means unlimited.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Offset returns the row offset for a 1-based page.
func (p Page) Offset() int {
	if p.Limit <= 0 || p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// PageResult wraps one page of items with its total count.
type PageResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}
