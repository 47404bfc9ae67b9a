package models

import (
	"encoding/json"
	"time"
)

// Well-known configuration keys read by the chatbot.
const (
	ConfigKeyTools          = "chatbot.tools"
	ConfigKeySystemPrompt   = "chatbot.system_prompt"
	ConfigKeyPromptSections = "chatbot.prompt_sections"
	ConfigKeyGuardrails     = "chatbot.guardrails"
)

// ConfigEntry is one versioned configuration key.
type ConfigEntry struct {
	Key         string    `gorm:"column:config_key;primaryKey;size:128" json:"config_key"`
	Value       JSON      `json:"config_value"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Version     int       `gorm:"not null" json:"version"`
	IsActive    bool      `gorm:"index;not null" json:"is_active"`
	UpdatedBy   string    `gorm:"size:64" json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConfigHistory captures a single change of a ConfigEntry.
type ConfigHistory struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Key           string    `gorm:"column:config_key;size:128;index;not null" json:"config_key"`
	Version       int       `gorm:"not null" json:"version"`
	PreviousValue JSON      `json:"previous_value"`
	NewValue      JSON      `json:"new_value"`
	ChangedBy     string    `gorm:"size:64" json:"changed_by"`
	Reason        string    `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ConfigExport is the portable export/import shape.
type ConfigExport struct {
	Key         string          `json:"config_key" yaml:"config_key"`
	Value       json.RawMessage `json:"config_value" yaml:"-"`
	Description string          `json:"description" yaml:"description"`
	Version     int             `json:"version" yaml:"version"`
}

// PromptSection is one named, toggleable part of the system prompt.
type PromptSection struct {
	Name    string `json:"name" yaml:"name"`
	Content string `json:"content" yaml:"content"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Order   int    `json:"order" yaml:"order"`
}

// GuardrailsConfig is stored under ConfigKeyGuardrails. Zero values disable
// the corresponding check.
type GuardrailsConfig struct {
	MaxCharacters  int      `json:"max_characters" yaml:"max_characters"`
	MaxWords       int      `json:"max_words" yaml:"max_words"`
	BlockedPhrases []string `json:"blocked_phrases" yaml:"blocked_phrases"`
	// PromptInjection is off, medium or high. Empty means medium.
	PromptInjection string `json:"prompt_injection" yaml:"prompt_injection"`
	// RedactLogs masks emails, card numbers and phone numbers in the
	// stored user query of conversation logs. Nil means true.
	RedactLogs *bool `json:"redact_logs,omitempty" yaml:"redact_logs"`
}
