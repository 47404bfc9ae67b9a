package models

import (
	"time"

	"gorm.io/datatypes"
)

// ── Model Candidates ─────────────────────────────────────────

// ProviderKind identifies which driver family serves a candidate.
type ProviderKind string

const (
	ProviderOpenRouter ProviderKind = "openrouter"
	ProviderOpenAI     ProviderKind = "openai"
	ProviderCustom     ProviderKind = "custom"
	ProviderGemini     ProviderKind = "gemini"
	ProviderAnthropic  ProviderKind = "anthropic"
)

// ModelCandidate is one configured language-model backend. Candidates are
// never deleted; deactivation clears IsActive.
type ModelCandidate struct {
	ID                  uint              `gorm:"primaryKey" json:"id" yaml:"id"`
	Provider            ProviderKind      `gorm:"size:32;not null" json:"provider" yaml:"provider"`
	ModelName           string            `gorm:"size:255;not null" json:"model_name" yaml:"model_name"`
	Endpoint            string            `gorm:"size:512" json:"endpoint,omitempty" yaml:"endpoint"`
	APIKeyRef           string            `gorm:"size:255" json:"api_key_ref,omitempty" yaml:"api_key_ref"`
	Priority            int               `gorm:"index;not null" json:"priority" yaml:"priority"`
	IsActive            bool              `gorm:"index;not null" json:"is_active" yaml:"is_active"`
	MaxTokens           int               `gorm:"not null" json:"max_tokens" yaml:"max_tokens"`
	Temperature         float64           `gorm:"not null" json:"temperature" yaml:"temperature"`
	SupportsTools       bool              `gorm:"not null" json:"supports_tools" yaml:"supports_tools"`
	Metadata            datatypes.JSONMap `json:"metadata,omitempty" yaml:"metadata"`
	ConsecutiveFailures int               `gorm:"not null" json:"consecutive_failures" yaml:"-"`
	HealthScore         float64           `gorm:"not null" json:"health_score" yaml:"-"`
	LastTestedAt        *time.Time        `json:"last_tested_at,omitempty" yaml:"-"`
	CreatedAt           time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt           time.Time         `json:"updated_at" yaml:"-"`
}

// ModelCandidatePatch carries the mutable subset of a candidate for
// administrative updates. Nil fields are left untouched.
type ModelCandidatePatch struct {
	Provider      *ProviderKind  `json:"provider,omitempty"`
	ModelName     *string        `json:"model_name,omitempty"`
	Endpoint      *string        `json:"endpoint,omitempty"`
	APIKeyRef     *string        `json:"api_key_ref,omitempty"`
	Priority      *int           `json:"priority,omitempty"`
	IsActive      *bool          `json:"is_active,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	SupportsTools *bool          `json:"supports_tools,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Apply copies every non-nil field of the patch onto c.
func (p *ModelCandidatePatch) Apply(c *ModelCandidate) {
	if p.Provider != nil {
		c.Provider = *p.Provider
	}
	if p.ModelName != nil {
		c.ModelName = *p.ModelName
	}
	if p.Endpoint != nil {
		c.Endpoint = *p.Endpoint
	}
	if p.APIKeyRef != nil {
		c.APIKeyRef = *p.APIKeyRef
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if p.MaxTokens != nil {
		c.MaxTokens = *p.MaxTokens
	}
	if p.Temperature != nil {
		c.Temperature = *p.Temperature
	}
	if p.SupportsTools != nil {
		c.SupportsTools = *p.SupportsTools
	}
	if p.Metadata != nil {
		c.Metadata = datatypes.JSONMap(p.Metadata)
	}
}

// MetadataInt reads an integer metadata value, tolerating JSON float decoding.
func (c *ModelCandidate) MetadataInt(key string) (int, bool) {
	if c.Metadata == nil {
		return 0, false
	}
	switch v := c.Metadata[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}

// ── Health ──────────────────────────────────────────────────

// HealthStatus classifies the outcome of one provider call.
type HealthStatus string

const (
	HealthSuccess   HealthStatus = "success"
	HealthError     HealthStatus = "error"
	HealthTimeout   HealthStatus = "timeout"
	HealthRateLimit HealthStatus = "rate_limit"
	HealthFallback  HealthStatus = "fallback"
)

// ProviderHealth is derived from the running call history of a provider.
type ProviderHealth struct {
	IsHealthy         bool       `json:"is_healthy"`
	ResponseTimeMs    int64      `json:"response_time_ms"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	HealthScore       float64    `json:"health_score"`
	LastTestedAt      *time.Time `json:"last_tested_at,omitempty"`
}

// HealthLog is one row per provider call or fallback event.
type HealthLog struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	ModelID        uint         `gorm:"index" json:"model_id"`
	ModelName      string       `gorm:"size:255" json:"model_name"`
	Status         HealthStatus `gorm:"size:32;index" json:"status"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	ErrorMessage   string       `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time    `gorm:"index" json:"created_at"`
}

// ModelInfo is the read-only description of a live provider.
type ModelInfo struct {
	ID            uint         `json:"id"`
	Name          string       `json:"name"`
	Provider      ProviderKind `json:"provider"`
	MaxTokens     int          `json:"max_tokens"`
	SupportsTools bool         `json:"supports_tools"`
}
