package models

import "encoding/json"

// ToolDefinition is the provider-facing description of a callable tool.
// Definitions are hand-authored and immutable at runtime.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Required    []string       `json:"required,omitempty"`
}

// Schema returns the full JSON-schema object for the parameters.
func (d ToolDefinition) Schema() map[string]any {
	schema := map[string]any{
		"type":                 "object",
		"properties":           d.Parameters,
		"additionalProperties": false,
	}
	if len(d.Required) > 0 {
		schema["required"] = d.Required
	}
	return schema
}

// ToolConfig drives whether and in which order a tool is offered.
type ToolConfig struct {
	Name                string `json:"name"`
	Active              bool   `json:"active"`
	Priority            int    `json:"priority"`
	CacheTTLSeconds     int    `json:"cache_ttl_seconds,omitempty"`
	DescriptionOverride string `json:"description_override,omitempty"`
}

// ToolsConfig is stored under ConfigKeyTools.
type ToolsConfig struct {
	Tools []ToolConfig `json:"tools"`
}

// ToolExecutionContext is the ephemeral input of a tool call.
type ToolExecutionContext struct {
	UserID         string
	ConversationID string
	Parameters     json.RawMessage
}

// ToolExecutionResult is always returned by executors, never an error.
type ToolExecutionResult struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata ToolResultMeta `json:"metadata"`
}

type ToolResultMeta struct {
	ExecutionTimeMs int64          `json:"executionTimeMs"`
	DataSource      string         `json:"dataSource"`
	QueryParams     map[string]any `json:"queryParams,omitempty"`
}
