package llm

import (
	"fmt"
	"strings"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

// HasToolTurns reports whether msgs carries tool calls or tool results.
func HasToolTurns(msgs []models.ChatMessage) bool {
	for _, m := range msgs {
		if m.Role == models.RoleTool || len(m.ToolCalls) > 0 {
			return true
		}
	}
	return false
}

// DeclaresHistory reports whether defs names every tool called in msgs.
func DeclaresHistory(defs []models.ToolDefinition, msgs []models.ChatMessage) bool {
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.Name] = true
	}
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			if !known[tc.Name] {
				return false
			}
		}
		if m.Role == models.RoleTool && m.ToolName != "" && !known[m.ToolName] {
			return false
		}
	}
	return true
}

// FlattenToolTurns rewrites tool calls and tool results as plain text so
// the history can go to a model that takes no tool blocks. Consecutive
// results collapse into one user message.
func FlattenToolTurns(msgs []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(msgs))
	lastWasResult := false
	for _, m := range msgs {
		switch {
		case m.Role == models.RoleTool:
			name := m.ToolName
			if name == "" {
				name = "tool"
			}
			line := fmt.Sprintf("[%s result] %s", name, m.Content)
			if lastWasResult {
				prev := &out[len(out)-1]
				prev.Content += "\n" + line
			} else {
				out = append(out, models.ChatMessage{Role: models.RoleUser, Content: line})
			}
			lastWasResult = true
			continue
		case len(m.ToolCalls) > 0:
			var sb strings.Builder
			sb.WriteString(m.Content)
			for _, tc := range m.ToolCalls {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				fmt.Fprintf(&sb, "[called %s %s]", tc.Name, args)
			}
			out = append(out, models.ChatMessage{Role: m.Role, Content: sb.String()})
		default:
			out = append(out, m)
		}
		lastWasResult = false
	}
	return out
}
