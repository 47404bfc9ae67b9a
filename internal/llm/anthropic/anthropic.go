// Package anthropic drives Claude models through anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/walletwise/walletwise/backend/internal/llm"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// defaultMaxTokens is required by the Messages API when the candidate has none.
const defaultMaxTokens = 1024

type Driver struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// Register binds the anthropic kind to this driver.
func Register(r *llm.Registry) {
	r.Register(models.ProviderAnthropic, New)
}

// New is the llm.Factory for anthropic candidates.
func New(c models.ModelCandidate, apiKey string) (llm.Driver, error) {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if c.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(c.Endpoint))
	}
	maxTokens := int64(c.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Driver{
		client:      anthropic.NewClient(opts...),
		model:       c.ModelName,
		maxTokens:   maxTokens,
		temperature: c.Temperature,
	}, nil
}

func (d *Driver) Complete(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	history := req.Messages
	var (
		tools  []anthropic.ToolUnionParam
		choice anthropic.ToolChoiceUnionParam
	)
	switch {
	case len(req.Tools) > 0:
		tools, choice = toTools(req.Tools), toolChoice(req.ToolChoice)
	case !llm.HasToolTurns(history):
	case len(req.HistoryTools) > 0 && llm.DeclaresHistory(req.HistoryTools, history):
		// tool_use and tool_result blocks need their tools declared.
		tools, choice = toTools(req.HistoryTools), toolChoice("none")
	default:
		history = llm.FlattenToolTurns(history)
	}

	system, msgs := toMessages(history)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(d.model),
		MaxTokens:   d.maxTokens,
		Messages:    msgs,
		Temperature: anthropic.Float(d.temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = tools
		params.ToolChoice = choice
	}

	msg, err := d.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	resp := &models.GenerateResponse{
		Role:         models.RoleAssistant,
		FinishReason: string(msg.StopReason),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := json.RawMessage(block.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	resp.OutputText = text.String()
	return resp, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(d.model),
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// toMessages lifts system messages out and merges consecutive tool results
// into a single user turn.
func toMessages(in []models.ChatMessage) (string, []anthropic.MessageParam) {
	var (
		system  []string
		out     []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range in {
		if m.Role != models.RoleTool {
			flush()
		}
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if len(tc.Arguments) > 0 {
					input = tc.Arguments
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case models.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		}
	}
	flush()
	return strings.Join(system, "\n\n"), out
}

func toTools(defs []models.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: def.Parameters,
				Required:   def.Required,
			},
		}})
	}
	return tools
}

func toolChoice(choice string) anthropic.ToolChoiceUnionParam {
	switch choice {
	case "none":
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	case "required", "any":
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
	}
	return err
}
