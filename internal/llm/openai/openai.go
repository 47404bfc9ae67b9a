// Package openai drives OpenAI-compatible chat completion endpoints:
// OpenRouter, OpenAI itself and any custom server speaking the same API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/walletwise/walletwise/backend/internal/llm"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// OpenRouterBaseURL is used for openrouter candidates without an endpoint.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Driver is an llm.Driver over openai-go.
type Driver struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// Register binds the openrouter, openai and custom kinds to this driver.
func Register(r *llm.Registry) {
	for _, kind := range []models.ProviderKind{models.ProviderOpenRouter, models.ProviderOpenAI, models.ProviderCustom} {
		r.Register(kind, New)
	}
}

// New is the llm.Factory for OpenAI-compatible candidates.
func New(c models.ModelCandidate, apiKey string) (llm.Driver, error) {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}

	baseURL := c.Endpoint
	switch c.Provider {
	case models.ProviderOpenRouter:
		if baseURL == "" {
			baseURL = OpenRouterBaseURL
		}
	case models.ProviderCustom:
		if baseURL == "" {
			return nil, fmt.Errorf("custom provider %q requires an endpoint", c.ModelName)
		}
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	// Retries would hide failures from the failover logic.
	opts = append(opts, option.WithMaxRetries(0))

	return &Driver{
		client:      openai.NewClient(opts...),
		model:       c.ModelName,
		maxTokens:   c.MaxTokens,
		temperature: c.Temperature,
	}, nil
}

func (d *Driver) Complete(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(d.model),
		Messages:    toMessages(req.Messages),
		Temperature: openai.Float(d.temperature),
	}
	if d.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(d.maxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = toTools(req.Tools)
		choice := req.ToolChoice
		if choice == "" {
			choice = "auto"
		}
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(choice)}
	}

	completion, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("completion has no choices")
	}

	choice := completion.Choices[0]
	resp := &models.GenerateResponse{
		OutputText:   choice.Message.Content,
		Role:         models.RoleAssistant,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(argsOrEmpty(tc.Function.Arguments)),
		})
	}
	return resp, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(d.model),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
		MaxTokens: openai.Int(1),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func toMessages(msgs []models.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case models.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case models.RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" || len(m.ToolCalls) == 0 {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: argsOrEmpty(string(tc.Arguments)),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

func toTools(defs []models.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  openai.FunctionParameters(def.Schema()),
		}))
	}
	return tools
}

func argsOrEmpty(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
	}
	return err
}
