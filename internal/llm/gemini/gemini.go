// Package gemini drives Google Gemini models through google.golang.org/genai.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/walletwise/walletwise/backend/internal/llm"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

type Driver struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

// Register binds the gemini kind to this driver.
func Register(r *llm.Registry) {
	r.Register(models.ProviderGemini, New)
}

// New is the llm.Factory for gemini candidates.
func New(c models.ModelCandidate, apiKey string) (llm.Driver, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.Endpoint != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.Endpoint}
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Driver{
		client:      client,
		model:       c.ModelName,
		maxTokens:   int32(c.MaxTokens),
		temperature: float32(c.Temperature),
	}, nil
}

func (d *Driver) Complete(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	system, contents := toContents(req.Messages)

	temp := d.temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       &temp,
	}
	if d.maxTokens > 0 {
		cfg.MaxOutputTokens = d.maxTokens
	}
	switch {
	case len(req.Tools) > 0:
		declare(cfg, req.Tools, req.ToolChoice)
	case len(req.HistoryTools) > 0 && llm.HasToolTurns(req.Messages):
		declare(cfg, req.HistoryTools, "none")
	}

	result, err := d.client.Models.GenerateContent(ctx, d.model, contents, cfg)
	if err != nil {
		return nil, classify(err)
	}

	resp := &models.GenerateResponse{Role: models.RoleAssistant}
	if len(result.Candidates) > 0 {
		resp.FinishReason = strings.ToLower(string(result.Candidates[0].FinishReason))
	}
	for i, fc := range result.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil || fc.Args == nil {
			args = []byte("{}")
		}
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("%s_%d", fc.Name, i)
		}
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{ID: id, Name: fc.Name, Arguments: args})
	}
	if len(resp.ToolCalls) == 0 {
		resp.OutputText = result.Text()
	}
	return resp, nil
}

func declare(cfg *genai.GenerateContentConfig, defs []models.ToolDefinition, choice string) {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 def.Name,
			Description:          def.Description,
			ParametersJsonSchema: def.Schema(),
		})
	}
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	cfg.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: callingMode(choice)},
	}
}

func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.client.Models.GenerateContent(ctx, d.model,
		[]*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)},
		&genai.GenerateContentConfig{MaxOutputTokens: 1})
	if err != nil {
		return classify(err)
	}
	return nil
}

// toContents splits out the system prompt and groups consecutive tool
// results into one user turn, as Gemini expects.
func toContents(msgs []models.ChatMessage) (*genai.Content, []*genai.Content) {
	var (
		systemParts []string
		contents    []*genai.Content
		pending     []*genai.Part
	)
	flush := func() {
		if len(pending) > 0 {
			contents = append(contents, genai.NewContentFromParts(pending, genai.RoleUser))
			pending = nil
		}
	}

	for _, m := range msgs {
		if m.Role != models.RoleTool {
			flush()
		}
		switch m.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, m.Content)
		case models.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case models.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				part := genai.NewPartFromFunctionCall(tc.Name, args)
				part.FunctionCall.ID = tc.ID
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case models.RoleTool:
			part := genai.NewPartFromFunctionResponse(m.ToolName, responseMap(m.Content))
			part.FunctionResponse.ID = m.ToolCallID
			pending = append(pending, part)
		}
	}
	flush()

	var system *genai.Content
	if len(systemParts) > 0 {
		system = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}
	return system, contents
}

func responseMap(content string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(content), &m); err == nil && m != nil {
		return m
	}
	return map[string]any{"result": content}
}

func callingMode(choice string) genai.FunctionCallingConfigMode {
	switch choice {
	case "none":
		return genai.FunctionCallingConfigModeNone
	case "required", "any":
		return genai.FunctionCallingConfigModeAny
	default:
		return genai.FunctionCallingConfigModeAuto
	}
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
	}
	return err
}
