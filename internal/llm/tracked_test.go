package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/walletwise/walletwise/backend/internal/llm"
	"github.com/walletwise/walletwise/backend/internal/llm/llmtest"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

type logRecorder struct {
	mu   sync.Mutex
	logs []models.HealthLog
}

func (r *logRecorder) CreateHealthLog(_ context.Context, e *models.HealthLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *e)
	return nil
}

func candidate(tools bool) models.ModelCandidate {
	return models.ModelCandidate{ID: 7, Provider: models.ProviderOpenRouter, ModelName: "m", SupportsTools: tools, MaxTokens: 512}
}

func TestTracked_HealthAccounting(t *testing.T) {
	d := &llmtest.Driver{Responses: []*models.GenerateResponse{llmtest.Text("ok")}}
	rec := &logRecorder{}
	p := llm.NewTracked(candidate(true), d, rec)
	ctx := context.Background()
	req := &models.GenerateRequest{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}}

	d.CompleteErr = errors.New("boom")
	for i := 0; i < 3; i++ {
		if _, err := p.GenerateResponse(ctx, req); err == nil {
			t.Fatal("GenerateResponse() error = nil, want failure")
		}
	}
	h := p.HealthStatus()
	if h.ConsecutiveErrors != 3 || h.HealthScore != 0 || h.IsHealthy {
		t.Errorf("after failures health = %+v, want 3 errors and score 0", h)
	}

	d.CompleteErr = nil
	resp, err := p.GenerateResponse(ctx, req)
	if err != nil {
		t.Fatalf("GenerateResponse() error = %v", err)
	}
	if resp.OutputText != "ok" {
		t.Errorf("OutputText = %q, want ok", resp.OutputText)
	}
	h = p.HealthStatus()
	if h.ConsecutiveErrors != 0 || h.HealthScore != 1 || !h.IsHealthy || h.LastTestedAt == nil {
		t.Errorf("after success health = %+v, want reset and score 1", h)
	}

	if len(rec.logs) != 4 {
		t.Fatalf("health logs = %d, want 4", len(rec.logs))
	}
	if rec.logs[0].Status != models.HealthError || rec.logs[0].ErrorMessage == "" || rec.logs[3].Status != models.HealthSuccess {
		t.Errorf("health logs = %+v", rec.logs)
	}
	if rec.logs[0].ModelID != 7 {
		t.Errorf("ModelID = %d, want 7", rec.logs[0].ModelID)
	}
}

func TestTracked_ToolGating(t *testing.T) {
	tools := []models.ToolDefinition{{Name: "get_expenses"}}
	req := &models.GenerateRequest{Tools: tools, ToolChoice: "auto"}

	d := &llmtest.Driver{Responses: []*models.GenerateResponse{llmtest.Text("x")}}
	llm.NewTracked(candidate(false), d, nil).GenerateResponse(context.Background(), req)
	if got := d.LastCall(); len(got.Tools) != 0 || got.ToolChoice != "" {
		t.Errorf("tools forwarded to a model without tool support: %+v", got)
	}

	d = &llmtest.Driver{Responses: []*models.GenerateResponse{llmtest.Text("x")}}
	llm.NewTracked(candidate(true), d, nil).GenerateResponse(context.Background(), req)
	if got := d.LastCall(); len(got.Tools) != 1 || got.ToolChoice != "auto" {
		t.Errorf("tools dropped for a tool-capable model: %+v", got)
	}
	if len(req.Tools) != 1 {
		t.Error("GenerateResponse() mutated the caller's request")
	}
}

func TestTracked_FlattensToolTurnsWithoutToolSupport(t *testing.T) {
	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "¿Cuánto gasté?"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "get_expenses", Arguments: json.RawMessage(`{"period":"month"}`)}}},
		{Role: models.RoleTool, ToolCallID: "c1", ToolName: "get_expenses", Content: `{"total":45}`},
	}
	req := &models.GenerateRequest{Messages: history, HistoryTools: []models.ToolDefinition{{Name: "get_expenses"}}}

	d := &llmtest.Driver{Responses: []*models.GenerateResponse{llmtest.Text("x")}}
	if _, err := llm.NewTracked(candidate(false), d, nil).GenerateResponse(context.Background(), req); err != nil {
		t.Fatalf("GenerateResponse() error = %v", err)
	}
	got := d.LastCall()
	if len(got.HistoryTools) != 0 || llm.HasToolTurns(got.Messages) {
		t.Fatalf("tool turns reached a model without tool support: %+v", got)
	}
	if len(got.Messages) != 3 || got.Messages[2].Role != models.RoleUser {
		t.Fatalf("Messages = %+v, want user, assistant, user", got.Messages)
	}
	if got.Messages[1].Content != `[called get_expenses {"period":"month"}]` {
		t.Errorf("assistant turn = %q", got.Messages[1].Content)
	}
	if got.Messages[2].Content != `[get_expenses result] {"total":45}` {
		t.Errorf("tool result turn = %q", got.Messages[2].Content)
	}
	if !llm.HasToolTurns(req.Messages) {
		t.Error("GenerateResponse() mutated the caller's history")
	}

	d = &llmtest.Driver{Responses: []*models.GenerateResponse{llmtest.Text("x")}}
	llm.NewTracked(candidate(true), d, nil).GenerateResponse(context.Background(), req)
	if got := d.LastCall(); !llm.HasToolTurns(got.Messages) || len(got.HistoryTools) != 1 {
		t.Errorf("tool turns flattened for a tool-capable model: %+v", got)
	}
}

func TestFlattenToolTurns_MergesConsecutiveResults(t *testing.T) {
	out := llm.FlattenToolTurns([]models.ChatMessage{
		{Role: models.RoleAssistant, Content: "Reviso.", ToolCalls: []models.ToolCall{{Name: "a"}, {Name: "b", Arguments: json.RawMessage(`{"x":1}`)}}},
		{Role: models.RoleTool, ToolName: "a", Content: "1"},
		{Role: models.RoleTool, Content: "2"},
		{Role: models.RoleAssistant, Content: "listo"},
	})
	want := []models.ChatMessage{
		{Role: models.RoleAssistant, Content: "Reviso.\n[called a {}]\n[called b {\"x\":1}]"},
		{Role: models.RoleUser, Content: "[a result] 1\n[tool result] 2"},
		{Role: models.RoleAssistant, Content: "listo"},
	}
	if len(out) != len(want) {
		t.Fatalf("FlattenToolTurns() = %+v", out)
	}
	for i := range want {
		if out[i].Role != want[i].Role || out[i].Content != want[i].Content || len(out[i].ToolCalls) != 0 {
			t.Errorf("message %d = %+v, want %+v", i, out[i], want[i])
		}
	}
}

func TestDeclaresHistory(t *testing.T) {
	msgs := []models.ChatMessage{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{Name: "get_expenses"}}},
		{Role: models.RoleTool, ToolName: "get_expenses"},
	}
	if !llm.DeclaresHistory([]models.ToolDefinition{{Name: "get_expenses"}}, msgs) {
		t.Error("DeclaresHistory() = false, want true when every tool is declared")
	}
	if llm.DeclaresHistory([]models.ToolDefinition{{Name: "get_balance"}}, msgs) {
		t.Error("DeclaresHistory() = true, want false for an undeclared tool")
	}
}

type slowDriver struct{}

func (slowDriver) Complete(ctx context.Context, _ *models.GenerateRequest) (*models.GenerateResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (slowDriver) Ping(context.Context) error { return nil }

func TestTracked_TimeoutFromMetadata(t *testing.T) {
	c := candidate(true)
	c.Metadata = map[string]any{"timeout_ms": float64(20)}
	rec := &logRecorder{}
	p := llm.NewTracked(c, slowDriver{}, rec)

	start := time.Now()
	_, err := p.GenerateResponse(context.Background(), &models.GenerateRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GenerateResponse() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout_ms metadata was not applied")
	}
	if len(rec.logs) != 1 || rec.logs[0].Status != models.HealthTimeout {
		t.Errorf("health logs = %+v, want one timeout row", rec.logs)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want models.HealthStatus
	}{
		{nil, models.HealthSuccess},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), models.HealthTimeout},
		{fmt.Errorf("%w: 429", llm.ErrRateLimited), models.HealthRateLimit},
		{errors.New("500"), models.HealthError},
	}
	for _, tt := range tests {
		if got := llm.Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestScore(t *testing.T) {
	if got := llm.Score(3, true); got < 0.69 || got > 0.71 {
		t.Errorf("Score(3, true) = %v, want 0.7", got)
	}
	if got := llm.Score(20, true); got != 0 {
		t.Errorf("Score(20, true) = %v, want 0", got)
	}
	if got := llm.Score(0, false); got != 0 {
		t.Errorf("Score(0, false) = %v, want 0", got)
	}
}

func TestRegistry_Build(t *testing.T) {
	r := llmtest.Registry(map[string]*llmtest.Driver{"m": {}})
	p, err := r.Build(candidate(true), "key", nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if info := p.ModelInfo(); info.ID != 7 || info.Name != "m" || !info.SupportsTools {
		t.Errorf("ModelInfo() = %+v", info)
	}

	c := candidate(true)
	c.Provider = models.ProviderGemini
	if _, err := r.Build(c, "key", nil); err == nil {
		t.Error("Build() for unregistered kind succeeded")
	}
}
