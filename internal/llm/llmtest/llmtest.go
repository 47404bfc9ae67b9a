// Package llmtest provides a scripted llm.Driver for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/walletwise/walletwise/backend/internal/llm"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// Driver replays Responses in order; the last one repeats once the script
// runs out. PingErr and CompleteErr force failures. Before, when set, runs
// at the start of every Complete without holding the driver lock.
type Driver struct {
	mu          sync.Mutex
	Responses   []*models.GenerateResponse
	CompleteErr error
	PingErr     error
	Before      func()

	Calls    []models.GenerateRequest
	Pings    int
	position int
}

func (d *Driver) Complete(ctx context.Context, req *models.GenerateRequest) (*models.GenerateResponse, error) {
	if d.Before != nil {
		d.Before()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, *req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.CompleteErr != nil {
		return nil, d.CompleteErr
	}
	if len(d.Responses) == 0 {
		return nil, errors.New("llmtest: no scripted response")
	}
	i := d.position
	if i >= len(d.Responses) {
		i = len(d.Responses) - 1
	} else {
		d.position++
	}
	resp := *d.Responses[i]
	return &resp, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Pings++
	return d.PingErr
}

// CallCount is the number of Complete calls so far.
func (d *Driver) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// LastCall returns the most recent request.
func (d *Driver) LastCall() models.GenerateRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Calls) == 0 {
		return models.GenerateRequest{}
	}
	return d.Calls[len(d.Calls)-1]
}

// Text is a final answer response.
func Text(s string) *models.GenerateResponse {
	return &models.GenerateResponse{OutputText: s, Role: models.RoleAssistant, FinishReason: "stop"}
}

// ToolCalls is a response asking for the given calls.
func ToolCalls(calls ...models.ToolCall) *models.GenerateResponse {
	return &models.GenerateResponse{Role: models.RoleAssistant, ToolCalls: calls, FinishReason: "tool_calls"}
}

// Registry maps model names to drivers. Candidates whose model name is not
// in the map fail to build.
func Registry(drivers map[string]*Driver, kinds ...models.ProviderKind) *llm.Registry {
	r := llm.NewRegistry()
	if len(kinds) == 0 {
		kinds = []models.ProviderKind{models.ProviderOpenRouter, models.ProviderCustom}
	}
	factory := func(c models.ModelCandidate, _ string) (llm.Driver, error) {
		d, ok := drivers[c.ModelName]
		if !ok {
			return nil, errors.New("llmtest: unknown model " + c.ModelName)
		}
		return d, nil
	}
	for _, k := range kinds {
		r.Register(k, factory)
	}
	return r
}
