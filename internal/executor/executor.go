// Package executor runs the chatbot's bounded tool-calling loop.
//
// For each user message the executor:
//
//	append user message → call current provider (failover once on error) →
//	if tool_calls, run them concurrently and feed results back → repeat
//	until a text reply or the iteration cap, then persist the reply.
//
// Tool and model hiccups never escape as errors. Only ownership,
// not-found and provider exhaustion reach the caller.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/walletwise/walletwise/backend/internal/llm"
	"github.com/walletwise/walletwise/backend/internal/sessions"
	"github.com/walletwise/walletwise/backend/internal/telemetry"
	"github.com/walletwise/walletwise/backend/internal/tools"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// DefaultMaxIterations is the maximum number of model ↔ tool loops per message.
const DefaultMaxIterations = 5

var tracer = telemetry.Tracer("executor")

// ProviderSource hands out the current provider and fails over on demand.
type ProviderSource interface {
	Current(ctx context.Context) (llm.Provider, error)
	SwitchToNextProvider(ctx context.Context, failed llm.Provider, cause error) (llm.Provider, error)
}

// ToolRunner offers tool definitions and runs tool calls.
type ToolRunner interface {
	ActiveDefinitions() []models.ToolDefinition
	Execute(ctx context.Context, name string, ec models.ToolExecutionContext) models.ToolExecutionResult
}

// LogWriter stores one audit row per tool invocation.
type LogWriter interface {
	CreateConversationLog(ctx context.Context, entry *models.ConversationLog) error
}

// InputGuard screens user messages and masks the query stored in logs.
type InputGuard interface {
	Check(ctx context.Context, text string) error
	Redact(ctx context.Context, text string) string
}

// Options tunes the loop. A nil Guard accepts every message and logs
// queries verbatim.
type Options struct {
	MaxIterations int
	Locale        string
	Guard         InputGuard
}

// FallbackReply is the apology returned when the loop ends without a text
// answer.
func FallbackReply(locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "es") {
		return "Lo siento, no pude completar tu consulta en este momento. Intenta reformular la pregunta o pedir un dato más concreto."
	}
	return "Sorry, I couldn't complete your request right now. Try rephrasing the question or asking for something more specific."
}

// Executor runs the conversation loop.
type Executor struct {
	conversations *sessions.Service
	providers     ProviderSource
	tools         ToolRunner
	logs          LogWriter
	opts          Options
}

// NewExecutor creates an executor. A zero MaxIterations uses the default.
func NewExecutor(conv *sessions.Service, providers ProviderSource, tr ToolRunner, logs LogWriter, opts Options) *Executor {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Executor{
		conversations: conv,
		providers:     providers,
		tools:         tr,
		logs:          logs,
		opts:          opts,
	}
}

// turn carries the per-message state of the loop.
type turn struct {
	userID         string
	conversationID string
	query          string
	messages       []models.ChatMessage
	toolsUsed      []string
	hasToolResults bool
	provider       llm.Provider
}

// SendMessage appends content to the conversation, runs the tool loop and
// returns the persisted assistant reply.
func (e *Executor) SendMessage(ctx context.Context, userID, conversationID, content string) (*models.ChatReply, error) {
	ctx, span := tracer.Start(ctx, "executor.SendMessage", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
	))
	defer span.End()

	conv, err := e.conversations.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is empty", models.ErrInvalidInput)
	}
	if e.opts.Guard != nil {
		if err := e.opts.Guard.Check(ctx, content); err != nil {
			return nil, err
		}
	}

	history, err := e.conversations.History(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		sys, err := e.conversations.SeedSystemPrompt(ctx, conv)
		if err != nil {
			return nil, err
		}
		if sys != nil {
			history = append(history, *sys)
		}
	}

	userMsg := &models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: &content}
	if err := e.conversations.Append(ctx, userMsg); err != nil {
		return nil, err
	}
	history = append(history, *userMsg)

	query := content
	if e.opts.Guard != nil {
		query = e.opts.Guard.Redact(ctx, content)
	}
	t := &turn{
		userID:         userID,
		conversationID: conv.ID,
		query:          query,
		messages:       toChatMessages(history),
		toolsUsed:      []string{},
	}

	final, iterations, err := e.loop(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	fallback := false
	if strings.TrimSpace(final) == "" {
		final = FallbackReply(e.opts.Locale)
		fallback = true
	}

	reply := &models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, Content: &final}
	if err := e.conversations.Append(ctx, reply); err != nil {
		return nil, err
	}
	e.conversations.Touch(ctx, conv.ID)

	out := &models.ChatReply{
		ConversationID: conv.ID,
		Message:        final,
		Iterations:     iterations,
		ToolsUsed:      t.toolsUsed,
		Fallback:       fallback,
	}
	if t.provider != nil {
		out.Model = t.provider.ModelInfo().Name
	}

	span.SetAttributes(
		attribute.Int("chat.iterations", iterations),
		attribute.Bool("chat.fallback", fallback),
	)
	log.Info().
		Str("conversation_id", conv.ID).
		Str("user_id", userID).
		Int("iterations", iterations).
		Strs("tools", t.toolsUsed).
		Bool("fallback", fallback).
		Msg("Chat message answered")
	return out, nil
}

// loop returns the final text, or "" when the cap was reached.
func (e *Executor) loop(ctx context.Context, t *turn) (string, int, error) {
	for i := 1; i <= e.opts.MaxIterations; i++ {
		req := &models.GenerateRequest{Messages: t.messages}
		defs := e.tools.ActiveDefinitions()
		if !t.hasToolResults && len(defs) > 0 {
			req.Tools = defs
			req.ToolChoice = "auto"
		} else if llm.HasToolTurns(t.messages) {
			req.HistoryTools = defs
		}

		resp, err := e.generate(ctx, t, req, i)
		if err != nil {
			if errors.Is(err, models.ErrProviderUnavailable) {
				return "", i, err
			}
			log.Warn().Err(err).
				Str("conversation_id", t.conversationID).
				Int("iteration", i).
				Msg("Provider call failed after failover, skipping iteration")
			continue
		}

		if len(resp.ToolCalls) == 0 {
			return resp.OutputText, i, nil
		}

		calls := normalizeCalls(resp.ToolCalls)
		if err := e.recordAssistantCalls(ctx, t, resp.OutputText, calls); err != nil {
			return "", i, err
		}
		if err := e.runTools(ctx, t, calls, i); err != nil {
			return "", i, err
		}
		t.hasToolResults = true
	}

	log.Warn().
		Str("conversation_id", t.conversationID).
		Int("max_iterations", e.opts.MaxIterations).
		Msg("Iteration cap reached without a final answer")
	return "", e.opts.MaxIterations, nil
}

// generate calls the current provider and, on failure, fails over once and
// retries with the next provider.
func (e *Executor) generate(ctx context.Context, t *turn, req *models.GenerateRequest, iteration int) (*models.GenerateResponse, error) {
	p, err := e.providers.Current(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := e.callProvider(ctx, p, req, iteration)
	if err == nil {
		t.provider = p
		return resp, nil
	}

	next, serr := e.providers.SwitchToNextProvider(ctx, p, err)
	if serr != nil {
		return nil, serr
	}
	resp, err = e.callProvider(ctx, next, req, iteration)
	if err != nil {
		return nil, err
	}
	t.provider = next
	return resp, nil
}

func (e *Executor) callProvider(ctx context.Context, p llm.Provider, req *models.GenerateRequest, iteration int) (*models.GenerateResponse, error) {
	info := p.ModelInfo()
	ctx, span := tracer.Start(ctx, "executor.provider_call", trace.WithAttributes(
		attribute.String("llm.provider", string(info.Provider)),
		attribute.String("llm.model", info.Name),
		attribute.Int("chat.iteration", iteration),
		attribute.Int("llm.tools_offered", len(req.Tools)),
	))
	defer span.End()

	resp, err := p.GenerateResponse(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

func (e *Executor) recordAssistantCalls(ctx context.Context, t *turn, text string, calls []models.ToolCall) error {
	raw, err := json.Marshal(calls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	msg := &models.Message{ConversationID: t.conversationID, Role: models.RoleAssistant, ToolCalls: raw}
	if text != "" {
		msg.Content = &text
	}
	if err := e.conversations.Append(ctx, msg); err != nil {
		return err
	}
	t.messages = append(t.messages, models.ChatMessage{Role: models.RoleAssistant, Content: text, ToolCalls: calls})
	return nil
}

type callOutcome struct {
	result  models.ToolExecutionResult
	elapsed time.Duration
}

// runTools executes every call concurrently, then appends results in call
// order. A failing or panicking tool becomes a failed result.
func (e *Executor) runTools(ctx context.Context, t *turn, calls []models.ToolCall, iteration int) error {
	outcomes := make([]callOutcome, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			start := time.Now()
			defer func() {
				if p := recover(); p != nil {
					log.Error().Str("tool", call.Name).Interface("panic", p).Msg("Tool call panicked")
					outcomes[i] = callOutcome{
						result:  tools.Failure(call.Name, fmt.Sprintf("internal error while running %s", call.Name)),
						elapsed: time.Since(start),
					}
				}
			}()

			tctx, span := tracer.Start(ctx, "executor.tool_call", trace.WithAttributes(
				attribute.String("tool.name", call.Name),
				attribute.String("tool.call_id", call.ID),
			))
			defer span.End()

			res := e.tools.Execute(tctx, call.Name, models.ToolExecutionContext{
				UserID:         t.userID,
				ConversationID: t.conversationID,
				Parameters:     call.Arguments,
			})
			if !res.Success {
				span.SetStatus(codes.Error, res.Error)
			}
			outcomes[i] = callOutcome{result: res, elapsed: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	var model models.ModelInfo
	if t.provider != nil {
		model = t.provider.ModelInfo()
	}

	for i, call := range calls {
		out := outcomes[i]
		body, err := json.Marshal(out.result)
		if err != nil {
			body, _ = json.Marshal(tools.Failure(call.Name, "tool result could not be encoded"))
			out.result.Success = false
		}
		text := string(body)

		msg := &models.Message{
			ConversationID: t.conversationID,
			Role:           models.RoleTool,
			Content:        &text,
			ToolCallID:     call.ID,
			ToolName:       call.Name,
		}
		if err := e.conversations.Append(ctx, msg); err != nil {
			return err
		}
		t.messages = append(t.messages, models.ChatMessage{
			Role:       models.RoleTool,
			Content:    text,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
		t.toolsUsed = append(t.toolsUsed, call.Name)

		entry := &models.ConversationLog{
			ConversationID:      t.conversationID,
			UserID:              t.userID,
			ModelID:             model.ID,
			ModelName:           model.Name,
			UserQuery:           t.query,
			DetectedIntent:      call.Name,
			ExtractedParameters: []byte(call.Arguments),
			ToolResult:          e.loggedResult(ctx, body),
			Success:             out.result.Success,
			ResponseTimeMs:      out.elapsed.Milliseconds(),
			Iteration:           iteration,
		}
		if err := e.logs.CreateConversationLog(context.WithoutCancel(ctx), entry); err != nil {
			log.Warn().Err(err).Str("tool", call.Name).Msg("Failed to write conversation log")
		}
	}
	return nil
}

// maxLoggedToolResult caps the tool payload copied into a conversation log row.
const maxLoggedToolResult = 8 << 10

// loggedResult prepares a tool payload for the audit log. String values are
// masked by the guard and payloads over maxLoggedToolResult are replaced by
// a preview. The model and the stored tool message keep the full payload.
func (e *Executor) loggedResult(ctx context.Context, body []byte) []byte {
	if e.opts.Guard != nil {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			if masked, err := json.Marshal(maskStrings(ctx, e.opts.Guard, v)); err == nil {
				body = masked
			}
		}
	}
	if len(body) <= maxLoggedToolResult {
		return body
	}

	cut := maxLoggedToolResult / 2
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	preview, _ := json.Marshal(map[string]any{
		"truncated": true,
		"size":      len(body),
		"preview":   string(body[:cut]),
	})
	return preview
}

func maskStrings(ctx context.Context, g InputGuard, v any) any {
	switch x := v.(type) {
	case string:
		return g.Redact(ctx, x)
	case []any:
		for i := range x {
			x[i] = maskStrings(ctx, g, x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = maskStrings(ctx, g, x[k])
		}
	}
	return v
}

// normalizeCalls assigns missing ids and replaces unparsable arguments with
// an empty object so the history stays replayable.
func normalizeCalls(in []models.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, len(in))
	for i, c := range in {
		if c.ID == "" {
			c.ID = "call_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
		}
		if len(c.Arguments) == 0 || !json.Valid(c.Arguments) {
			if len(c.Arguments) > 0 {
				log.Warn().Str("tool", c.Name).Msg("Model sent invalid tool arguments, using {}")
			}
			c.Arguments = json.RawMessage(`{}`)
		}
		out[i] = c
	}
	return out
}

func toChatMessages(history []models.Message) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(history))
	for i := range history {
		m := &history[i]
		cm := models.ChatMessage{
			Role:       m.Role,
			Content:    m.Text(),
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		if calls, err := m.Calls(); err != nil {
			log.Warn().Err(err).Uint("message_id", m.ID).Msg("Skipping unreadable tool calls in history")
		} else {
			cm.ToolCalls = calls
		}
		out = append(out, cm)
	}
	return out
}
