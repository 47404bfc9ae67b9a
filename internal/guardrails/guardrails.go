// Package guardrails screens user chat messages before they reach a model
// and masks personal data before queries are written to the audit log.
//
// Checks, all driven by the chatbot.guardrails config key:
//   - max_characters / max_words: length limits
//   - blocked_phrases: case-insensitive phrase blocklist
//   - prompt_injection: heuristic detection (off, medium, high), English and Spanish
package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

// Default limits apply when no config key exists.
const (
	DefaultMaxCharacters = 4000
	DefaultSensitivity   = "medium"
)

// ConfigReader is the slice of the config store the guard reads.
type ConfigReader interface {
	Decode(ctx context.Context, key string, dst any) (bool, error)
}

// Violation describes why a message was rejected.
type Violation struct {
	Check   string
	Message string
}

func (v *Violation) Error() string { return v.Check + ": " + v.Message }

// Guard evaluates messages against the current configuration. It reads
// through the config store cache on every call, so changes apply on the
// next message.
type Guard struct {
	config ConfigReader
}

func New(cfg ConfigReader) *Guard {
	return &Guard{config: cfg}
}

func (g *Guard) load(ctx context.Context) models.GuardrailsConfig {
	cfg := models.GuardrailsConfig{MaxCharacters: DefaultMaxCharacters, PromptInjection: DefaultSensitivity}
	if g == nil || g.config == nil {
		return cfg
	}
	if _, err := g.config.Decode(ctx, models.ConfigKeyGuardrails, &cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to read guardrails config, using defaults")
		return models.GuardrailsConfig{MaxCharacters: DefaultMaxCharacters, PromptInjection: DefaultSensitivity}
	}
	return cfg
}

// Check returns an error wrapping models.ErrInvalidInput and a *Violation
// when text fails a check.
func (g *Guard) Check(ctx context.Context, text string) error {
	cfg := g.load(ctx)
	if v := evaluate(cfg, text); v != nil {
		log.Info().Str("check", v.Check).Msg("Chat message rejected by guardrail")
		return fmt.Errorf("%w: %w", models.ErrInvalidInput, v)
	}
	return nil
}

// Redact masks personal data in text unless redaction is disabled.
func (g *Guard) Redact(ctx context.Context, text string) string {
	cfg := g.load(ctx)
	if cfg.RedactLogs != nil && !*cfg.RedactLogs {
		return text
	}
	return Redact(text)
}

func evaluate(cfg models.GuardrailsConfig, text string) *Violation {
	if cfg.MaxCharacters > 0 && utf8.RuneCountInString(text) > cfg.MaxCharacters {
		return &Violation{"max_length", fmt.Sprintf("message exceeds %d characters", cfg.MaxCharacters)}
	}
	if cfg.MaxWords > 0 && len(strings.Fields(text)) > cfg.MaxWords {
		return &Violation{"max_length", fmt.Sprintf("message exceeds %d words", cfg.MaxWords)}
	}

	lower := strings.ToLower(text)
	for _, phrase := range cfg.BlockedPhrases {
		if phrase = strings.TrimSpace(phrase); phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return &Violation{"blocked_phrase", "message contains a blocked phrase"}
		}
	}

	switch strings.ToLower(cfg.PromptInjection) {
	case "off":
		return nil
	case "high":
		if matchAny(highSensitivityPatterns, text) {
			return &Violation{"prompt_injection", "message looks like an attempt to override the assistant"}
		}
	}
	if matchAny(injectionPatterns, text) {
		return &Violation{"prompt_injection", "message looks like an attempt to override the assistant"}
	}
	return nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ── Prompt injection ────────────────────────────────────────

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|your)\s+(instructions?|rules?|context)`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)ignora\s+(todas\s+)?(las\s+)?(instrucciones|reglas)\s+(anteriores|previas)`),
	regexp.MustCompile(`(?i)olvida\s+(todas\s+)?(tus|las)\s+(instrucciones|reglas)`),
	regexp.MustCompile(`(?i)ahora\s+eres\s+(un|una)\s+`),
}

var highSensitivityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)what\s+(is|are)\s+your\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)(muestra|revela)(me)?\s+(tu|el)\s+(prompt|instrucciones)`),
	regexp.MustCompile(`(?i)(other|another)\s+user'?s?\s+(data|expenses|account)`),
	regexp.MustCompile(`(?i)(datos|gastos|cuenta)\s+de\s+otro\s+usuario`),
}

// ── Redaction ───────────────────────────────────────────────

var redactions = []struct {
	re   *regexp.Regexp
	mask string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[email]"},
	{regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`), "[card]"},
	// Phone numbers need a country code, a bracketed area code, dash
	// separators or a label, so amounts and years stay readable.
	{regexp.MustCompile(`\+\d{1,3}[-.\s]?(?:\(?\d{1,4}\)?[-.\s]?)?\d{3,4}[-.\s]?\d{4}\b`), "[phone]"},
	{regexp.MustCompile(`\(\d{2,4}\)[-.\s]?\d{3,4}[-.\s]?\d{4}\b`), "[phone]"},
	{regexp.MustCompile(`\b\d{2,4}-\d{3,4}-\d{4}\b`), "[phone]"},
	{regexp.MustCompile(`(?i)(\b(?:tel[eé]fono|tel|cel(?:ular)?|phone|m[oó]vil|whatsapp)\.?:?\s*)\d[\d\s.-]{6,}\d`), "${1}[phone]"},
}

// Redact masks emails, card numbers and phone numbers. Card numbers are
// masked before phone numbers so a card is never half-masked.
func Redact(text string) string {
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.mask)
	}
	return text
}
