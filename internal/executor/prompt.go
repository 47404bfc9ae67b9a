package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/internal/cache"
	"github.com/walletwise/walletwise/backend/internal/finance"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// Placeholders substituted in system prompt templates.
const (
	PlaceholderCurrentDate = "{{current_date}}"
	PlaceholderCategories  = "{{categories_context}}"
)

// DefaultCategoryCacheTTL bounds how long a user's category block is reused.
const DefaultCategoryCacheTTL = time.Hour

// CategoriesFallback is rendered when the category lookup fails.
const CategoriesFallback = "Categories are not available right now. Ask the user to name the category explicitly when it matters."

// ConfigReader is the slice of the config store the prompt builder reads.
type ConfigReader interface {
	Decode(ctx context.Context, key string, dst any) (bool, error)
}

// CategorySource lists a user's categories with their subcategories.
type CategorySource interface {
	Categories(ctx context.Context, userID string) ([]finance.Category, error)
}

var builtinSections = []models.PromptSection{
	{
		Name:    "role",
		Enabled: true,
		Order:   10,
		Content: "You are WalletWise, a personal finance assistant. You help the user understand " +
			"their own expenses, incomes, savings goals, budgets and loans. Today is {{current_date}}.",
	},
	{
		Name:    "tools",
		Enabled: true,
		Order:   20,
		Content: "Always use the available tools to look up figures. Never invent amounts, dates or " +
			"categories. When a tool returns no data, say so plainly. When the user does not give a " +
			"period, assume the current month.",
	},
	{
		Name:    "categories",
		Enabled: true,
		Order:   30,
		Content: "The user's categories are:\n{{categories_context}}",
	},
	{
		Name:    "style",
		Enabled: true,
		Order:   40,
		Content: "Answer in the user's language, briefly, using amounts with two decimals. " +
			"Do not give investment advice.",
	},
}

// PromptBuilder renders the system prompt for a user from configuration.
type PromptBuilder struct {
	config     ConfigReader
	categories CategorySource
	cache      *cache.TTL[string, string]
	locale     string
	now        func() time.Time
}

// NewPromptBuilder creates a prompt builder. The category cache is keyed by
// user id.
func NewPromptBuilder(cfg ConfigReader, categories CategorySource, categoryCache *cache.TTL[string, string], locale string) *PromptBuilder {
	if categoryCache == nil {
		categoryCache = cache.NewTTL[string, string](DefaultCategoryCacheTTL)
	}
	return &PromptBuilder{
		config:     cfg,
		categories: categories,
		cache:      categoryCache,
		locale:     locale,
		now:        time.Now,
	}
}

// WithClock replaces the time source used for {{current_date}}.
func (b *PromptBuilder) WithClock(now func() time.Time) *PromptBuilder {
	b.now = now
	return b
}

// Render returns the system prompt for userID. It never fails: config and
// category errors degrade to built-in text.
func (b *PromptBuilder) Render(ctx context.Context, userID string) string {
	tmpl := b.template(ctx)

	if strings.Contains(tmpl, PlaceholderCurrentDate) {
		tmpl = strings.ReplaceAll(tmpl, PlaceholderCurrentDate, FormatDate(b.now(), b.locale))
	}
	if strings.Contains(tmpl, PlaceholderCategories) {
		tmpl = strings.ReplaceAll(tmpl, PlaceholderCategories, b.categoriesContext(ctx, userID))
	}
	return tmpl
}

// InvalidateCategories drops the cached category block for one user, or
// for every user when userID is empty.
func (b *PromptBuilder) InvalidateCategories(userID string) {
	if userID == "" {
		b.cache.Clear()
		return
	}
	b.cache.Delete(userID)
}

// template resolves the template: a configured prompt first, then the
// configured sections, then the built-in sections.
func (b *PromptBuilder) template(ctx context.Context) string {
	if b.config != nil {
		var raw json.RawMessage
		ok, err := b.config.Decode(ctx, models.ConfigKeySystemPrompt, &raw)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read system prompt config")
		} else if ok {
			if t := decodeTemplate(raw); t != "" {
				return t
			}
		}

		var sections []models.PromptSection
		ok, err = b.config.Decode(ctx, models.ConfigKeyPromptSections, &sections)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read prompt sections config")
		} else if ok {
			if t := composeSections(sections); t != "" {
				return t
			}
		}
	}
	return composeSections(builtinSections)
}

// decodeTemplate accepts either a JSON string or {"template": "..."}.
func decodeTemplate(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Template string `json:"template"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Template)
	}
	return ""
}

func composeSections(sections []models.PromptSection) string {
	enabled := make([]models.PromptSection, 0, len(sections))
	for _, s := range sections {
		if s.Enabled && strings.TrimSpace(s.Content) != "" {
			enabled = append(enabled, s)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Order < enabled[j].Order })

	parts := make([]string, len(enabled))
	for i, s := range enabled {
		parts[i] = strings.TrimSpace(s.Content)
	}
	return strings.Join(parts, "\n\n")
}

func (b *PromptBuilder) categoriesContext(ctx context.Context, userID string) string {
	if b.categories == nil {
		return CategoriesFallback
	}
	text, err := b.cache.GetOrLoad(ctx, userID, func(ctx context.Context) (string, error) {
		cats, err := b.categories.Categories(ctx, userID)
		if err != nil {
			return "", err
		}
		return formatCategories(cats), nil
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Category lookup failed, using fallback context")
		return CategoriesFallback
	}
	return text
}

func formatCategories(cats []finance.Category) string {
	if len(cats) == 0 {
		return "The user has not created any categories yet."
	}
	sorted := append([]finance.Category(nil), cats...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].Name < sorted[j].Name
	})

	var sb strings.Builder
	for _, c := range sorted {
		sb.WriteString("- ")
		sb.WriteString(c.Name)
		if c.Type != "" {
			fmt.Fprintf(&sb, " (%s)", c.Type)
		}
		if len(c.Subcategories) > 0 {
			names := make([]string, len(c.Subcategories))
			for i, s := range c.Subcategories {
				names[i] = s.Name
			}
			sb.WriteString(": ")
			sb.WriteString(strings.Join(names, ", "))
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

var (
	esWeekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	esMonths   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio",
		"agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

// FormatDate renders t as a long date in "es" or, for any other locale,
// English.
func FormatDate(t time.Time, locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "es") {
		return fmt.Sprintf("%s, %d de %s de %d",
			esWeekdays[t.Weekday()], t.Day(), esMonths[t.Month()-1], t.Year())
	}
	return t.Format("Monday, January 2, 2006")
}
