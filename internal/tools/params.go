package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

const (
	dateLayout = "2006-01-02"
	maxLimit   = 100
)

// Params is the tagged union of per-tool parameter sets. Each concrete type
// is decoded strictly and normalised before any storage query runs.
type Params interface {
	ToolName() string
	normalize(now time.Time) error
	queryParams() map[string]any
}

// ParseParams decodes raw arguments for the named tool. Unknown fields,
// wrong types and out-of-range values are rejected.
func ParseParams(tool string, raw json.RawMessage, now time.Time) (Params, error) {
	var p Params
	switch tool {
	case ToolExpenses:
		p = &ExpenseParams{}
	case ToolIncomes:
		p = &IncomeParams{}
	case ToolSavings:
		p = &SavingParams{}
	case ToolBudgets:
		p = &BudgetParams{}
	case ToolLoans:
		p = &LoanParams{}
	default:
		return nil, fmt.Errorf("%w: unknown tool %q", models.ErrInvalidInput, tool)
	}
	if err := decodeStrict(raw, p); err != nil {
		return nil, err
	}
	if err := p.normalize(now); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed parameters: %v", models.ErrInvalidInput, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after parameters", models.ErrInvalidInput)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ── Shared pieces ───────────────────────────────────────────

// DateRange is the optional start/end pair. Without dates the range is the
// current calendar month; end dates are inclusive.
type DateRange struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`

	from time.Time
	to   time.Time
}

func (r *DateRange) normalize(now time.Time) error {
	loc := now.Location()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)

	var start, end time.Time
	var err error
	if r.StartDate != "" {
		if start, err = time.ParseInLocation(dateLayout, r.StartDate, loc); err != nil {
			return invalid("start_date must be YYYY-MM-DD, got %q", r.StartDate)
		}
	}
	if r.EndDate != "" {
		if end, err = time.ParseInLocation(dateLayout, r.EndDate, loc); err != nil {
			return invalid("end_date must be YYYY-MM-DD, got %q", r.EndDate)
		}
	}

	switch {
	case r.StartDate == "" && r.EndDate == "":
		start = monthStart
		end = monthStart.AddDate(0, 1, -1)
	case r.StartDate == "":
		start = time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, loc)
	case r.EndDate == "":
		end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		if end.Before(start) {
			end = start
		}
	}
	if end.Before(start) {
		return invalid("end_date %s is before start_date %s", end.Format(dateLayout), start.Format(dateLayout))
	}

	r.from = start
	r.to = end.Add(24*time.Hour - time.Nanosecond)
	r.StartDate = start.Format(dateLayout)
	r.EndDate = end.Format(dateLayout)
	return nil
}

// Bounds returns the resolved inclusive range.
func (r *DateRange) Bounds() (time.Time, time.Time) { return r.from, r.to }

// AmountRange filters on an amount column.
type AmountRange struct {
	MinAmount *float64 `json:"min_amount,omitempty"`
	MaxAmount *float64 `json:"max_amount,omitempty"`
}

func (a *AmountRange) normalize() error {
	if a.MinAmount != nil && *a.MinAmount < 0 {
		return invalid("min_amount must be >= 0")
	}
	if a.MaxAmount != nil && *a.MaxAmount < 0 {
		return invalid("max_amount must be >= 0")
	}
	if a.MinAmount != nil && a.MaxAmount != nil && *a.MinAmount > *a.MaxAmount {
		return invalid("min_amount %.2f is greater than max_amount %.2f", *a.MinAmount, *a.MaxAmount)
	}
	return nil
}

func (a *AmountRange) match(v float64) bool {
	if a.MinAmount != nil && v < *a.MinAmount {
		return false
	}
	if a.MaxAmount != nil && v > *a.MaxAmount {
		return false
	}
	return true
}

func (a *AmountRange) put(q map[string]any) {
	if a.MinAmount != nil {
		q["min_amount"] = *a.MinAmount
	}
	if a.MaxAmount != nil {
		q["max_amount"] = *a.MaxAmount
	}
}

func normalizeLimit(limit int) error {
	if limit < 0 || limit > maxLimit {
		return invalid("limit must be between 0 and %d", maxLimit)
	}
	return nil
}

func oneOf(field, value string, allowed ...string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return "", nil
	}
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", invalid("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// ── Per-tool parameter sets ─────────────────────────────────

type ExpenseParams struct {
	DateRange
	AmountRange
	Category      string `json:"category,omitempty"`
	Subcategory   string `json:"subcategory,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

func (p *ExpenseParams) ToolName() string { return ToolExpenses }

func (p *ExpenseParams) normalize(now time.Time) error {
	if err := p.DateRange.normalize(now); err != nil {
		return err
	}
	if err := p.AmountRange.normalize(); err != nil {
		return err
	}
	p.Category = strings.TrimSpace(p.Category)
	p.Subcategory = strings.TrimSpace(p.Subcategory)
	return normalizeLimit(p.Limit)
}

func (p *ExpenseParams) queryParams() map[string]any {
	q := map[string]any{"start_date": p.StartDate, "end_date": p.EndDate}
	if p.Category != "" {
		q["category"] = p.Category
	}
	if p.Subcategory != "" {
		q["subcategory"] = p.Subcategory
	}
	if p.PaymentMethod != "" {
		q["payment_method"] = p.PaymentMethod
	}
	if p.Limit > 0 {
		q["limit"] = p.Limit
	}
	p.AmountRange.put(q)
	return q
}

type IncomeParams struct {
	DateRange
	AmountRange
	Category string `json:"category,omitempty"`
	Source   string `json:"source,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (p *IncomeParams) ToolName() string { return ToolIncomes }

func (p *IncomeParams) normalize(now time.Time) error {
	if err := p.DateRange.normalize(now); err != nil {
		return err
	}
	if err := p.AmountRange.normalize(); err != nil {
		return err
	}
	p.Category = strings.TrimSpace(p.Category)
	p.Source = strings.TrimSpace(p.Source)
	return normalizeLimit(p.Limit)
}

func (p *IncomeParams) queryParams() map[string]any {
	q := map[string]any{"start_date": p.StartDate, "end_date": p.EndDate}
	if p.Category != "" {
		q["category"] = p.Category
	}
	if p.Source != "" {
		q["source"] = p.Source
	}
	if p.Limit > 0 {
		q["limit"] = p.Limit
	}
	p.AmountRange.put(q)
	return q
}

// SavingParams has no date range: goals are reported at their current state.
type SavingParams struct {
	AmountRange
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"` // completed | in_progress
	Limit  int    `json:"limit,omitempty"`
}

func (p *SavingParams) ToolName() string { return ToolSavings }

func (p *SavingParams) normalize(time.Time) error {
	if err := p.AmountRange.normalize(); err != nil {
		return err
	}
	status, err := oneOf("status", p.Status, "completed", "in_progress")
	if err != nil {
		return err
	}
	p.Status = status
	p.Name = strings.TrimSpace(p.Name)
	return normalizeLimit(p.Limit)
}

func (p *SavingParams) queryParams() map[string]any {
	q := map[string]any{}
	if p.Name != "" {
		q["name"] = p.Name
	}
	if p.Status != "" {
		q["status"] = p.Status
	}
	if p.Limit > 0 {
		q["limit"] = p.Limit
	}
	p.AmountRange.put(q)
	return q
}

type BudgetParams struct {
	DateRange
	AmountRange
	Category string `json:"category,omitempty"`
	Status   string `json:"status,omitempty"` // ok | warning | exceeded
	Limit    int    `json:"limit,omitempty"`
}

func (p *BudgetParams) ToolName() string { return ToolBudgets }

func (p *BudgetParams) normalize(now time.Time) error {
	if err := p.DateRange.normalize(now); err != nil {
		return err
	}
	if err := p.AmountRange.normalize(); err != nil {
		return err
	}
	status, err := oneOf("status", p.Status, budgetOK, budgetWarning, budgetExceeded)
	if err != nil {
		return err
	}
	p.Status = status
	p.Category = strings.TrimSpace(p.Category)
	return normalizeLimit(p.Limit)
}

func (p *BudgetParams) queryParams() map[string]any {
	q := map[string]any{"start_date": p.StartDate, "end_date": p.EndDate}
	if p.Category != "" {
		q["category"] = p.Category
	}
	if p.Status != "" {
		q["status"] = p.Status
	}
	if p.Limit > 0 {
		q["limit"] = p.Limit
	}
	p.AmountRange.put(q)
	return q
}

// LoanParams filters loans by state; amounts apply to the outstanding balance.
type LoanParams struct {
	AmountRange
	Status       string `json:"status,omitempty"` // active | paid | overdue
	Type         string `json:"type,omitempty"`   // borrowed | lent
	Counterparty string `json:"counterparty,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

func (p *LoanParams) ToolName() string { return ToolLoans }

func (p *LoanParams) normalize(time.Time) error {
	if err := p.AmountRange.normalize(); err != nil {
		return err
	}
	status, err := oneOf("status", p.Status, "active", "paid", "overdue")
	if err != nil {
		return err
	}
	kind, err := oneOf("type", p.Type, "borrowed", "lent")
	if err != nil {
		return err
	}
	p.Status, p.Type = status, kind
	p.Counterparty = strings.TrimSpace(p.Counterparty)
	return normalizeLimit(p.Limit)
}

func (p *LoanParams) queryParams() map[string]any {
	q := map[string]any{}
	if p.Status != "" {
		q["status"] = p.Status
	}
	if p.Type != "" {
		q["type"] = p.Type
	}
	if p.Counterparty != "" {
		q["counterparty"] = p.Counterparty
	}
	if p.Limit > 0 {
		q["limit"] = p.Limit
	}
	p.AmountRange.put(q)
	return q
}
