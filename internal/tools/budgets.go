package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/walletwise/walletwise/backend/internal/finance"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

const (
	budgetOK       = "ok"
	budgetWarning  = "warning"
	budgetExceeded = "exceeded"

	// warningRatio marks a budget as close to its limit.
	warningRatio = 0.8
)

type BudgetItem struct {
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Limit       float64 `json:"limit"`
	Spent       float64 `json:"spent"`
	Remaining   float64 `json:"remaining"`
	PercentUsed string  `json:"percentUsed"`
	Status      string  `json:"status"`
	StartDate   string  `json:"startDate"`
	EndDate     string  `json:"endDate"`
}

type BudgetsData struct {
	IsEmpty      bool         `json:"isEmpty"`
	Count        int          `json:"count"`
	TotalBudget  float64      `json:"totalBudget"`
	TotalSpent   float64      `json:"totalSpent"`
	OverallUsage string       `json:"overallUsage"`
	Exceeded     int          `json:"exceeded"`
	Warning      int          `json:"warning"`
	Period       Period       `json:"period"`
	Items        []BudgetItem `json:"items,omitempty"`
	Summary      string       `json:"summary"`
}

// BudgetsExecutor compares budgets against actual spending in their window.
type BudgetsExecutor struct {
	deps Deps
}

func (e *BudgetsExecutor) Execute(ctx context.Context, ec models.ToolExecutionContext) models.ToolExecutionResult {
	return run(ctx, ec, ToolBudgets, "budgets", e.deps.now(), e.query)
}

func (e *BudgetsExecutor) query(ctx context.Context, userID string, p *BudgetParams) (any, error) {
	from, to := p.Bounds()
	period := Period{Start: p.StartDate, End: p.EndDate}

	budgets, err := e.deps.Source.Budgets(ctx, userID, finance.Filter{From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	var selected []finance.Budget
	for _, b := range budgets {
		if b.UserID == userID && matchText(b.CategoryName(), p.Category) && p.match(b.Amount) {
			selected = append(selected, b)
		}
	}
	if len(selected) == 0 {
		return emptyBudgets(period), nil
	}

	// One expense query spanning every selected budget window.
	winStart, winEnd := selected[0].StartDate, selected[0].EndDate
	for _, b := range selected[1:] {
		if b.StartDate.Before(winStart) {
			winStart = b.StartDate
		}
		if b.EndDate.After(winEnd) {
			winEnd = b.EndDate
		}
	}
	winEnd = endOfDay(winEnd)
	expenses, err := e.deps.Source.Expenses(ctx, userID, finance.Filter{From: &winStart, To: &winEnd})
	if err != nil {
		return nil, err
	}

	data := BudgetsData{Period: period}
	var items []BudgetItem
	for _, b := range selected {
		spent := spentIn(expenses, userID, b)
		status := budgetStatus(spent, b.Amount)
		if p.Status != "" && status != p.Status {
			continue
		}
		remaining := b.Amount - spent
		items = append(items, BudgetItem{
			Name:        b.Name,
			Category:    b.CategoryName(),
			Limit:       round2(b.Amount),
			Spent:       round2(spent),
			Remaining:   round2(remaining),
			PercentUsed: percent(spent, b.Amount),
			Status:      status,
			StartDate:   b.StartDate.Format(dateLayout),
			EndDate:     b.EndDate.Format(dateLayout),
		})
		data.TotalBudget += b.Amount
		data.TotalSpent += spent
		switch status {
		case budgetExceeded:
			data.Exceeded++
		case budgetWarning:
			data.Warning++
		}
	}
	if len(items) == 0 {
		return emptyBudgets(period), nil
	}

	data.Count = len(items)
	data.OverallUsage = percent(data.TotalSpent, data.TotalBudget)
	data.TotalBudget = round2(data.TotalBudget)
	data.TotalSpent = round2(data.TotalSpent)
	data.Items = limitItems(items, p.Limit)
	data.Summary = fmt.Sprintf("%d budgets, %.2f spent of %.2f (%s%%); %d exceeded, %d near the limit",
		data.Count, data.TotalSpent, data.TotalBudget, data.OverallUsage, data.Exceeded, data.Warning)
	return data, nil
}

func emptyBudgets(period Period) BudgetsData {
	return BudgetsData{
		IsEmpty:      true,
		OverallUsage: "0.0",
		Period:       period,
		Summary:      fmt.Sprintf("No budgets found between %s and %s.", period.Start, period.End),
	}
}

// spentIn sums the user's expenses in the budget's category and window.
// A budget without a category tracks all spending.
func spentIn(expenses []finance.Expense, userID string, b finance.Budget) float64 {
	end := endOfDay(b.EndDate)
	var total float64
	for _, x := range expenses {
		if x.UserID != userID || x.Date.Before(b.StartDate) || x.Date.After(end) {
			continue
		}
		if b.CategoryID != nil && (x.CategoryID == nil || *x.CategoryID != *b.CategoryID) {
			continue
		}
		total += x.Amount
	}
	return total
}

func budgetStatus(spent, limit float64) string {
	switch {
	case limit <= 0 && spent > 0:
		return budgetExceeded
	case spent > limit:
		return budgetExceeded
	case limit > 0 && spent >= limit*warningRatio:
		return budgetWarning
	default:
		return budgetOK
	}
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
