package tools

import (
	"context"
	"fmt"

	"github.com/walletwise/walletwise/backend/internal/finance"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

type IncomeItem struct {
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Source      string  `json:"source,omitempty"`
}

type IncomesData struct {
	IsEmpty    bool         `json:"isEmpty"`
	Count      int          `json:"count"`
	Total      float64      `json:"total"`
	Average    float64      `json:"average"`
	Median     float64      `json:"median"`
	Period     Period       `json:"period"`
	ByCategory []Breakdown  `json:"byCategory,omitempty"`
	BySource   []Breakdown  `json:"bySource,omitempty"`
	Items      []IncomeItem `json:"items,omitempty"`
	Summary    string       `json:"summary"`
}

// IncomesExecutor answers questions about money received.
type IncomesExecutor struct {
	deps Deps
}

func (e *IncomesExecutor) Execute(ctx context.Context, ec models.ToolExecutionContext) models.ToolExecutionResult {
	return run(ctx, ec, ToolIncomes, "incomes", e.deps.now(), e.query)
}

func (e *IncomesExecutor) query(ctx context.Context, userID string, p *IncomeParams) (any, error) {
	from, to := p.Bounds()
	rows, err := e.deps.Source.Incomes(ctx, userID, finance.Filter{From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	period := Period{Start: p.StartDate, End: p.EndDate}
	var (
		matched []finance.Income
		amounts []float64
	)
	for _, x := range rows {
		if x.UserID != userID || !matchText(x.CategoryName(), p.Category) || !matchText(x.Source, p.Source) || !p.match(x.Amount) {
			continue
		}
		matched = append(matched, x)
		amounts = append(amounts, x.Amount)
	}

	if len(matched) == 0 {
		return IncomesData{
			IsEmpty: true,
			Period:  period,
			Summary: fmt.Sprintf("No incomes found between %s and %s.", period.Start, period.End),
		}, nil
	}

	total := sum(amounts)
	byCat, bySource := newBreakdown(), newBreakdown()
	items := make([]IncomeItem, 0, len(matched))
	for _, x := range matched {
		byCat.add(x.CategoryName(), x.Amount)
		src := x.Source
		if src == "" {
			src = "Unspecified"
		}
		bySource.add(src, x.Amount)
		items = append(items, IncomeItem{
			Date:        x.Date.Format(dateLayout),
			Amount:      round2(x.Amount),
			Description: x.Description,
			Category:    x.CategoryName(),
			Source:      x.Source,
		})
	}

	data := IncomesData{
		Count:      len(matched),
		Total:      round2(total),
		Average:    round2(average(amounts)),
		Median:     round2(median(amounts)),
		Period:     period,
		ByCategory: byCat.rows(total),
		BySource:   bySource.rows(total),
		Items:      limitItems(items, p.Limit),
	}
	data.Summary = fmt.Sprintf("%d incomes totaling %.2f between %s and %s", data.Count, data.Total, period.Start, period.End)
	return data, nil
}
