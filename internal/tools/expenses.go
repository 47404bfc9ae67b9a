package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/walletwise/walletwise/backend/internal/finance"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

type ExpenseItem struct {
	Date          string  `json:"date"`
	Amount        float64 `json:"amount"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	Subcategory   string  `json:"subcategory,omitempty"`
	PaymentMethod string  `json:"paymentMethod,omitempty"`
}

type ExpensesData struct {
	IsEmpty    bool          `json:"isEmpty"`
	Count      int           `json:"count"`
	Total      float64       `json:"total"`
	Average    float64       `json:"average"`
	Median     float64       `json:"median"`
	Max        float64       `json:"max"`
	Period     Period        `json:"period"`
	ByCategory []Breakdown   `json:"byCategory,omitempty"`
	Items      []ExpenseItem `json:"items,omitempty"`
	Summary    string        `json:"summary"`
	Answer     string        `json:"answer,omitempty"`
}

// ExpensesExecutor answers spending questions.
type ExpensesExecutor struct {
	deps Deps
}

func (e *ExpensesExecutor) Execute(ctx context.Context, ec models.ToolExecutionContext) models.ToolExecutionResult {
	return run(ctx, ec, ToolExpenses, "expenses", e.deps.now(), e.query)
}

func (e *ExpensesExecutor) query(ctx context.Context, userID string, p *ExpenseParams) (any, error) {
	from, to := p.Bounds()
	rows, err := e.deps.Source.Expenses(ctx, userID, finance.Filter{From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	period := Period{Start: p.StartDate, End: p.EndDate}
	var (
		matched         []finance.Expense
		amounts         []float64
		matchedCategory string
	)
	for _, x := range rows {
		if x.UserID != userID {
			continue
		}
		if !matchText(x.CategoryName(), p.Category) && !matchText(x.SubcategoryName(), p.Category) {
			continue
		}
		if p.Subcategory != "" && !matchText(x.SubcategoryName(), p.Subcategory) {
			continue
		}
		if !matchText(x.PaymentMethod, p.PaymentMethod) || !p.match(x.Amount) {
			continue
		}
		if matchedCategory == "" && p.Category != "" {
			matchedCategory = x.CategoryName()
			if !matchText(matchedCategory, p.Category) {
				matchedCategory = x.SubcategoryName()
			}
		}
		matched = append(matched, x)
		amounts = append(amounts, x.Amount)
	}

	if len(matched) == 0 {
		return ExpensesData{
			IsEmpty: true,
			Count:   0,
			Period:  period,
			Summary: emptyExpenseSummary(p),
		}, nil
	}

	total := sum(amounts)
	byCat := newBreakdown()
	maxAmount := 0.0
	items := make([]ExpenseItem, 0, len(matched))
	for _, x := range matched {
		byCat.add(x.CategoryName(), x.Amount)
		if x.Amount > maxAmount {
			maxAmount = x.Amount
		}
		items = append(items, ExpenseItem{
			Date:          x.Date.Format(dateLayout),
			Amount:        round2(x.Amount),
			Description:   x.Description,
			Category:      x.CategoryName(),
			Subcategory:   x.SubcategoryName(),
			PaymentMethod: x.PaymentMethod,
		})
	}
	cats := byCat.rows(total)

	data := ExpensesData{
		Count:      len(matched),
		Total:      round2(total),
		Average:    round2(average(amounts)),
		Median:     round2(median(amounts)),
		Max:        round2(maxAmount),
		Period:     period,
		ByCategory: cats,
		Items:      limitItems(items, p.Limit),
	}
	data.Summary = fmt.Sprintf("%d expenses totaling %.2f between %s and %s", data.Count, data.Total, period.Start, period.End)
	data.Answer = expenseAnswer(matchedCategory, data, cats)
	return data, nil
}

func emptyExpenseSummary(p *ExpenseParams) string {
	var b strings.Builder
	b.WriteString("No expenses found")
	if p.Category != "" {
		fmt.Fprintf(&b, " in category %q", p.Category)
	}
	fmt.Fprintf(&b, " between %s and %s.", p.StartDate, p.EndDate)
	return b.String()
}

// expenseAnswer is a ready-made sentence the model can quote verbatim.
func expenseAnswer(category string, d ExpensesData, cats []Breakdown) string {
	if category != "" {
		return fmt.Sprintf("You spent %.2f on %s between %s and %s across %d expense(s).",
			d.Total, category, d.Period.Start, d.Period.End, d.Count)
	}
	answer := fmt.Sprintf("You spent %.2f in total between %s and %s across %d expense(s).",
		d.Total, d.Period.Start, d.Period.End, d.Count)
	if len(cats) > 0 {
		answer += fmt.Sprintf(" The largest category was %s with %.2f (%s%%).", cats[0].Name, cats[0].Total, cats[0].Percentage)
	}
	return answer
}
