package tools

import (
	"context"
	"fmt"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

type LoanItem struct {
	Counterparty string  `json:"counterparty"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	Principal    float64 `json:"principal"`
	Outstanding  float64 `json:"outstanding"`
	Repaid       string  `json:"repaid"`
	InterestRate float64 `json:"interestRate"`
	StartDate    string  `json:"startDate"`
	DueDate      string  `json:"dueDate,omitempty"`
}

type LoansData struct {
	IsEmpty          bool        `json:"isEmpty"`
	Count            int         `json:"count"`
	TotalPrincipal   float64     `json:"totalPrincipal"`
	TotalOutstanding float64     `json:"totalOutstanding"`
	Borrowed         float64     `json:"borrowedOutstanding"`
	Lent             float64     `json:"lentOutstanding"`
	Repaid           string      `json:"repaid"`
	ByStatus         []Breakdown `json:"byStatus,omitempty"`
	Items            []LoanItem  `json:"items,omitempty"`
	Summary          string      `json:"summary"`
}

// LoansExecutor reports money owed by or to the user.
type LoansExecutor struct {
	deps Deps
}

func (e *LoansExecutor) Execute(ctx context.Context, ec models.ToolExecutionContext) models.ToolExecutionResult {
	return run(ctx, ec, ToolLoans, "loans", e.deps.now(), e.query)
}

func (e *LoansExecutor) query(ctx context.Context, userID string, p *LoanParams) (any, error) {
	rows, err := e.deps.Source.Loans(ctx, userID)
	if err != nil {
		return nil, err
	}

	data := LoansData{}
	byStatus := newBreakdown()
	var items []LoanItem
	for _, l := range rows {
		if l.UserID != userID || !matchText(l.Counterparty, p.Counterparty) || !p.match(l.OutstandingBalance) {
			continue
		}
		if (p.Status != "" && l.Status != p.Status) || (p.Type != "" && l.Type != p.Type) {
			continue
		}

		item := LoanItem{
			Counterparty: l.Counterparty,
			Type:         l.Type,
			Status:       l.Status,
			Principal:    round2(l.Principal),
			Outstanding:  round2(l.OutstandingBalance),
			Repaid:       percent(l.Principal-l.OutstandingBalance, l.Principal),
			InterestRate: l.InterestRate,
			StartDate:    l.StartDate.Format(dateLayout),
		}
		if l.DueDate != nil {
			item.DueDate = l.DueDate.Format(dateLayout)
		}
		items = append(items, item)

		byStatus.add(l.Status, l.OutstandingBalance)
		data.TotalPrincipal += l.Principal
		data.TotalOutstanding += l.OutstandingBalance
		if l.Type == "lent" {
			data.Lent += l.OutstandingBalance
		} else {
			data.Borrowed += l.OutstandingBalance
		}
	}

	if len(items) == 0 {
		return LoansData{IsEmpty: true, Repaid: "0.0", Summary: "No loans found."}, nil
	}

	data.Count = len(items)
	data.Repaid = percent(data.TotalPrincipal-data.TotalOutstanding, data.TotalPrincipal)
	data.ByStatus = byStatus.rows(data.TotalOutstanding)
	data.TotalPrincipal = round2(data.TotalPrincipal)
	data.TotalOutstanding = round2(data.TotalOutstanding)
	data.Borrowed = round2(data.Borrowed)
	data.Lent = round2(data.Lent)
	data.Items = limitItems(items, p.Limit)
	data.Summary = fmt.Sprintf("%d loans, %.2f outstanding of %.2f principal (%s%% repaid)",
		data.Count, data.TotalOutstanding, data.TotalPrincipal, data.Repaid)
	return data, nil
}
