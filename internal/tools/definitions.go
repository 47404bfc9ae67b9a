package tools

import "github.com/walletwise/walletwise/backend/pkg/models"

func dateProps() map[string]any {
	return map[string]any{
		"start_date": map[string]any{
			"type":        "string",
			"format":      "date",
			"description": "Inclusive start date (YYYY-MM-DD). Defaults to the first day of the current month.",
		},
		"end_date": map[string]any{
			"type":        "string",
			"format":      "date",
			"description": "Inclusive end date (YYYY-MM-DD). Defaults to the last day of the current month.",
		},
	}
}

func amountProps(subject string) map[string]any {
	return map[string]any{
		"min_amount": map[string]any{"type": "number", "minimum": 0, "description": "Only include " + subject + " at or above this amount."},
		"max_amount": map[string]any{"type": "number", "minimum": 0, "description": "Only include " + subject + " at or below this amount."},
	}
}

func limitProp() map[string]any {
	return map[string]any{
		"limit": map[string]any{"type": "integer", "minimum": 0, "maximum": maxLimit, "description": "Maximum number of individual records to list. Totals always cover every match."},
	}
}

func merge(parts ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, p := range parts {
		for k, v := range p {
			out[k] = v
		}
	}
	return out
}

var ExpensesDefinition = models.ToolDefinition{
	Name:        ToolExpenses,
	Description: "Get the user's expenses for a date range with totals, average, median and a per-category breakdown. Use for any question about spending.",
	Parameters: merge(dateProps(), amountProps("expenses"), limitProp(), map[string]any{
		"category":       map[string]any{"type": "string", "description": "Category or subcategory name to filter by, e.g. \"Transporte\". Case-insensitive."},
		"subcategory":    map[string]any{"type": "string", "description": "Subcategory name to filter by."},
		"payment_method": map[string]any{"type": "string", "description": "Payment method, e.g. cash or card."},
	}),
}

var IncomesDefinition = models.ToolDefinition{
	Name:        ToolIncomes,
	Description: "Get the user's incomes for a date range with totals and breakdowns by category and source.",
	Parameters: merge(dateProps(), amountProps("incomes"), limitProp(), map[string]any{
		"category": map[string]any{"type": "string", "description": "Income category to filter by."},
		"source":   map[string]any{"type": "string", "description": "Income source, e.g. employer name."},
	}),
}

var SavingsDefinition = models.ToolDefinition{
	Name:        ToolSavings,
	Description: "Get the user's savings goals with amount saved, target and progress percentage.",
	Parameters: merge(amountProps("goals"), limitProp(), map[string]any{
		"name":   map[string]any{"type": "string", "description": "Goal name to filter by."},
		"status": map[string]any{"type": "string", "enum": []string{"completed", "in_progress"}, "description": "Only completed or only in-progress goals."},
	}),
}

var BudgetsDefinition = models.ToolDefinition{
	Name:        ToolBudgets,
	Description: "Get the user's budgets overlapping a date range, comparing each limit with actual spending.",
	Parameters: merge(dateProps(), amountProps("budgets"), limitProp(), map[string]any{
		"category": map[string]any{"type": "string", "description": "Budget category to filter by."},
		"status":   map[string]any{"type": "string", "enum": []string{budgetOK, budgetWarning, budgetExceeded}, "description": "Only budgets in this state."},
	}),
}

var LoansDefinition = models.ToolDefinition{
	Name:        ToolLoans,
	Description: "Get loans the user borrowed or lent, with outstanding balances and repayment progress.",
	Parameters: merge(amountProps("loans"), limitProp(), map[string]any{
		"status":       map[string]any{"type": "string", "enum": []string{"active", "paid", "overdue"}, "description": "Loan status."},
		"type":         map[string]any{"type": "string", "enum": []string{"borrowed", "lent"}, "description": "Whether the user borrowed or lent the money."},
		"counterparty": map[string]any{"type": "string", "description": "Person or institution on the other side."},
	}),
}
