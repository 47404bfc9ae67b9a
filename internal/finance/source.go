// Package finance exposes the user's financial records to the chatbot tools.
// The records are owned by the CRUD services; this package only reads them.
package finance

import (
	"context"
	"time"
)

// Filter narrows a findAll query. Nil bounds are open.
type Filter struct {
	From *time.Time
	To   *time.Time
}

// Source is the read side of the financial CRUD services. Every method is
// scoped to one user.
type Source interface {
	Expenses(ctx context.Context, userID string, f Filter) ([]Expense, error)
	Incomes(ctx context.Context, userID string, f Filter) ([]Income, error)
	Savings(ctx context.Context, userID string) ([]Saving, error)
	// Budgets returns budgets whose window overlaps the filter range.
	Budgets(ctx context.Context, userID string, f Filter) ([]Budget, error)
	Loans(ctx context.Context, userID string) ([]Loan, error)
	Categories(ctx context.Context, userID string) ([]Category, error)
}
