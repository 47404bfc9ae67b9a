package finance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemorySource is an in-memory Source used by tests and the memory driver.
// Err, when set, is returned by every query.
type MemorySource struct {
	mu         sync.RWMutex
	expenses   []Expense
	incomes    []Income
	savings    []Saving
	budgets    []Budget
	loans      []Loan
	categories []Category

	Err error
}

func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

func (m *MemorySource) AddExpenses(items ...Expense) {
	m.mu.Lock()
	m.expenses = append(m.expenses, items...)
	m.mu.Unlock()
}

func (m *MemorySource) AddIncomes(items ...Income) {
	m.mu.Lock()
	m.incomes = append(m.incomes, items...)
	m.mu.Unlock()
}

func (m *MemorySource) AddSavings(items ...Saving) {
	m.mu.Lock()
	m.savings = append(m.savings, items...)
	m.mu.Unlock()
}

func (m *MemorySource) AddBudgets(items ...Budget) {
	m.mu.Lock()
	m.budgets = append(m.budgets, items...)
	m.mu.Unlock()
}

func (m *MemorySource) AddLoans(items ...Loan) {
	m.mu.Lock()
	m.loans = append(m.loans, items...)
	m.mu.Unlock()
}

func (m *MemorySource) AddCategories(items ...Category) {
	m.mu.Lock()
	m.categories = append(m.categories, items...)
	m.mu.Unlock()
}

func (f Filter) contains(t time.Time) bool {
	if f.From != nil && t.Before(*f.From) {
		return false
	}
	if f.To != nil && t.After(*f.To) {
		return false
	}
	return true
}

func (m *MemorySource) Expenses(_ context.Context, userID string, f Filter) ([]Expense, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Expense
	for _, e := range m.expenses {
		if e.UserID == userID && f.contains(e.Date) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (m *MemorySource) Incomes(_ context.Context, userID string, f Filter) ([]Income, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Income
	for _, i := range m.incomes {
		if i.UserID == userID && f.contains(i.Date) {
			out = append(out, i)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Date.After(out[b].Date) })
	return out, nil
}

func (m *MemorySource) Savings(_ context.Context, userID string) ([]Saving, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Saving
	for _, s := range m.savings {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemorySource) Budgets(_ context.Context, userID string, f Filter) ([]Budget, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Budget
	for _, b := range m.budgets {
		if b.UserID != userID {
			continue
		}
		if f.From != nil && b.EndDate.Before(*f.From) {
			continue
		}
		if f.To != nil && b.StartDate.After(*f.To) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *MemorySource) Loans(_ context.Context, userID string) ([]Loan, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Loan
	for _, l := range m.loans {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemorySource) Categories(_ context.Context, userID string) ([]Category, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Category
	for _, c := range m.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}
