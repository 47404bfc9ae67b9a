package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/walletwise/walletwise/backend/internal/finance"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func day(d int) time.Time { return time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC) }

func uintPtr(v uint) *uint { return &v }

func newDeps(src finance.Source) Deps {
	return Deps{Source: src, Now: func() time.Time { return testNow }}
}

func ctxFor(user, params string) models.ToolExecutionContext {
	return models.ToolExecutionContext{UserID: user, ConversationID: "c1", Parameters: json.RawMessage(params)}
}

func seededSource() *finance.MemorySource {
	src := finance.NewMemorySource()
	transport := &finance.Category{ID: 1, UserID: "u1", Name: "Transporte"}
	food := &finance.Category{ID: 2, UserID: "u1", Name: "Comida"}
	src.AddExpenses(
		finance.Expense{ID: 1, UserID: "u1", Amount: 10, Date: day(2), CategoryID: uintPtr(1), Category: transport, Description: "bus"},
		finance.Expense{ID: 2, UserID: "u1", Amount: 15, Date: day(5), CategoryID: uintPtr(1), Category: transport, Description: "taxi"},
		finance.Expense{ID: 3, UserID: "u1", Amount: 20, Date: day(9), CategoryID: uintPtr(1), Category: transport, Description: "train"},
		finance.Expense{ID: 4, UserID: "u1", Amount: 55, Date: day(10), CategoryID: uintPtr(2), Category: food, Description: "groceries"},
		// Another user's transport spending must never leak.
		finance.Expense{ID: 5, UserID: "u2", Amount: 999, Date: day(3), CategoryID: uintPtr(9), Category: &finance.Category{ID: 9, UserID: "u2", Name: "Transporte"}},
		// Previous month: outside the default range.
		finance.Expense{ID: 6, UserID: "u1", Amount: 100, Date: time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), CategoryID: uintPtr(1), Category: transport},
	)
	return src
}

func TestExpenses_TransportScenario(t *testing.T) {
	e := &ExpensesExecutor{deps: newDeps(seededSource())}

	res := e.Execute(context.Background(), ctxFor("u1", `{"category":"transporte"}`))
	if !res.Success {
		t.Fatalf("Execute() error = %s", res.Error)
	}
	data, ok := res.Data.(ExpensesData)
	if !ok {
		t.Fatalf("Data type = %T, want ExpensesData", res.Data)
	}
	if data.IsEmpty || data.Count != 3 || data.Total != 45.00 {
		t.Fatalf("got count=%d total=%.2f isEmpty=%v, want 3, 45.00, false", data.Count, data.Total, data.IsEmpty)
	}
	if !strings.Contains(data.Answer, "Transporte") || !strings.Contains(data.Answer, "45.00") {
		t.Errorf("Answer = %q, want it to mention Transporte and 45.00", data.Answer)
	}
	if data.Median != 15 || data.Average != 15 {
		t.Errorf("median/average = %.2f/%.2f, want 15/15", data.Median, data.Average)
	}
	if data.Period.Start != "2026-03-01" || data.Period.End != "2026-03-31" {
		t.Errorf("Period = %+v, want current month", data.Period)
	}
	if res.Metadata.DataSource != "expenses" || res.Metadata.QueryParams["category"] != "transporte" {
		t.Errorf("Metadata = %+v", res.Metadata)
	}
}

func TestExpenses_BreakdownPercentages(t *testing.T) {
	e := &ExpensesExecutor{deps: newDeps(seededSource())}
	res := e.Execute(context.Background(), ctxFor("u1", `{}`))
	data := res.Data.(ExpensesData)

	if data.Total != 100 {
		t.Fatalf("Total = %.2f, want 100", data.Total)
	}
	if len(data.ByCategory) != 2 || data.ByCategory[0].Name != "Comida" || data.ByCategory[0].Percentage != "55.0" {
		t.Errorf("ByCategory = %+v, want Comida 55.0 first", data.ByCategory)
	}
	if data.ByCategory[1].Percentage != "45.0" {
		t.Errorf("Transporte percentage = %s, want 45.0", data.ByCategory[1].Percentage)
	}
}

func TestExpenses_IgnoresUserIDInParameters(t *testing.T) {
	e := &ExpensesExecutor{deps: newDeps(seededSource())}
	res := e.Execute(context.Background(), ctxFor("u1", `{"user_id":"u2"}`))
	if res.Success {
		t.Fatal("Execute() accepted an unknown user_id parameter")
	}
}

func TestExecutors_EmptyResults(t *testing.T) {
	src := finance.NewMemorySource()
	deps := newDeps(src)
	cases := []struct {
		name string
		exec Executor
		args string
	}{
		{"expenses", &ExpensesExecutor{deps: deps}, `{"category":"nothing"}`},
		{"incomes", &IncomesExecutor{deps: deps}, `{}`},
		{"savings", &SavingsExecutor{deps: deps}, `{}`},
		{"budgets", &BudgetsExecutor{deps: deps}, `{}`},
		{"loans", &LoansExecutor{deps: deps}, `{"status":"active"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := tc.exec.Execute(context.Background(), ctxFor("u1", tc.args))
			if !res.Success {
				t.Fatalf("Execute() error = %s", res.Error)
			}
			raw, _ := json.Marshal(res.Data)
			var payload struct {
				IsEmpty bool   `json:"isEmpty"`
				Count   int    `json:"count"`
				Summary string `json:"summary"`
			}
			json.Unmarshal(raw, &payload)
			if !payload.IsEmpty || payload.Count != 0 || payload.Summary == "" {
				t.Errorf("payload = %s, want isEmpty:true count:0 with summary", raw)
			}
		})
	}
}

func TestExecutors_StorageErrorIsResult(t *testing.T) {
	src := finance.NewMemorySource()
	src.Err = errors.New("connection refused")
	e := &IncomesExecutor{deps: newDeps(src)}

	res := e.Execute(context.Background(), ctxFor("u1", `{}`))
	if res.Success || !strings.Contains(res.Error, "connection refused") {
		t.Errorf("Execute() = %+v, want failure carrying the storage error", res)
	}
}

func TestExecutors_RejectMalformedParams(t *testing.T) {
	e := &ExpensesExecutor{deps: newDeps(seededSource())}
	for _, args := range []string{
		`{"start_date":"03/01/2026"}`,
		`{"start_date":"2026-03-10","end_date":"2026-03-01"}`,
		`{"min_amount":50,"max_amount":10}`,
		`{"limit":1000}`,
		`{"category":5}`,
		`[1,2]`,
	} {
		res := e.Execute(context.Background(), ctxFor("u1", args))
		if res.Success {
			t.Errorf("Execute(%s) succeeded, want validation failure", args)
		}
	}
}

func TestExecutors_MissingUser(t *testing.T) {
	e := &LoansExecutor{deps: newDeps(finance.NewMemorySource())}
	if res := e.Execute(context.Background(), ctxFor("", `{}`)); res.Success {
		t.Error("Execute() without user succeeded")
	}
}

func TestIncomes_Aggregates(t *testing.T) {
	src := finance.NewMemorySource()
	salary := &finance.Category{ID: 1, UserID: "u1", Name: "Salario"}
	src.AddIncomes(
		finance.Income{UserID: "u1", Amount: 1000, Date: day(1), Category: salary, Source: "ACME"},
		finance.Income{UserID: "u1", Amount: 200, Date: day(7), Source: "Freelance"},
		finance.Income{UserID: "u1", Amount: 300, Date: day(8), Source: "Freelance"},
	)
	e := &IncomesExecutor{deps: newDeps(src)}

	res := e.Execute(context.Background(), ctxFor("u1", `{"start_date":"2026-03-01","end_date":"2026-03-31"}`))
	data := res.Data.(IncomesData)
	if data.Count != 3 || data.Total != 1500 || data.Median != 300 {
		t.Errorf("got count=%d total=%v median=%v", data.Count, data.Total, data.Median)
	}
	if data.BySource[0].Name != "ACME" || data.BySource[0].Percentage != "66.7" {
		t.Errorf("BySource = %+v", data.BySource)
	}
}

func TestSavings_Progress(t *testing.T) {
	src := finance.NewMemorySource()
	deadline := testNow.AddDate(0, 0, 10)
	src.AddSavings(
		finance.Saving{UserID: "u1", Name: "Vacaciones", TargetAmount: 1000, CurrentAmount: 250, Deadline: &deadline},
		finance.Saving{UserID: "u1", Name: "Fondo", TargetAmount: 500, CurrentAmount: 500},
	)
	e := &SavingsExecutor{deps: newDeps(src)}

	res := e.Execute(context.Background(), ctxFor("u1", `{}`))
	data := res.Data.(SavingsData)
	if data.Count != 2 || data.Completed != 1 || data.OverallProgress != "50.0" {
		t.Errorf("got %+v", data)
	}
	if data.Items[0].Progress != "25.0" || data.Items[0].DaysLeft == nil || *data.Items[0].DaysLeft != 10 {
		t.Errorf("first item = %+v", data.Items[0])
	}

	res = e.Execute(context.Background(), ctxFor("u1", `{"status":"in_progress"}`))
	if d := res.Data.(SavingsData); d.Count != 1 || d.Items[0].Name != "Vacaciones" {
		t.Errorf("status filter = %+v", d)
	}
}

func TestBudgets_SpentAgainstLimit(t *testing.T) {
	src := seededSource()
	src.AddBudgets(
		finance.Budget{UserID: "u1", Name: "Movilidad", Amount: 50, CategoryID: uintPtr(1),
			Category: &finance.Category{ID: 1, Name: "Transporte"}, StartDate: day(1), EndDate: day(31)},
		finance.Budget{UserID: "u1", Name: "Super", Amount: 50, CategoryID: uintPtr(2),
			Category: &finance.Category{ID: 2, Name: "Comida"}, StartDate: day(1), EndDate: day(31)},
	)
	e := &BudgetsExecutor{deps: newDeps(src)}

	res := e.Execute(context.Background(), ctxFor("u1", `{}`))
	if !res.Success {
		t.Fatalf("Execute() error = %s", res.Error)
	}
	data := res.Data.(BudgetsData)
	if data.Count != 2 || data.Exceeded != 1 || data.Warning != 1 {
		t.Fatalf("got %+v", data)
	}
	byName := map[string]BudgetItem{}
	for _, it := range data.Items {
		byName[it.Name] = it
	}
	if it := byName["Movilidad"]; it.Spent != 45 || it.PercentUsed != "90.0" || it.Status != budgetWarning {
		t.Errorf("Movilidad = %+v", it)
	}
	if it := byName["Super"]; it.Spent != 55 || it.Status != budgetExceeded || it.Remaining != -5 {
		t.Errorf("Super = %+v", it)
	}
}

func TestLoans_Totals(t *testing.T) {
	src := finance.NewMemorySource()
	src.AddLoans(
		finance.Loan{UserID: "u1", Counterparty: "Banco", Type: "borrowed", Principal: 1000, OutstandingBalance: 600, Status: "active", StartDate: day(1)},
		finance.Loan{UserID: "u1", Counterparty: "Ana", Type: "lent", Principal: 200, OutstandingBalance: 0, Status: "paid", StartDate: day(2)},
	)
	e := &LoansExecutor{deps: newDeps(src)}

	res := e.Execute(context.Background(), ctxFor("u1", `{}`))
	data := res.Data.(LoansData)
	if data.Count != 2 || data.TotalOutstanding != 600 || data.Borrowed != 600 || data.Lent != 0 {
		t.Errorf("got %+v", data)
	}
	if data.Repaid != "50.0" {
		t.Errorf("Repaid = %s, want 50.0", data.Repaid)
	}

	res = e.Execute(context.Background(), ctxFor("u1", `{"type":"lent"}`))
	if d := res.Data.(LoansData); d.Count != 1 || d.Items[0].Counterparty != "Ana" {
		t.Errorf("type filter = %+v", d)
	}
}

func TestParseParams_UnknownTool(t *testing.T) {
	_, err := ParseParams("get_weather", nil, testNow)
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("ParseParams() error = %v, want ErrInvalidInput", err)
	}
}

func TestDateRange_OnlyStart(t *testing.T) {
	p, err := ParseParams(ToolExpenses, json.RawMessage(`{"start_date":"2026-01-10"}`), testNow)
	if err != nil {
		t.Fatalf("ParseParams() error = %v", err)
	}
	ep := p.(*ExpenseParams)
	if ep.StartDate != "2026-01-10" || ep.EndDate != "2026-03-15" {
		t.Errorf("range = %s..%s, want 2026-01-10..2026-03-15", ep.StartDate, ep.EndDate)
	}
}
