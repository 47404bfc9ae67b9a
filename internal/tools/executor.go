package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/internal/finance"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// Tool names offered to the model.
const (
	ToolExpenses = "get_expenses"
	ToolIncomes  = "get_incomes"
	ToolSavings  = "get_savings"
	ToolBudgets  = "get_budgets"
	ToolLoans    = "get_loans"
)

// Executor runs one tool. Implementations never panic or return errors past
// this boundary: every failure is a ToolExecutionResult with Success=false.
type Executor interface {
	Execute(ctx context.Context, ec models.ToolExecutionContext) models.ToolExecutionResult
}

// Deps are the collaborators shared by the financial executors.
type Deps struct {
	Source finance.Source
	Now    func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// run is the common executor envelope: strict param parsing, user scoping,
// timing and panic recovery around the query body.
func run[P Params](ctx context.Context, ec models.ToolExecutionContext, tool, dataSource string, now time.Time,
	body func(ctx context.Context, userID string, p P) (any, error)) (res models.ToolExecutionResult) {

	start := time.Now()
	res.Metadata.DataSource = dataSource
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("tool", tool).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Tool executor panicked")
			res = models.ToolExecutionResult{
				Success:  false,
				Error:    fmt.Sprintf("internal error while running %s", tool),
				Metadata: res.Metadata,
			}
		}
		res.Metadata.ExecutionTimeMs = time.Since(start).Milliseconds()
	}()

	if ec.UserID == "" {
		res.Error = "missing user identity"
		return res
	}

	parsed, err := ParseParams(tool, ec.Parameters, now)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	p, ok := parsed.(P)
	if !ok {
		res.Error = fmt.Sprintf("unexpected parameter type for %s", tool)
		return res
	}
	res.Metadata.QueryParams = p.queryParams()

	data, err := body(ctx, ec.UserID, p)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.Error = fmt.Sprintf("%s timed out", tool)
		} else {
			res.Error = fmt.Sprintf("failed to load %s: %v", dataSource, err)
		}
		log.Warn().Err(err).Str("tool", tool).Str("user_id", ec.UserID).Msg("Tool query failed")
		return res
	}

	res.Success = true
	res.Data = data
	return res
}

// Failure builds a failed result for callers outside the executors.
func Failure(dataSource, msg string) models.ToolExecutionResult {
	return models.ToolExecutionResult{
		Success:  false,
		Error:    msg,
		Metadata: models.ToolResultMeta{DataSource: dataSource},
	}
}

// RegisterFinancial registers the five financial tools on r.
func RegisterFinancial(r *Registry, deps Deps) {
	r.Register(ExpensesDefinition, &ExpensesExecutor{deps: deps})
	r.Register(IncomesDefinition, &IncomesExecutor{deps: deps})
	r.Register(SavingsDefinition, &SavingsExecutor{deps: deps})
	r.Register(BudgetsDefinition, &BudgetsExecutor{deps: deps})
	r.Register(LoansDefinition, &LoansExecutor{deps: deps})
}
