package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

type SavingItem struct {
	Name      string  `json:"name"`
	Target    float64 `json:"target"`
	Current   float64 `json:"current"`
	Remaining float64 `json:"remaining"`
	Progress  string  `json:"progress"`
	Completed bool    `json:"completed"`
	Deadline  string  `json:"deadline,omitempty"`
	DaysLeft  *int    `json:"daysLeft,omitempty"`
}

type SavingsData struct {
	IsEmpty         bool         `json:"isEmpty"`
	Count           int          `json:"count"`
	TotalSaved      float64      `json:"totalSaved"`
	TotalTarget     float64      `json:"totalTarget"`
	OverallProgress string       `json:"overallProgress"`
	Completed       int          `json:"completed"`
	Items           []SavingItem `json:"items,omitempty"`
	Summary         string       `json:"summary"`
}

// SavingsExecutor reports progress toward savings goals.
type SavingsExecutor struct {
	deps Deps
}

func (e *SavingsExecutor) Execute(ctx context.Context, ec models.ToolExecutionContext) models.ToolExecutionResult {
	now := e.deps.now()
	return run(ctx, ec, ToolSavings, "savings", now, func(ctx context.Context, userID string, p *SavingParams) (any, error) {
		return e.query(ctx, userID, p, now)
	})
}

func (e *SavingsExecutor) query(ctx context.Context, userID string, p *SavingParams, now time.Time) (any, error) {
	rows, err := e.deps.Source.Savings(ctx, userID)
	if err != nil {
		return nil, err
	}

	var (
		items          []SavingItem
		saved, target  float64
		completedCount int
	)
	for _, s := range rows {
		if s.UserID != userID || !matchText(s.Name, p.Name) || !p.match(s.CurrentAmount) {
			continue
		}
		completed := s.TargetAmount > 0 && s.CurrentAmount >= s.TargetAmount
		if (p.Status == "completed" && !completed) || (p.Status == "in_progress" && completed) {
			continue
		}

		remaining := s.TargetAmount - s.CurrentAmount
		if remaining < 0 {
			remaining = 0
		}
		item := SavingItem{
			Name:      s.Name,
			Target:    round2(s.TargetAmount),
			Current:   round2(s.CurrentAmount),
			Remaining: round2(remaining),
			Progress:  percent(s.CurrentAmount, s.TargetAmount),
			Completed: completed,
		}
		if s.Deadline != nil {
			item.Deadline = s.Deadline.Format(dateLayout)
			days := int(s.Deadline.Sub(now).Hours() / 24)
			item.DaysLeft = &days
		}
		if completed {
			completedCount++
		}
		saved += s.CurrentAmount
		target += s.TargetAmount
		items = append(items, item)
	}

	if len(items) == 0 {
		return SavingsData{
			IsEmpty:         true,
			OverallProgress: "0.0",
			Summary:         "No savings goals found.",
		}, nil
	}

	data := SavingsData{
		Count:           len(items),
		TotalSaved:      round2(saved),
		TotalTarget:     round2(target),
		OverallProgress: percent(saved, target),
		Completed:       completedCount,
		Items:           limitItems(items, p.Limit),
	}
	data.Summary = fmt.Sprintf("%d savings goals, %.2f saved of %.2f (%s%%), %d completed",
		data.Count, data.TotalSaved, data.TotalTarget, data.OverallProgress, data.Completed)
	return data, nil
}
