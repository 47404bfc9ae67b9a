// Package analytics aggregates the per-tool conversation logs into the
// admin interaction report.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// DefaultRecent is the number of newest rows included in a report.
const DefaultRecent = 20

// LogReader reads conversation logs, newest first.
type LogReader interface {
	ListConversationLogs(ctx context.Context, filter store.LogFilter) ([]models.ConversationLog, error)
}

// Bucket aggregates interactions sharing one tool or model.
type Bucket struct {
	Name              string  `json:"name"`
	Count             int     `json:"count"`
	Failures          int     `json:"failures"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`

	totalMs int64
}

// Report is the interaction summary for a time window.
type Report struct {
	From              *time.Time               `json:"from,omitempty"`
	To                *time.Time               `json:"to,omitempty"`
	TotalInteractions int                      `json:"total_interactions"`
	Conversations     int                      `json:"conversations"`
	Users             int                      `json:"users"`
	SuccessRate       float64                  `json:"success_rate"`
	AvgResponseTimeMs float64                  `json:"avg_response_time_ms"`
	AvgIterations     float64                  `json:"avg_iterations"`
	ByTool            []Bucket                 `json:"by_tool"`
	ByModel           []Bucket                 `json:"by_model"`
	Recent            []models.ConversationLog `json:"recent"`
}

// Service builds reports.
type Service struct {
	logs   LogReader
	recent int
}

func NewService(logs LogReader) *Service {
	return &Service{logs: logs, recent: DefaultRecent}
}

// Summarize aggregates every log row created within [from, to]. Nil bounds
// are open.
func (s *Service) Summarize(ctx context.Context, from, to *time.Time) (*Report, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, fmt.Errorf("%w: 'to' is before 'from'", models.ErrInvalidInput)
	}

	rows, err := s.logs.ListConversationLogs(ctx, store.LogFilter{Since: from, Until: to})
	if err != nil {
		return nil, fmt.Errorf("list conversation logs: %w", err)
	}

	r := &Report{From: from, To: to, ByTool: []Bucket{}, ByModel: []Bucket{}, Recent: []models.ConversationLog{}}
	if len(rows) == 0 {
		return r, nil
	}

	tools := map[string]*Bucket{}
	modelsByName := map[string]*Bucket{}
	conversations := map[string]struct{}{}
	users := map[string]struct{}{}
	var ok, totalMs, totalIter int64

	for _, row := range rows {
		conversations[row.ConversationID] = struct{}{}
		users[row.UserID] = struct{}{}
		totalMs += row.ResponseTimeMs
		totalIter += int64(row.Iteration)
		if row.Success {
			ok++
		}
		add(tools, row.DetectedIntent, row)
		add(modelsByName, modelLabel(row), row)
	}

	n := float64(len(rows))
	r.TotalInteractions = len(rows)
	r.Conversations = len(conversations)
	r.Users = len(users)
	r.SuccessRate = round1(float64(ok) / n * 100)
	r.AvgResponseTimeMs = round1(float64(totalMs) / n)
	r.AvgIterations = round1(float64(totalIter) / n)
	r.ByTool = finish(tools)
	r.ByModel = finish(modelsByName)

	limit := s.recent
	if limit > len(rows) {
		limit = len(rows)
	}
	r.Recent = rows[:limit]
	return r, nil
}

func modelLabel(row models.ConversationLog) string {
	if row.ModelName != "" {
		return row.ModelName
	}
	return "unknown"
}

func add(buckets map[string]*Bucket, name string, row models.ConversationLog) {
	b, exists := buckets[name]
	if !exists {
		b = &Bucket{Name: name}
		buckets[name] = b
	}
	b.Count++
	b.totalMs += row.ResponseTimeMs
	if !row.Success {
		b.Failures++
	}
}

// finish computes rates and orders buckets by count descending, then name.
func finish(buckets map[string]*Bucket) []Bucket {
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		b.SuccessRate = round1(float64(b.Count-b.Failures) / float64(b.Count) * 100)
		b.AvgResponseTimeMs = round1(float64(b.totalMs) / float64(b.Count))
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
