package tools

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// percent renders part/total as a one-decimal string, "0.0" when total is 0.
func percent(part, total float64) string {
	if total == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", part/total*100)
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// matchText is a case-insensitive containment check; an empty needle matches.
func matchText(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// Breakdown is one group of a per-category (or per-source) split.
type Breakdown struct {
	Name       string  `json:"name"`
	Total      float64 `json:"total"`
	Count      int     `json:"count"`
	Percentage string  `json:"percentage"`
}

// breakdown groups amounts by key, sorted by total descending.
type breakdown struct {
	order  []string
	totals map[string]float64
	counts map[string]int
}

func newBreakdown() *breakdown {
	return &breakdown{totals: make(map[string]float64), counts: make(map[string]int)}
}

func (b *breakdown) add(key string, amount float64) {
	if _, ok := b.totals[key]; !ok {
		b.order = append(b.order, key)
	}
	b.totals[key] += amount
	b.counts[key]++
}

func (b *breakdown) rows(grandTotal float64) []Breakdown {
	out := make([]Breakdown, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, Breakdown{
			Name:       k,
			Total:      round2(b.totals[k]),
			Count:      b.counts[k],
			Percentage: percent(b.totals[k], grandTotal),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

// Period echoes the resolved date range back to the model.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func limitItems[T any](items []T, limit int) []T {
	if limit <= 0 {
		limit = defaultItemLimit
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

// defaultItemLimit bounds the item list returned to the model when no limit
// is given; aggregates always cover every match.
const defaultItemLimit = 20
