package reconcile

import (
	"slices"
	"time"

	"github.com/eunmann/shab-cache/pkg/publication"
	"github.com/eunmann/shab-cache/pkg/store"
)

// Plan splits the requested days into those that must be downloaded and
// those whose snapshot already exists on disk.
type Plan struct {
	// Fetch lists the days to download, ascending.
	Fetch []time.Time
	// Cached lists gap days that already have a snapshot. Their records are
	// read locally and merged, but they are never downloaded again.
	Cached []time.Time
	// Span is the observed date span of the existing aggregate.
	SpanStart, SpanEnd time.Time
	HasSpan            bool
}

// PlanDays computes the gap days for [from, to] given the existing aggregate.
// Without an aggregate every requested day is a candidate. With one, only the
// days before its first and after its last date are; days inside the span are
// assumed covered even if an earlier run failed on them.
func PlanDays(layout store.Layout, from, to time.Time, aggregate []publication.Record) Plan {
	from, to = publication.Day(from), publication.Day(to)

	var p Plan
	var candidates []time.Time
	p.SpanStart, p.SpanEnd, p.HasSpan = publication.Span(aggregate)
	if !p.HasSpan {
		candidates = publication.DayRange(from, to)
	} else {
		if from.Before(p.SpanStart) {
			candidates = append(candidates, publication.DayRange(from, p.SpanStart.AddDate(0, 0, -1))...)
		}
		if to.After(p.SpanEnd) {
			candidates = append(candidates, publication.DayRange(p.SpanEnd.AddDate(0, 0, 1), to)...)
		}
	}

	for _, d := range candidates {
		if layout.SnapshotExists(d) {
			p.Cached = append(p.Cached, d)
		} else {
			p.Fetch = append(p.Fetch, d)
		}
	}
	sortDays(p.Fetch)
	sortDays(p.Cached)
	return p
}

func sortDays(days []time.Time) {
	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })
}
