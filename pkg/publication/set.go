package publication

import "time"

// FilterRetained keeps only records whose subcategory is HR01 or HR03 and
// normalizes each date to day resolution.
func FilterRetained(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if !r.Retained() {
			continue
		}
		r.Date = Day(r.Date)
		out = append(out, r)
	}
	return out
}

// Dedup drops every record whose ID was already seen. The first occurrence
// wins and relative order is preserved.
func Dedup(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// FilterRange returns the records dated within [from, to] inclusive.
func FilterRange(records []Record, from, to time.Time) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if InRange(r.Date, from, to) {
			out = append(out, r)
		}
	}
	return out
}

// Span returns the earliest and latest calendar days present. ok is false
// for an empty set.
func Span(records []Record) (start, end time.Time, ok bool) {
	for i, r := range records {
		d := Day(r.Date)
		if i == 0 || d.Before(start) {
			start = d
		}
		if i == 0 || d.After(end) {
			end = d
		}
	}
	return start, end, len(records) > 0
}
