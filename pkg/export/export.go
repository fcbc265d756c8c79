// Package export turns reconciled records into the monthly per-canton counts
// consumed by the dashboard.
package export

import (
	"cmp"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/eunmann/shab-cache/pkg/fileutil"
	"github.com/eunmann/shab-cache/pkg/logging"
	"github.com/eunmann/shab-cache/pkg/publication"
)

const (
	MonthlyFile    = "shab_monthly.json"
	DimensionsFile = "dimensions.json"

	GeoCanton = "KT"
	GeoSwiss  = "CH"

	MetricNet = "NET"
)

// Cantons lists the 26 canton codes, sorted.
var Cantons = []string{
	"AG", "AI", "AR", "BE", "BL", "BS", "FR", "GE", "GL", "GR",
	"JU", "LU", "NE", "NW", "OW", "SG", "SH", "SO", "SZ", "TG",
	"TI", "UR", "VD", "VS", "ZG", "ZH",
}

// Metrics are the values of Row.HR.
var Metrics = []string{publication.SubcategoryFoundation, publication.SubcategoryDeletion, MetricNet}

// Row is one monthly count. Kanton is nil for the national rows.
type Row struct {
	Month  string  `json:"month"`
	Geo    string  `json:"geo"`
	Kanton *string `json:"kanton"`
	HR     string  `json:"hr"`
	Count  int     `json:"count"`
}

// Dimensions describes the axes present in the monthly export.
type Dimensions struct {
	Metrics  []string `json:"metrics"`
	Measures []string `json:"measures"`
	Cantons  []string `json:"cantons"`
	Months   []string `json:"months"`
}

// Result describes a finished export.
type Result struct {
	Skipped bool
	Rows    int
	Months  int
	Files   []string
}

type groupKey struct {
	month  string
	geo    string
	kanton string
}

// Monthly counts retained records per month, canton and subcategory, plus a
// national total per month and subcategory. Every (month, geo, canton) group
// also gets a NET row of foundations minus deletions. Records without a valid
// canton code are left out of the national counts as well, so CH always equals
// the sum of its cantons.
func Monthly(records []publication.Record) []Row {
	valid := make(map[string]struct{}, len(Cantons))
	for _, c := range Cantons {
		valid[c] = struct{}{}
	}

	counts := make(map[groupKey]map[string]int)
	bump := func(k groupKey, hr string) {
		m, ok := counts[k]
		if !ok {
			m = make(map[string]int, 2)
			counts[k] = m
		}
		m[hr]++
	}

	for _, r := range records {
		if r.Date.IsZero() {
			continue
		}
		kanton := strings.ToUpper(strings.TrimSpace(r.Region))
		if _, ok := valid[kanton]; !ok {
			continue
		}
		hr := strings.ToUpper(r.Subcategory)
		if !publication.IsRetainedSubcategory(hr) {
			continue
		}
		month := monthOf(r.Date)
		bump(groupKey{month: month, geo: GeoCanton, kanton: kanton}, hr)
		bump(groupKey{month: month, geo: GeoSwiss}, hr)
	}

	rows := make([]Row, 0, len(counts)*3)
	for k, byHR := range counts {
		var kanton *string
		if k.geo == GeoCanton {
			kanton = &k.kanton
		}
		for _, hr := range []string{publication.SubcategoryFoundation, publication.SubcategoryDeletion} {
			if n, ok := byHR[hr]; ok {
				rows = append(rows, Row{Month: k.month, Geo: k.geo, Kanton: kanton, HR: hr, Count: n})
			}
		}
		net := byHR[publication.SubcategoryFoundation] - byHR[publication.SubcategoryDeletion]
		rows = append(rows, Row{Month: k.month, Geo: k.geo, Kanton: kanton, HR: MetricNet, Count: net})
	}

	slices.SortFunc(rows, func(a, b Row) int {
		return cmp.Or(
			cmp.Compare(a.Month, b.Month),
			cmp.Compare(a.Geo, b.Geo),
			cmp.Compare(deref(a.Kanton), deref(b.Kanton)),
			cmp.Compare(a.HR, b.HR),
		)
	})
	return rows
}

// BuildDimensions lists the metrics, cantons and months found in rows.
func BuildDimensions(rows []Row) Dimensions {
	var months []string
	for _, r := range rows {
		months = append(months, r.Month)
	}
	slices.Sort(months)
	months = slices.Compact(months)
	if months == nil {
		months = []string{}
	}

	return Dimensions{
		Metrics:  slices.Clone(Metrics),
		Measures: []string{"count"},
		Cantons:  slices.Clone(Cantons),
		Months:   months,
	}
}

// Write exports records into dir as MonthlyFile and DimensionsFile, each
// replaced atomically. An empty record set leaves dir untouched.
func Write(dir string, records []publication.Record) (Result, error) {
	log := logging.WithPhase("export")
	if len(records) == 0 {
		log.Warn().Msg("no records, skipping dashboard export")
		return Result{Skipped: true}, nil
	}

	start := time.Now()
	rows := Monthly(records)
	dims := BuildDimensions(rows)

	monthly, err := json.Marshal(rows)
	if err != nil {
		return Result{}, fmt.Errorf("encode monthly rows: %w", err)
	}
	dimensions, err := json.MarshalIndent(dims, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("encode dimensions: %w", err)
	}

	monthlyPath := filepath.Join(dir, MonthlyFile)
	if err := fileutil.WriteFileAtomic(monthlyPath, monthly); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", MonthlyFile, err)
	}
	dimsPath := filepath.Join(dir, DimensionsFile)
	if err := fileutil.WriteFileAtomic(dimsPath, dimensions); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", DimensionsFile, err)
	}

	logging.PhaseComplete(log, "export", time.Since(start)).
		Count("input_records", int64(len(records))).
		Count("rows", int64(len(rows))).
		Int("months", len(dims.Months)).
		Bytes("monthly_size", int64(len(monthly))).
		Log("dashboard data exported")

	return Result{
		Rows:   len(rows),
		Months: len(dims.Months),
		Files:  []string{monthlyPath, dimsPath},
	}, nil
}

func monthOf(t time.Time) string {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).Format(publication.DayLayout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
