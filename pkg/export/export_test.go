package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eunmann/shab-cache/pkg/publication"
)

func r(day, region, sub string) publication.Record {
	d, err := publication.ParseDay(day)
	if err != nil {
		panic(err)
	}
	return publication.Record{ID: day + region + sub, Date: d, Subcategory: sub, Region: region}
}

func find(rows []Row, month, geo, kanton, hr string) (Row, bool) {
	for _, row := range rows {
		k := ""
		if row.Kanton != nil {
			k = *row.Kanton
		}
		if row.Month == month && row.Geo == geo && k == kanton && row.HR == hr {
			return row, true
		}
	}
	return Row{}, false
}

func TestMonthly(t *testing.T) {
	records := []publication.Record{
		r("2024-03-01", "ZH", "HR01"),
		r("2024-03-15", "ZH", "HR01"),
		r("2024-03-20", " zh ", "HR03"),
		r("2024-03-02", "BE", "HR03"),
		r("2024-04-01", "BE", "HR01"),
		r("2024-04-02", publication.Sentinel, "HR01"), // no canton
		r("2024-04-03", "XX", "HR01"),                 // not a canton
	}

	rows := Monthly(records)

	tests := []struct {
		month, geo, kanton, hr string
		want                   int
	}{
		{"2024-03-01", GeoCanton, "ZH", "HR01", 2},
		{"2024-03-01", GeoCanton, "ZH", "HR03", 1},
		{"2024-03-01", GeoCanton, "ZH", MetricNet, 1},
		{"2024-03-01", GeoCanton, "BE", MetricNet, -1},
		{"2024-03-01", GeoSwiss, "", "HR01", 2},
		{"2024-03-01", GeoSwiss, "", "HR03", 2},
		{"2024-03-01", GeoSwiss, "", MetricNet, 0},
		{"2024-04-01", GeoSwiss, "", "HR01", 1},
		{"2024-04-01", GeoCanton, "BE", MetricNet, 1},
	}
	for _, tt := range tests {
		row, ok := find(rows, tt.month, tt.geo, tt.kanton, tt.hr)
		if !ok {
			t.Errorf("missing row %s/%s/%s/%s", tt.month, tt.geo, tt.kanton, tt.hr)
			continue
		}
		if row.Count != tt.want {
			t.Errorf("%s/%s/%s/%s = %d, want %d", tt.month, tt.geo, tt.kanton, tt.hr, row.Count, tt.want)
		}
	}

	if _, ok := find(rows, "2024-03-01", GeoCanton, "BE", "HR01"); ok {
		t.Error("absent subcategory should not produce a zero row, only NET")
	}
	for _, row := range rows {
		if row.Geo == GeoSwiss && row.Kanton != nil {
			t.Errorf("CH row has kanton %q", *row.Kanton)
		}
	}

	for i := 1; i < len(rows); i++ {
		a, b := rows[i-1], rows[i]
		if a.Month > b.Month || (a.Month == b.Month && a.Geo > b.Geo) {
			t.Fatalf("rows not sorted at %d: %+v then %+v", i, a, b)
		}
	}
}

func TestBuildDimensions(t *testing.T) {
	rows := Monthly([]publication.Record{
		r("2024-04-10", "GE", "HR01"),
		r("2024-03-10", "GE", "HR01"),
		r("2024-03-11", "VD", "HR03"),
	})
	dims := BuildDimensions(rows)

	if len(dims.Months) != 2 || dims.Months[0] != "2024-03-01" || dims.Months[1] != "2024-04-01" {
		t.Errorf("months = %v", dims.Months)
	}
	if len(dims.Cantons) != 26 {
		t.Errorf("cantons = %d, want 26", len(dims.Cantons))
	}
	if len(dims.Metrics) != 3 || dims.Measures[0] != "count" {
		t.Errorf("metrics=%v measures=%v", dims.Metrics, dims.Measures)
	}
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	res, err := Write(dir, []publication.Record{r("2024-03-01", "ZH", "HR01")})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Skipped || len(res.Files) != 2 {
		t.Fatalf("result = %+v", res)
	}

	raw, err := os.ReadFile(filepath.Join(dir, MonthlyFile))
	if err != nil {
		t.Fatal(err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		t.Fatalf("monthly file is not a JSON array: %v", err)
	}
	if len(rows) != res.Rows {
		t.Errorf("file has %d rows, result says %d", len(rows), res.Rows)
	}
	var sawNullKanton bool
	for _, row := range rows {
		if v, ok := row["kanton"]; ok && v == nil {
			sawNullKanton = true
		}
	}
	if !sawNullKanton {
		t.Error("national rows should serialize kanton as null")
	}

	raw, err = os.ReadFile(filepath.Join(dir, DimensionsFile))
	if err != nil {
		t.Fatal(err)
	}
	var dims Dimensions
	if err := json.Unmarshal(raw, &dims); err != nil {
		t.Fatal(err)
	}
	if len(dims.Months) != 1 || dims.Months[0] != "2024-03-01" {
		t.Errorf("months = %v", dims.Months)
	}
}

func TestWriteSkipsEmptyInput(t *testing.T) {
	dir := t.TempDir()
	res, err := Write(dir, nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !res.Skipped {
		t.Error("empty input should be skipped")
	}
	if _, err := os.Stat(filepath.Join(dir, MonthlyFile)); !os.IsNotExist(err) {
		t.Error("no file should be written for empty input")
	}
}

func TestMonthOf(t *testing.T) {
	got := monthOf(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	if got != "2024-02-01" {
		t.Errorf("monthOf = %s", got)
	}
}
