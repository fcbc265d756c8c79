package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/shab-cache/pkg/publication"
)

// Column aliases accepted by the fallback decoder. The legacy names (rubric,
// subrubric, kanton, ...) are the layout written by the earlier
// dataframe-based tooling.
var fallbackColumns = map[string]string{
	"id":                  "id",
	"date":                "date",
	"title":               "title",
	"category":            "category",
	"rubric":              "category",
	"subcategory":         "subcategory",
	"subrubric":           "subcategory",
	"status":              "status",
	"publikations_status": "status",
	"primary_tenant_code": "primary_tenant_code",
	"primaryTenantCode":   "primary_tenant_code",
	"region":              "region",
	"kanton":              "region",
}

// readFallback decodes a flat Parquet file row by row, mapping columns by
// name instead of relying on an exact schema match.
func readFallback(path string) ([]publication.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	file, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	cols := make(map[int]string)
	for i, field := range file.Schema().Fields() {
		if name, ok := fallbackColumns[field.Name()]; ok {
			cols[i] = name
		}
	}
	if !hasColumn(cols, "id") || !hasColumn(cols, "date") {
		return nil, errors.New("parquet schema missing 'id' or 'date' column")
	}

	var records []publication.Record
	buf := make([]parquet.Row, 256)
	for _, rg := range file.RowGroups() {
		rows := rg.Rows()
		for {
			n, readErr := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				rec, convErr := rowToRecord(row, cols)
				if convErr != nil {
					rows.Close()
					return nil, convErr
				}
				records = append(records, rec)
			}
			if readErr != nil {
				rows.Close()
				if errors.Is(readErr, io.EOF) {
					break
				}
				return nil, fmt.Errorf("read parquet rows: %w", readErr)
			}
		}
	}
	return records, nil
}

func hasColumn(cols map[int]string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}

func rowToRecord(row parquet.Row, cols map[int]string) (publication.Record, error) {
	rec := publication.Record{
		Title:             publication.Sentinel,
		Category:          publication.Sentinel,
		Subcategory:       publication.Sentinel,
		Status:            publication.Sentinel,
		PrimaryTenantCode: publication.Sentinel,
		Region:            publication.Sentinel,
	}
	var haveDate bool

	for _, val := range row {
		name, ok := cols[val.Column()]
		if !ok || val.IsNull() {
			continue
		}
		switch name {
		case "id":
			rec.ID = val.String()
		case "date":
			d, err := valueToDay(val)
			if err != nil {
				return publication.Record{}, err
			}
			rec.Date = d
			haveDate = true
		case "title":
			rec.Title = val.String()
		case "category":
			rec.Category = val.String()
		case "subcategory":
			rec.Subcategory = val.String()
		case "status":
			rec.Status = val.String()
		case "primary_tenant_code":
			rec.PrimaryTenantCode = val.String()
		case "region":
			rec.Region = val.String()
		}
	}

	if !haveDate {
		return publication.Record{}, fmt.Errorf("row %q has no date", rec.ID)
	}
	return rec, nil
}

// valueToDay interprets a date cell. Integer timestamps carry no unit here,
// so the unit is inferred from magnitude; any real publication date falls
// well inside the ranges below.
func valueToDay(val parquet.Value) (time.Time, error) {
	switch val.Kind() {
	case parquet.Int32:
		// DATE: days since the epoch.
		return time.Unix(0, 0).UTC().AddDate(0, 0, int(val.Int32())), nil
	case parquet.Int64:
		v := val.Int64()
		var t time.Time
		switch {
		case v > 1e17 || v < -1e17:
			t = time.Unix(0, v)
		case v > 1e14 || v < -1e14:
			t = time.UnixMicro(v)
		case v > 1e11 || v < -1e11:
			t = time.UnixMilli(v)
		default:
			t = time.Unix(v, 0)
		}
		return publication.Day(t.UTC()), nil
	case parquet.ByteArray:
		s := val.String()
		if t, err := time.Parse(publication.DayLayout, s); err == nil {
			return t, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
		}
		return publication.Day(t), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported date encoding %v", val.Kind())
	}
}
