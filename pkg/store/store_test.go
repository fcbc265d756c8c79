package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/shab-cache/pkg/publication"
)

func sampleRecords() []publication.Record {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return []publication.Record{
		{ID: "a", Date: d, Title: "Alpha AG", Category: "HR", Subcategory: "HR01", Status: "PUBLISHED", PrimaryTenantCode: "shab", Region: "ZH"},
		{ID: "b", Date: d.AddDate(0, 0, 1), Title: publication.Sentinel, Category: "HR", Subcategory: "HR03", Status: "PUBLISHED", PrimaryTenantCode: "shab", Region: publication.Sentinel},
	}
}

func TestWriteAtomicThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.parquet")
	want := sampleRecords()

	if err := WriteAtomic(path, want); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, found, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found {
		t.Fatal("Read reported not found")
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || !got[i].Date.Equal(want[i].Date) || got[i].Region != want[i].Region {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWriteAtomicEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	if err := WriteAtomic(path, nil); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, found, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found {
		t.Fatal("empty snapshot must still be found")
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestReadMissing(t *testing.T) {
	got, found, err := Read(filepath.Join(t.TempDir(), "missing.parquet"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found || got != nil {
		t.Errorf("missing file: found=%v records=%v", found, got)
	}
}

func TestReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.parquet")
	if err := os.WriteFile(path, []byte("definitely not parquet"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, found, err := Read(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if !found {
		t.Error("corrupt file should be reported as found")
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Error("Read must not delete a corrupt file")
	}
}

func TestReadWithRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.parquet")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := ReadWithRecovery(path, RecoveryFail); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("RecoveryFail: expected ErrCorrupt, got %v", err)
	}

	got, found, err := ReadWithRecovery(path, RecoveryRebuild)
	if err != nil {
		t.Fatalf("RecoveryRebuild: %v", err)
	}
	if found || got != nil {
		t.Errorf("RecoveryRebuild: found=%v records=%v, want absent", found, got)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("RecoveryRebuild should delete the corrupt file")
	}

	// A healthy file is untouched by either policy.
	good := filepath.Join(dir, "good.parquet")
	if err := WriteAtomic(good, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	recs, found, err := ReadWithRecovery(good, RecoveryRebuild)
	if err != nil || !found || len(recs) != 2 {
		t.Errorf("healthy file: recs=%d found=%v err=%v", len(recs), found, err)
	}
}

type legacyRow struct {
	ID         string `parquet:"id"`
	Date       int64  `parquet:"date"`
	Title      string `parquet:"title"`
	Rubric     string `parquet:"rubric"`
	Subrubric  string `parquet:"subrubric"`
	PubStatus  string `parquet:"publikations_status"`
	TenantCode string `parquet:"primaryTenantCode"`
	Kanton     string `parquet:"kanton"`
}

func TestReadFallsBackToLegacyColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.parquet")
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []legacyRow{
		{ID: "x1", Date: day.UnixNano(), Title: "Legacy AG", Rubric: "HR", Subrubric: "HR01", PubStatus: "PUBLISHED", TenantCode: "shab", Kanton: "BE"},
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	got, found, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !found || len(got) != 1 {
		t.Fatalf("found=%v len=%d", found, len(got))
	}
	r := got[0]
	if r.ID != "x1" || r.Region != "BE" || r.Subcategory != "HR01" || r.Status != "PUBLISHED" {
		t.Errorf("unexpected record %+v", r)
	}
	if !r.Date.Equal(day) {
		t.Errorf("Date = %v, want %v", r.Date, day)
	}
}

func TestInterruptedWriteLeavesDestinationReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aggregate.parquet")
	if err := WriteAtomic(path, sampleRecords()); err != nil {
		t.Fatal(err)
	}

	// A crash between temp write and rename leaves only a partial temp file.
	partial := filepath.Join(dir, ".aggregate.parquet.999.tmp")
	if err := os.WriteFile(partial, []byte("PAR1 truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, found, err := Read(path)
	if err != nil || !found {
		t.Fatalf("Read after interrupted write: found=%v err=%v", found, err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2 (previous content)", len(got))
	}
}

func TestLayout(t *testing.T) {
	l := Layout{Dir: t.TempDir()}
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	if filepath.Base(l.SnapshotPath(day)) != "shab-2024-03-01.parquet" {
		t.Errorf("SnapshotPath = %s", l.SnapshotPath(day))
	}
	if l.SnapshotExists(day) {
		t.Error("SnapshotExists true before write")
	}
	if err := WriteAtomic(l.SnapshotPath(day), nil); err != nil {
		t.Fatal(err)
	}
	if !l.SnapshotExists(day) {
		t.Error("SnapshotExists false after write")
	}
}

func TestParseRecoveryPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    RecoveryPolicy
		wantErr bool
	}{
		{"", RecoveryFail, false},
		{"fail", RecoveryFail, false},
		{"rebuild", RecoveryRebuild, false},
		{"delete", RecoveryFail, true},
	}
	for _, tt := range tests {
		got, err := ParseRecoveryPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRecoveryPolicy(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseRecoveryPolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
