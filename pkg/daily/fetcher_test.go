package daily

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/eunmann/shab-cache/pkg/publication"
	"github.com/eunmann/shab-cache/pkg/registry"
	"github.com/eunmann/shab-cache/pkg/store"
)

// fakeSource serves canned pages per day and counts calls.
type fakeSource struct {
	mu    sync.Mutex
	pages map[string][][]publication.Entry
	errAt map[string]error // day|page -> error
	calls int
	// endless makes every page non-empty.
	endless bool
}

func (s *fakeSource) FetchPage(_ context.Context, day time.Time, page int) ([]publication.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	key := publication.FormatDay(day)
	if err, ok := s.errAt[fmt.Sprintf("%s|%d", key, page)]; ok {
		return nil, err
	}
	if s.endless {
		return []publication.Entry{entry(fmt.Sprintf("e%d", page), key, "HR01")}, nil
	}
	pages := s.pages[key]
	if page >= len(pages) {
		return nil, nil
	}
	return pages[page], nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func strp(s string) *string { return &s }

func entry(id, date, sub string) publication.Entry {
	return publication.Entry{
		ID:                strp(id),
		PublicationDate:   strp(date),
		Title:             strp("Firma " + id),
		Rubric:            strp("HR"),
		SubRubric:         strp(sub),
		PublicationState:  strp("PUBLISHED"),
		PrimaryTenantCode: strp("shab"),
		Cantons:           strp("ZH"),
	}
}

var march1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestFetchEmptyDayIsMemoized(t *testing.T) {
	layout := store.Layout{Dir: t.TempDir()}
	src := &fakeSource{}
	f := New(layout, src)

	res, err := f.Fetch(context.Background(), march1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Records) != 0 || res.FromCache || res.Stop != StopEmptyPage {
		t.Errorf("first fetch = %+v", res)
	}
	if !layout.SnapshotExists(march1) {
		t.Fatal("empty day must still write a snapshot")
	}
	if src.callCount() != 1 {
		t.Errorf("calls = %d, want 1", src.callCount())
	}

	res, err = f.Fetch(context.Background(), march1)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if !res.FromCache {
		t.Error("second fetch should be served from the snapshot")
	}
	if src.callCount() != 1 {
		t.Errorf("second fetch hit the network: calls = %d", src.callCount())
	}
}

func TestFetchKeepsOnlyRetainedSubcategories(t *testing.T) {
	layout := store.Layout{Dir: t.TempDir()}
	noSub := entry("x4", "2024-03-01", "")
	noSub.SubRubric = nil
	badDateDropped := entry("x5", "not a date", "HR02")
	src := &fakeSource{pages: map[string][][]publication.Entry{
		"2024-03-01": {
			{entry("x1", "2024-03-01", "HR01"), entry("x2", "2024-03-01", "HR02"), noSub},
			{entry("x3", "2024-03-01T09:15:00", "HR03"), badDateDropped, entry("x6", "2024-03-01", "HR04")},
		},
	}}

	res, err := New(layout, src).Fetch(context.Background(), march1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Pages != 2 || src.callCount() != 3 {
		t.Errorf("pages = %d calls = %d, want 2 and 3", res.Pages, src.callCount())
	}

	persisted, found, err := store.Read(layout.SnapshotPath(march1))
	if err != nil || !found {
		t.Fatalf("read snapshot: found=%v err=%v", found, err)
	}
	for _, set := range [][]publication.Record{res.Records, persisted} {
		if len(set) != 2 {
			t.Fatalf("len = %d, want 2", len(set))
		}
		for _, r := range set {
			if r.Subcategory != "HR01" && r.Subcategory != "HR03" {
				t.Errorf("unexpected subcategory %q", r.Subcategory)
			}
			if !r.Date.Equal(march1) {
				t.Errorf("date %v not normalized to the day", r.Date)
			}
		}
	}
}

func TestFetchSubstitutesSentinel(t *testing.T) {
	e := entry("s1", "2024-03-01", "HR01")
	e.Title = nil
	e.Cantons = nil
	src := &fakeSource{pages: map[string][][]publication.Entry{"2024-03-01": {{e}}}}

	res, err := New(store.Layout{Dir: t.TempDir()}, src).Fetch(context.Background(), march1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("len = %d", len(res.Records))
	}
	if r := res.Records[0]; r.Title != publication.Sentinel || r.Region != publication.Sentinel {
		t.Errorf("absent fields = %q/%q, want sentinel", r.Title, r.Region)
	}
}

func TestFetchStopsAtPageCap(t *testing.T) {
	layout := store.Layout{Dir: t.TempDir()}
	src := &fakeSource{endless: true}

	res, err := New(layout, src, WithMaxPages(3)).Fetch(context.Background(), march1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Stop != StopPageCap || res.Pages != 3 || src.callCount() != 3 {
		t.Errorf("stop=%s pages=%d calls=%d", res.Stop, res.Pages, src.callCount())
	}
	if !layout.SnapshotExists(march1) {
		t.Error("capped day should still be persisted")
	}
}

func TestFetchMalformedPageKeepsPartialDay(t *testing.T) {
	layout := store.Layout{Dir: t.TempDir()}
	src := &fakeSource{
		pages: map[string][][]publication.Entry{
			"2024-03-01": {{entry("p1", "2024-03-01", "HR01")}},
		},
		errAt: map[string]error{"2024-03-01|1": fmt.Errorf("page 1: %w", registry.ErrMalformed)},
	}

	res, err := New(layout, src).Fetch(context.Background(), march1)
	if err != nil {
		t.Fatalf("malformed page must not fail the day: %v", err)
	}
	if res.Stop != StopMalformed || len(res.Records) != 1 {
		t.Errorf("stop=%s records=%d", res.Stop, len(res.Records))
	}
	if !layout.SnapshotExists(march1) {
		t.Error("partial day should be persisted")
	}
}

func TestFetchNetworkErrorWritesNothing(t *testing.T) {
	layout := store.Layout{Dir: t.TempDir()}
	boom := errors.New("connection reset")
	src := &fakeSource{
		pages: map[string][][]publication.Entry{
			"2024-03-01": {{entry("n1", "2024-03-01", "HR01")}},
		},
		errAt: map[string]error{"2024-03-01|1": boom},
	}

	_, err := New(layout, src).Fetch(context.Background(), march1)
	if !errors.Is(err, boom) {
		t.Fatalf("expected network error, got %v", err)
	}
	if layout.SnapshotExists(march1) {
		t.Error("failed day must not be marked as fetched")
	}
}

func TestFetchBadDateOnRetainedEntryFailsDay(t *testing.T) {
	layout := store.Layout{Dir: t.TempDir()}
	src := &fakeSource{pages: map[string][][]publication.Entry{
		"2024-03-01": {{entry("d1", "01.03.2024", "HR03")}},
	}}

	_, err := New(layout, src).Fetch(context.Background(), march1)
	var pe *publication.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Field != "publicationDate" {
		t.Errorf("Field = %q", pe.Field)
	}
	if layout.SnapshotExists(march1) {
		t.Error("failed day must not be marked as fetched")
	}
}

func TestFetchCorruptSnapshot(t *testing.T) {
	layout := store.Layout{Dir: t.TempDir()}
	if err := writeGarbage(layout.SnapshotPath(march1)); err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{pages: map[string][][]publication.Entry{
		"2024-03-01": {{entry("c1", "2024-03-01", "HR01")}},
	}}

	if _, err := New(layout, src).Fetch(context.Background(), march1); !errors.Is(err, store.ErrCorrupt) {
		t.Fatalf("RecoveryFail: expected ErrCorrupt, got %v", err)
	}
	if src.callCount() != 0 {
		t.Error("corrupt snapshot under RecoveryFail must not trigger a download")
	}

	res, err := New(layout, src, WithRecoveryPolicy(store.RecoveryRebuild)).Fetch(context.Background(), march1)
	if err != nil {
		t.Fatalf("RecoveryRebuild: %v", err)
	}
	if res.FromCache || len(res.Records) != 1 {
		t.Errorf("rebuild result = %+v", res)
	}
}

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("not parquet at all"), 0o644)
}
