// Package daily produces the retained publication records for one calendar
// day, from its snapshot file when one exists and from the registry otherwise.
package daily

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/shab-cache/internal/logctx"
	"github.com/eunmann/shab-cache/pkg/logging"
	"github.com/eunmann/shab-cache/pkg/publication"
	"github.com/eunmann/shab-cache/pkg/registry"
	"github.com/eunmann/shab-cache/pkg/store"
)

// DefaultMaxPages caps paging for a single day.
const DefaultMaxPages = 100

// PageSource returns one page of raw entries for a day. An empty page ends
// the day.
type PageSource interface {
	FetchPage(ctx context.Context, day time.Time, page int) ([]publication.Entry, error)
}

// StopReason says why paging for a day ended.
type StopReason string

const (
	StopCached    StopReason = "cached"
	StopEmptyPage StopReason = "empty_page"
	StopPageCap   StopReason = "page_cap"
	// StopMalformed means a page did not parse. Records from earlier pages
	// were kept and the day was persisted anyway.
	StopMalformed StopReason = "malformed"
)

// Result is the outcome of fetching one day.
type Result struct {
	Day       time.Time
	Records   []publication.Record
	FromCache bool
	Pages     int
	Stop      StopReason
}

// Fetcher fetches and memoizes single days.
type Fetcher struct {
	layout   store.Layout
	source   PageSource
	maxPages int
	defaults publication.Defaults
	recovery store.RecoveryPolicy
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxPages overrides DefaultMaxPages.
func WithMaxPages(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxPages = n
		}
	}
}

// WithDefaults overrides the values substituted for absent entry fields.
func WithDefaults(d publication.Defaults) Option {
	return func(f *Fetcher) { f.defaults = d }
}

// WithRecoveryPolicy selects how a corrupt snapshot file is handled.
func WithRecoveryPolicy(p store.RecoveryPolicy) Option {
	return func(f *Fetcher) { f.recovery = p }
}

// New creates a Fetcher storing snapshots under layout.
func New(layout store.Layout, source PageSource, opts ...Option) *Fetcher {
	f := &Fetcher{
		layout:   layout,
		source:   source,
		maxPages: DefaultMaxPages,
		defaults: publication.DefaultValues,
		recovery: store.RecoveryFail,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Layout returns the snapshot layout the Fetcher writes to.
func (f *Fetcher) Layout() store.Layout {
	return f.layout
}

// Fetch returns the retained records for day. An existing snapshot is
// returned as is and the registry is not contacted. Otherwise the day is
// paged from the registry and persisted, even when it has no records, so it
// is never fetched again. A network or record-conversion failure returns an
// error and writes nothing.
func (f *Fetcher) Fetch(ctx context.Context, day time.Time) (Result, error) {
	day = publication.Day(day)
	ctx = logctx.WithDay(ctx, day)
	log := logctx.FromContext(ctx)
	path := f.layout.SnapshotPath(day)

	records, found, err := store.ReadWithRecovery(path, f.recovery)
	if err != nil {
		return Result{}, fmt.Errorf("read snapshot %s: %w", publication.FormatDay(day), err)
	}
	if found {
		log.Debug().Int("records", len(records)).Msg("using cached snapshot")
		return Result{Day: day, Records: records, FromCache: true, Stop: StopCached}, nil
	}

	start := time.Now()
	log.Info().Msg("downloading day")

	var (
		entries []publication.Entry
		pages   int
		stop    = StopPageCap
	)
	for page := 0; page < f.maxPages; page++ {
		batch, err := f.source.FetchPage(ctx, day, page)
		if err != nil {
			if errors.Is(err, registry.ErrMalformed) {
				log.Error().Err(err).Int("page", page).Msg("unparseable page, keeping what was fetched")
				stop = StopMalformed
				break
			}
			return Result{}, fmt.Errorf("fetch %s page %d: %w", publication.FormatDay(day), page, err)
		}
		if len(batch) == 0 {
			stop = StopEmptyPage
			break
		}
		pages++
		entries = append(entries, batch...)
	}
	if stop == StopPageCap {
		log.Warn().Int("max_pages", f.maxPages).Msg("page cap reached, treating day as complete")
	}

	records, err = f.convert(entries)
	if err != nil {
		return Result{}, fmt.Errorf("convert %s: %w", publication.FormatDay(day), err)
	}

	if err := store.WriteAtomic(path, records); err != nil {
		return Result{}, fmt.Errorf("persist snapshot %s: %w", publication.FormatDay(day), err)
	}

	logging.DayFetched(log, "fetch", time.Since(start)).
		Str("day", publication.FormatDay(day)).
		Int("pages", pages).
		Int("entries", len(entries)).
		Count("records", int64(len(records))).
		Str("stop", string(stop)).
		Log("day fetched")

	return Result{Day: day, Records: records, Pages: pages, Stop: stop}, nil
}

// convert keeps entries with a retained subcategory and builds their
// records. Discarded entries are never converted, so a bad date on an entry
// we drop anyway cannot fail the day.
func (f *Fetcher) convert(entries []publication.Entry) ([]publication.Record, error) {
	records := make([]publication.Record, 0, len(entries))
	for _, e := range entries {
		if e.SubRubric == nil || !publication.IsRetainedSubcategory(*e.SubRubric) {
			continue
		}
		rec, err := publication.NewRecord(e, f.defaults)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return publication.FilterRetained(records), nil
}
