// Package reconcile maintains the aggregate dataset for a requested date
// range by downloading only the days it does not yet cover.
//
// A run loads the aggregate, plans the gap days before and after its observed
// span, fetches them one at a time in ascending order, merges and
// deduplicates the result, persists it atomically and returns the rows inside
// the requested range. A day that fails is logged and skipped; it has no
// snapshot and is retried by a later run whose gap includes it.
//
// Reconcile does not take the advisory lock. Callers that may race with
// another process use ReconcileLocked, or hold store.WithLock themselves.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eunmann/shab-cache/internal/logctx"
	"github.com/eunmann/shab-cache/pkg/daily"
	"github.com/eunmann/shab-cache/pkg/logging"
	"github.com/eunmann/shab-cache/pkg/publication"
	"github.com/eunmann/shab-cache/pkg/store"
)

// DefaultLockTimeout bounds lock acquisition in ReconcileLocked.
const DefaultLockTimeout = 10 * time.Second

// DayFetcher fetches the records of one day.
type DayFetcher interface {
	Fetch(ctx context.Context, day time.Time) (daily.Result, error)
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	From, To   time.Time
	Planned    int
	Fetched    int
	Failed     []time.Time
	CachedDays int
	// AggregateRows is the size of the merged aggregate, persisted or not.
	AggregateRows int
	Persisted     bool
	Elapsed       time.Duration
}

// Result is the reconciled data for the requested range.
type Result struct {
	Records []publication.Record
	Summary Summary
}

// Reconciler runs range reconciliations against one data directory.
type Reconciler struct {
	layout      store.Layout
	fetcher     DayFetcher
	recovery    store.RecoveryPolicy
	lockTimeout time.Duration
	hooks       []func(Summary)
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRecoveryPolicy selects how a corrupt aggregate file is handled.
func WithRecoveryPolicy(p store.RecoveryPolicy) Option {
	return func(r *Reconciler) { r.recovery = p }
}

// WithLockTimeout overrides DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.lockTimeout = d }
}

// OnComplete registers fn to run after every successful reconciliation.
// Hooks run synchronously on the reconciling goroutine.
func OnComplete(fn func(Summary)) Option {
	return func(r *Reconciler) { r.hooks = append(r.hooks, fn) }
}

// New creates a Reconciler.
func New(layout store.Layout, fetcher DayFetcher, opts ...Option) *Reconciler {
	r := &Reconciler{
		layout:      layout,
		fetcher:     fetcher,
		recovery:    store.RecoveryFail,
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileLocked runs Reconcile while holding the data directory's advisory
// lock. A lock that cannot be taken in time fails with store.ErrLockTimeout.
func (r *Reconciler) ReconcileLocked(ctx context.Context, from, to time.Time, reporter logging.Reporter) (Result, error) {
	var res Result
	err := store.WithLock(ctx, r.layout.LockPath(), r.lockTimeout, func(ctx context.Context) error {
		var err error
		res, err = r.Reconcile(ctx, from, to, reporter)
		return err
	})
	return res, err
}

// Reconcile brings the aggregate up to date for [from, to] and returns the
// rows dated inside it. reporter may be nil; it is called after every
// fetched day with a 1-based index.
func (r *Reconciler) Reconcile(ctx context.Context, from, to time.Time, reporter logging.Reporter) (Result, error) {
	from, to = publication.Day(from), publication.Day(to)
	if to.Before(from) {
		return Result{}, fmt.Errorf("invalid range: %s after %s", publication.FormatDay(from), publication.FormatDay(to))
	}

	start := time.Now()
	runID := uuid.NewString()
	ctx = logctx.WithRunID(ctx, runID)
	ctx = logctx.WithPhase(ctx, "reconcile")
	log := logctx.FromContext(ctx)

	aggregate, found, err := store.ReadWithRecovery(r.layout.AggregatePath(), r.recovery)
	if err != nil {
		return Result{}, fmt.Errorf("read aggregate: %w", err)
	}

	plan := PlanDays(r.layout, from, to, aggregate)
	if plan.HasSpan {
		log.Info().
			Str("cached_start", publication.FormatDay(plan.SpanStart)).
			Str("cached_end", publication.FormatDay(plan.SpanEnd)).
			Int("cached_rows", len(aggregate)).
			Msg("aggregate loaded")
	} else if found {
		log.Info().Msg("aggregate is empty")
	}
	log.Info().
		Str("from", publication.FormatDay(from)).
		Str("to", publication.FormatDay(to)).
		Int("days_to_fetch", len(plan.Fetch)).
		Int("days_cached", len(plan.Cached)).
		Msg("reconciliation planned")

	sum := Summary{
		RunID:      runID,
		From:       from,
		To:         to,
		Planned:    len(plan.Fetch),
		CachedDays: len(plan.Cached),
	}

	merged := make([]publication.Record, 0, len(aggregate))
	merged = append(merged, aggregate...)
	merged = append(merged, r.readCached(ctx, plan.Cached)...)

	total := len(plan.Fetch)
	tracker := logging.NewProgressTracker("reconcile", int64(total), log)
	for i, day := range plan.Fetch {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("reconcile interrupted before %s: %w", publication.FormatDay(day), err)
		}

		dayStart := time.Now()
		res, err := r.fetcher.Fetch(ctx, day)
		msg := "Fetched " + publication.FormatDay(day)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Result{}, fmt.Errorf("reconcile interrupted at %s: %w", publication.FormatDay(day), err)
			}
			log.Error().Err(err).Str("day", publication.FormatDay(day)).Msg("day failed, skipping")
			tracker.RecordFailure()
			sum.Failed = append(sum.Failed, day)
			msg = "Failed " + publication.FormatDay(day)
		} else {
			tracker.RecordCompletion(time.Since(dayStart))
			sum.Fetched++
			merged = append(merged, res.Records...)
		}

		if reporter != nil {
			reporter.Report(i+1, total, msg)
		}
	}

	merged = publication.Dedup(merged)
	sum.AggregateRows = len(merged)

	if len(merged) > 0 {
		if err := store.WriteAtomic(r.layout.AggregatePath(), merged); err != nil {
			return Result{}, fmt.Errorf("persist aggregate: %w", err)
		}
		sum.Persisted = true
	} else {
		log.Warn().Msg("reconciled dataset is empty, aggregate not written")
	}

	out := publication.FilterRange(merged, from, to)
	sum.Elapsed = time.Since(start)

	logging.PhaseComplete(log, "reconcile", sum.Elapsed).
		ProgressFromTracker(tracker).
		Count("aggregate_rows", int64(sum.AggregateRows)).
		Count("returned_rows", int64(len(out))).
		Int("cached_days", sum.CachedDays).
		Bool("persisted", sum.Persisted).
		Log("reconciliation complete")

	for _, hook := range r.hooks {
		hook(sum)
	}
	return Result{Records: out, Summary: sum}, nil
}

// readCached merges gap days that were persisted by an earlier run but never
// folded into the aggregate. Unreadable snapshots are logged and skipped.
func (r *Reconciler) readCached(ctx context.Context, days []time.Time) []publication.Record {
	log := logctx.FromContext(ctx)
	var out []publication.Record
	for _, day := range days {
		records, found, err := store.ReadWithRecovery(r.layout.SnapshotPath(day), r.recovery)
		if err != nil {
			log.Error().Err(err).Str("day", publication.FormatDay(day)).Msg("cached snapshot unreadable, skipping")
			continue
		}
		if found {
			out = append(out, records...)
		}
	}
	return out
}
