// Package refresh runs the full data refresh: it reconciles the rolling
// window under the data directory lock, exports the dashboard files, writes
// the status document and mirrors the published files to S3.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/eunmann/shab-cache/internal/config"
	"github.com/eunmann/shab-cache/pkg/daily"
	"github.com/eunmann/shab-cache/pkg/export"
	"github.com/eunmann/shab-cache/pkg/fileutil"
	"github.com/eunmann/shab-cache/pkg/logging"
	"github.com/eunmann/shab-cache/pkg/mirror"
	"github.com/eunmann/shab-cache/pkg/publication"
	"github.com/eunmann/shab-cache/pkg/reconcile"
	"github.com/eunmann/shab-cache/pkg/registry"
	"github.com/eunmann/shab-cache/pkg/status"
	"github.com/eunmann/shab-cache/pkg/store"
)

// ErrAlreadyRunning is returned by Run while another Run of the same
// Pipeline is in progress.
var ErrAlreadyRunning = errors.New("refresh already running")

// Outcome describes a finished refresh, successful or not.
type Outcome struct {
	Start, End time.Time
	Reconcile  reconcile.Summary
	Records    int
	Export     export.Result
	Mirror     mirror.Result
	// MirrorErr is set when the upload failed. The local refresh still
	// counts as successful.
	MirrorErr error
	Status    status.Document
	Elapsed   time.Duration
	Err       error
}

// Pipeline runs refreshes for one configuration.
type Pipeline struct {
	cfg      *config.Config
	source   daily.PageSource
	uploader mirror.Uploader
	now      func() time.Time
	progress *Progress
	running  atomic.Bool
	hooks    []func(Outcome)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPageSource replaces the registry client.
func WithPageSource(src daily.PageSource) Option {
	return func(p *Pipeline) { p.source = src }
}

// WithUploader replaces the S3 upload manager built from the config.
func WithUploader(up mirror.Uploader) Option {
	return func(p *Pipeline) { p.uploader = up }
}

// WithClock replaces time.Now. The window is derived from it.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// OnComplete registers fn to run after every Run that got past the
// already-running check.
func OnComplete(fn func(Outcome)) Option {
	return func(p *Pipeline) { p.hooks = append(p.hooks, fn) }
}

// New creates a Pipeline.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		now:      time.Now,
		progress: NewProgress(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.source == nil {
		p.source = registry.NewClient(cfg.RegistryConfig(), logging.WithPhase("registry"))
	}
	return p
}

// Running reports whether a Run is in progress.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Progress returns the live progress of the current or last run.
func (p *Pipeline) Progress() *Progress {
	return p.progress
}

// Run performs one refresh. A lock held by another process for longer than
// the configured timeout fails with store.ErrLockTimeout and leaves the
// status document alone; any other failure is recorded in it.
func (p *Pipeline) Run(ctx context.Context) (Outcome, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Outcome{}, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	started := p.now()
	p.progress.begin(started)

	start, end := Window(started, p.cfg.YearsBack)
	out := Outcome{Start: start, End: end}

	log := logging.WithPhase("refresh")
	log.Info().
		Str("start", publication.FormatDay(start)).
		Str("end", publication.FormatDay(end)).
		Msg("starting data refresh")

	err := store.WithLock(ctx, p.cfg.Layout().LockPath(), p.cfg.LockTimeout, func(ctx context.Context) error {
		err := p.run(ctx, &out)
		if err != nil {
			out.Status = p.writeFailure(err)
		}
		return err
	})

	finished := p.now()
	out.Elapsed = finished.Sub(started)
	out.Err = err
	switch {
	case errors.Is(err, store.ErrLockTimeout):
		log.Error().Err(err).Msg("could not acquire lock, another refresh may be running")
	case err != nil:
		log.Error().Err(err).Msg("refresh failed")
	default:
		logging.PhaseComplete(log, "refresh", out.Elapsed).
			Count("records", int64(out.Records)).
			Int("days_fetched", out.Reconcile.Fetched).
			Int("days_failed", len(out.Reconcile.Failed)).
			Log("refresh completed")
	}

	p.progress.finish(finished, err)
	for _, hook := range p.hooks {
		hook(out)
	}
	return out, err
}

func (p *Pipeline) run(ctx context.Context, out *Outcome) error {
	cfg := p.cfg
	layout := cfg.Layout()
	log := logging.WithPhase("refresh")

	for _, dir := range []string{layout.Dir, cfg.ExportDir, filepath.Dir(cfg.StatusFile)} {
		if err := fileutil.CleanupTmpFiles(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("tmp cleanup failed")
		}
	}

	fetcher := daily.New(layout, p.source,
		daily.WithMaxPages(cfg.API.MaxPages),
		daily.WithRecoveryPolicy(cfg.RecoveryPolicy()),
	)
	rec := reconcile.New(layout, fetcher, reconcile.WithRecoveryPolicy(cfg.RecoveryPolicy()))
	reporter := logging.MultiReporter{
		logging.LogReporter{Log: log, Every: 10},
		p.progress,
	}

	res, err := rec.Reconcile(ctx, out.Start, out.End, reporter)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	out.Reconcile = res.Summary
	out.Records = len(res.Records)

	exp, err := export.Write(cfg.ExportDir, res.Records)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	out.Export = exp

	names := make([]string, len(exp.Files))
	for i, f := range exp.Files {
		names[i] = filepath.Base(f)
	}
	doc := status.Success(p.now(), publication.FormatDay(out.Start), publication.FormatDay(out.End), out.Records, names)
	doc.FailedDays = len(res.Summary.Failed)
	if err := status.Write(cfg.StatusFile, doc); err != nil {
		return err
	}
	out.Status = doc

	if mc := cfg.MirrorConfig(); mc.Enabled() {
		out.Mirror, out.MirrorErr = p.mirror(ctx, mc, exp.Files)
		if out.MirrorErr != nil {
			log.Error().Err(out.MirrorErr).Str("bucket", mc.Bucket).Msg("mirror failed, local data is up to date")
		}
	}
	return nil
}

func (p *Pipeline) mirror(ctx context.Context, mc mirror.Config, exported []string) (mirror.Result, error) {
	up := p.uploader
	if up == nil {
		s3up, err := mirror.NewS3Uploader(ctx, mc)
		if err != nil {
			return mirror.Result{}, err
		}
		up = s3up
	}

	var files []string
	for _, f := range p.cfg.PublishedFiles(exported) {
		if fileutil.Exists(f) {
			files = append(files, f)
		}
	}
	return mirror.New(up, mc).Sync(ctx, files)
}

// writeFailure records err in the status document, keeping the data fields
// of the previous one.
func (p *Pipeline) writeFailure(err error) status.Document {
	log := logging.WithPhase("refresh")
	prev, _, readErr := status.Read(p.cfg.StatusFile)
	if readErr != nil {
		log.Warn().Err(readErr).Msg("previous status unreadable")
	}
	doc := status.Failure(p.now(), prev, err)
	if writeErr := status.Write(p.cfg.StatusFile, doc); writeErr != nil {
		log.Error().Err(writeErr).Msg("could not write failure status")
	}
	return doc
}
