package store

import (
	"path/filepath"
	"time"

	"github.com/eunmann/shab-cache/pkg/fileutil"
	"github.com/eunmann/shab-cache/pkg/publication"
)

// Layout names the files kept under a data directory.
type Layout struct {
	Dir string
}

// SnapshotPath is the per-day snapshot file for day.
func (l Layout) SnapshotPath(day time.Time) string {
	return filepath.Join(l.Dir, "shab-"+publication.FormatDay(day)+".parquet")
}

// SnapshotExists reports whether day has already been fetched and persisted.
func (l Layout) SnapshotExists(day time.Time) bool {
	return fileutil.Exists(l.SnapshotPath(day))
}

// AggregatePath is the merged, deduplicated dataset.
func (l Layout) AggregatePath() string {
	return filepath.Join(l.Dir, "aggregate.parquet")
}

// LockPath is the advisory lock sentinel guarding read-reconcile-write.
func (l Layout) LockPath() string {
	return filepath.Join(l.Dir, "refresh.lock")
}
