// Package store persists publication records as Parquet snapshot files.
//
// Writes are atomic (temp file in the destination directory, then rename).
// Reads distinguish an absent file from a corrupt one: absence is reported as
// found=false, corruption as an error wrapping ErrCorrupt after a single
// low-level fallback decode has also failed.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/shab-cache/pkg/fileutil"
	"github.com/eunmann/shab-cache/pkg/logging"
	"github.com/eunmann/shab-cache/pkg/publication"
)

// ErrCorrupt marks a snapshot file that exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt snapshot file")

// Read loads the records stored at path. A missing file returns found=false
// and no error. A file that fails the typed decode is retried once with the
// column-by-name fallback decoder; if that fails too the error wraps
// ErrCorrupt. The store never invents an empty result for an existing file.
func Read(path string) (records []publication.Record, found bool, err error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}

	records, err = readTyped(path)
	if err == nil {
		return records, true, nil
	}

	log := logging.WithPhase("store")
	log.Warn().Err(err).Str("path", path).Msg("typed parquet read failed, trying fallback decoder")

	records, fallbackErr := readFallback(path)
	if fallbackErr != nil {
		log.Error().Err(fallbackErr).Str("path", path).Msg("fallback parquet read failed")
		return nil, true, fmt.Errorf("%w: %s: %v (fallback: %v)", ErrCorrupt, path, err, fallbackErr)
	}
	return records, true, nil
}

// ReadWithRecovery is Read with a caller-selected policy for corrupt files.
// Under RecoveryRebuild a corrupt file is deleted once and reported as
// absent so the caller rebuilds it; any other error is returned unchanged.
func ReadWithRecovery(path string, policy RecoveryPolicy) ([]publication.Record, bool, error) {
	records, found, err := Read(path)
	if err == nil || policy != RecoveryRebuild || !errors.Is(err, ErrCorrupt) {
		return records, found, err
	}

	log := logging.WithPhase("store")
	log.Warn().Err(err).Str("path", path).Msg("deleting corrupt file for rebuild")
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return nil, true, fmt.Errorf("remove corrupt %s: %w", path, rmErr)
	}
	return nil, false, nil
}

// WriteAtomic replaces path with records. Either the new file is fully in
// place afterwards or the previous content is untouched. Empty record sets
// produce a valid, schema-only file.
func WriteAtomic(path string, records []publication.Record) error {
	start := time.Now()

	err := fileutil.WriteAtomic(path, func(f *os.File) error {
		w := parquet.NewGenericWriter[publication.Record](f, parquet.Compression(&parquet.Zstd))
		if _, err := w.Write(records); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("close parquet writer: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	var size int64
	if info, statErr := os.Stat(path); statErr == nil {
		size = info.Size()
	}
	logging.FileCreated(logging.WithPhase("store"), "store", time.Since(start)).
		Str("path", path).
		Count("rows", int64(len(records))).
		Bytes("size", size).
		LogDebug("snapshot written")
	return nil
}

func readTyped(path string) ([]publication.Record, error) {
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
	if err := checkSchema(file.Schema()); err != nil {
		return nil, err
	}

	records, err := parquet.Read[publication.Record](f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	for i := range records {
		records[i].Date = publication.Day(records[i].Date.UTC())
	}
	return records, nil
}

var recordSchema = parquet.SchemaOf(publication.Record{})

// checkSchema rejects files lacking any Record column. The typed reader would
// otherwise zero-fill missing columns silently.
func checkSchema(schema *parquet.Schema) error {
	have := make(map[string]struct{}, len(schema.Fields()))
	for _, f := range schema.Fields() {
		have[f.Name()] = struct{}{}
	}
	for _, f := range recordSchema.Fields() {
		if _, ok := have[f.Name()]; !ok {
			return fmt.Errorf("schema mismatch: missing column %q", f.Name())
		}
	}
	return nil
}
