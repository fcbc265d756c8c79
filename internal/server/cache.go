package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/eunmann/shab-cache/pkg/logging"
	"github.com/eunmann/shab-cache/pkg/publication"
	"github.com/eunmann/shab-cache/pkg/store"
)

// Dataset is the aggregate as served.
type Dataset struct {
	Records  []publication.Record
	LoadedAt time.Time
	// Degraded is set when the last reload failed and Records are stale.
	Degraded bool
	Err      error
}

// DatasetCache holds the aggregate in memory. It loads lazily, reloads when
// the file on disk changes or after Invalidate, and keeps serving the last
// good copy when a reload fails.
type DatasetCache struct {
	path string

	mu       sync.Mutex
	records  []publication.Record
	loaded   bool
	modTime  time.Time
	loadedAt time.Time
	stale    bool
	lastErr  error
}

// NewDatasetCache creates a cache for the aggregate file at path.
func NewDatasetCache(path string) *DatasetCache {
	return &DatasetCache{path: path}
}

// Invalidate forces a reload on the next Get.
func (c *DatasetCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}

// Get returns the current dataset. It fails only when nothing has ever been
// loaded and loading fails.
func (c *DatasetCache) Get() (Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	modTime, statErr := c.stat()
	if c.loaded && !c.stale && statErr == nil && modTime.Equal(c.modTime) {
		return c.dataset(), nil
	}

	records, _, err := store.Read(c.path)
	if err == nil {
		err = statErr
	}
	if err != nil {
		c.lastErr = err
		log := logging.WithPhase("serve")
		log.Error().Err(err).Str("path", c.path).Msg("aggregate reload failed")
		if !c.loaded {
			return Dataset{}, fmt.Errorf("load dataset: %w", err)
		}
		return c.dataset(), nil
	}

	c.records = records
	c.loaded = true
	c.stale = false
	c.modTime = modTime
	c.loadedAt = time.Now()
	c.lastErr = nil
	return c.dataset(), nil
}

func (c *DatasetCache) dataset() Dataset {
	return Dataset{
		Records:  c.records,
		LoadedAt: c.loadedAt,
		Degraded: c.lastErr != nil,
		Err:      c.lastErr,
	}
}

// stat returns the file's modification time; a missing file has the zero time.
func (c *DatasetCache) stat() (time.Time, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
