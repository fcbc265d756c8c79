// Package status reads and writes the refresh status document served to the
// dashboard.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/eunmann/shab-cache/pkg/fileutil"
)

const (
	StateSuccess = "success"
	StateError   = "error"
)

// Document is the content of status.json.
type Document struct {
	LastRefresh   time.Time `json:"last_refresh"`
	DataUpdatedAt time.Time `json:"data_updated_at,omitzero"`
	StartDate     string    `json:"start_date,omitempty"`
	EndDate       string    `json:"end_date,omitempty"`
	Records       int       `json:"records"`
	Status        string    `json:"status"`
	DataFiles     []string  `json:"data_files,omitempty"`
	DataVersion   int64     `json:"data_version,omitempty"`
	FailedDays    int       `json:"failed_days,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Success builds the document for a completed refresh.
func Success(now time.Time, start, end string, records int, files []string) Document {
	return Document{
		LastRefresh:   now,
		DataUpdatedAt: now,
		StartDate:     start,
		EndDate:       end,
		Records:       records,
		Status:        StateSuccess,
		DataFiles:     files,
		DataVersion:   now.Unix(),
	}
}

// Failure builds the document for a failed refresh. The data fields of prev
// are kept since the previous data files are still being served.
func Failure(now time.Time, prev Document, err error) Document {
	doc := prev
	doc.LastRefresh = now
	doc.Status = StateError
	doc.Error = err.Error()
	return doc
}

// Write replaces the document at path atomically.
func Write(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// Read loads the document at path. A missing file returns found=false.
func Read(path string) (doc Document, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, false, nil
		}
		return Document{}, false, fmt.Errorf("read status: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, true, fmt.Errorf("decode status %s: %w", path, err)
	}
	return doc, true, nil
}
