// Package mirror copies the published data files to an S3 bucket.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/eunmann/shab-cache/pkg/logging"
)

// Config selects the mirror target.
type Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string

	// Concurrency bounds parallel uploads. Default: 4.
	Concurrency int
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// Uploader is the subset of manager.Uploader used here.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Mirror uploads local files under a key prefix.
type Mirror struct {
	up          Uploader
	bucket      string
	prefix      string
	concurrency int
}

// Result summarizes a Sync call.
type Result struct {
	Uploaded int
	Bytes    int64
	Keys     []string
}

// New creates a Mirror.
func New(up Uploader, cfg Config) *Mirror {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Mirror{
		up:          up,
		bucket:      cfg.Bucket,
		prefix:      cfg.Prefix,
		concurrency: cfg.Concurrency,
	}
}

// Key returns the object key for a local file.
func (m *Mirror) Key(localPath string) string {
	return path.Join(m.prefix, filepath.Base(localPath))
}

// Sync uploads files concurrently. The first failure cancels the remaining
// uploads and is returned.
func (m *Mirror) Sync(ctx context.Context, files []string) (Result, error) {
	start := time.Now()
	keys := make([]string, len(files))
	var total atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for i, file := range files {
		g.Go(func() error {
			key := m.Key(file)
			n, err := m.upload(ctx, file, key)
			if err != nil {
				return fmt.Errorf("upload %s to s3://%s/%s: %w", file, m.bucket, key, err)
			}
			keys[i] = key
			total.Add(n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	logging.PhaseComplete(logging.WithPhase("mirror"), "mirror", time.Since(start)).
		Str("bucket", m.bucket).
		Int("files", len(files)).
		Bytes("bytes", total.Load()).
		Log("data files mirrored")

	return Result{Uploaded: len(files), Bytes: total.Load(), Keys: keys}, nil
}

func (m *Mirror) upload(ctx context.Context, localPath, key string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	_, err = m.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}
