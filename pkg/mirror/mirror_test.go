package mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failKey string
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: map[string][]byte{}, types: map[string]string{}}
}

func (u *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	key := aws.ToString(in.Key)
	if key == u.failKey {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[aws.ToString(in.Bucket)+"/"+key] = body
	u.types[key] = aws.ToString(in.ContentType)
	return &manager.UploadOutput{Key: in.Key}, nil
}

func writeFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("content of "+n), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func TestSyncUploadsUnderPrefix(t *testing.T) {
	files := writeFiles(t, "aggregate.parquet", "shab_monthly.json", "status.json")
	up := newFakeUploader()
	m := New(up, Config{Bucket: "shab", Prefix: "dashboard/v1", Concurrency: 2})

	res, err := m.Sync(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Uploaded)
	keys := append([]string(nil), res.Keys...)
	sort.Strings(keys)
	assert.Equal(t, []string{
		"dashboard/v1/aggregate.parquet",
		"dashboard/v1/shab_monthly.json",
		"dashboard/v1/status.json",
	}, keys)
	assert.Equal(t, []byte("content of status.json"), up.objects["shab/dashboard/v1/status.json"])
	assert.Equal(t, "application/json", up.types["dashboard/v1/shab_monthly.json"])
	assert.Equal(t, "application/vnd.apache.parquet", up.types["dashboard/v1/aggregate.parquet"])
	assert.Positive(t, res.Bytes)
}

func TestSyncReturnsFirstFailure(t *testing.T) {
	files := writeFiles(t, "a.json", "b.json")
	up := newFakeUploader()
	up.failKey = "b.json"

	_, err := New(up, Config{Bucket: "shab"}).Sync(context.Background(), files)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestSyncMissingFile(t *testing.T) {
	_, err := New(newFakeUploader(), Config{Bucket: "shab"}).
		Sync(context.Background(), []string{filepath.Join(t.TempDir(), "gone.json")})
	require.Error(t, err)
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Bucket: "b"}.Enabled())
}
