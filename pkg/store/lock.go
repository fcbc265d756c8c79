package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eunmann/shab-cache/pkg/logging"
)

// ErrLockTimeout is returned when the advisory lock could not be acquired
// before the timeout elapsed. It means another process holds the lock.
var ErrLockTimeout = errors.New("lock timeout")

// LockPollInterval is how often a blocked WithLock retries acquisition.
const LockPollInterval = 100 * time.Millisecond

// WithLock runs fn while holding an exclusive cross-process advisory lock on
// lockPath. Acquisition polls every LockPollInterval until timeout, returning
// an error wrapping ErrLockTimeout if it never succeeds, or ctx.Err() if ctx
// ends first. The lock is released on every exit path from fn, including a
// panic; release failures are logged and otherwise ignored.
func WithLock(ctx context.Context, lockPath string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	if err := acquire(ctx, f, timeout); err != nil {
		return fmt.Errorf("acquire %s: %w", lockPath, err)
	}
	defer func() {
		if err := unlockFile(f); err != nil {
			log := logging.WithPhase("lock")
			log.Debug().Err(err).Str("path", lockPath).Msg("lock release failed")
		}
	}()

	return fn(ctx)
}

func acquire(ctx context.Context, f *os.File, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(LockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := tryLockFile(f)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w after %s", ErrLockTimeout, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
