//go:build unix || windows

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWithLockRunsFn(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "sub", "refresh.lock")

	called := false
	err := WithLock(context.Background(), lockPath, time.Second, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !called {
		t.Error("fn was not called")
	}
}

func TestWithLockPropagatesFnError(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "refresh.lock")
	boom := errors.New("boom")

	err := WithLock(context.Background(), lockPath, time.Second, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	// Released: a second acquisition succeeds immediately.
	if err := WithLock(context.Background(), lockPath, 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("lock not released after error: %v", err)
	}
}

func TestWithLockReleasedAfterPanic(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "refresh.lock")

	func() {
		defer func() { _ = recover() }()
		_ = WithLock(context.Background(), lockPath, time.Second, func(context.Context) error {
			panic("inside lock")
		})
	}()

	if err := WithLock(context.Background(), lockPath, 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("lock not released after panic: %v", err)
	}
}

func TestWithLockContention(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "refresh.lock")

	acquired := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	var firstErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = WithLock(context.Background(), lockPath, time.Second, func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()

	<-acquired
	start := time.Now()
	secondErr := WithLock(context.Background(), lockPath, time.Second, func(context.Context) error {
		t.Error("second holder must not run")
		return nil
	})
	waited := time.Since(start)
	close(release)
	wg.Wait()

	if firstErr != nil {
		t.Errorf("first holder: %v", firstErr)
	}
	if !errors.Is(secondErr, ErrLockTimeout) {
		t.Fatalf("second holder: expected ErrLockTimeout, got %v", secondErr)
	}
	if waited < time.Second {
		t.Errorf("timed out after %v, want >= 1s", waited)
	}
}

func TestWithLockContextCancel(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "refresh.lock")

	acquired := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = WithLock(context.Background(), lockPath, time.Second, func(context.Context) error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired
	defer func() {
		close(release)
		<-done
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := WithLock(ctx, lockPath, time.Minute, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if errors.Is(err, ErrLockTimeout) {
		t.Error("context cancellation must not be reported as lock timeout")
	}
}
