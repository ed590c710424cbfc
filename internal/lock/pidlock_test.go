package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	if l.Path() != filepath.Join(dir, FileName) {
		t.Fatalf("Path() = %q", l.Path())
	}
	pid, err := Holder(l.Path())
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("holder pid = %d, want %d", pid, os.Getpid())
	}
}

func TestAcquireTwiceFailsWithErrLocked(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	t.Cleanup(func() { _ = first.Release() })

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts.
	if _, err := Acquire(dir); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire error = %v, want ErrLocked", err)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	_ = again.Release()
}

func TestAcquireRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := AcquirePIDLock(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
