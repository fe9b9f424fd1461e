package filelock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run.lock")); err != nil {
		t.Errorf("lock file missing: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run.lock")); !os.IsNotExist(err) {
		t.Error("lock file remains after release")
	}

	// Double release is harmless.
	if err := lock.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestAcquireRefusedWhileHeld(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	// The holder is this live process, so a second acquire must fail.
	if _, err := Acquire(dir); !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestStaleLockIsReplaced(t *testing.T) {
	dir := t.TempDir()

	// A lock from a process that no longer exists.
	if err := os.WriteFile(filepath.Join(dir, "run.lock"), []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("stale lock not replaced: %v", err)
	}
	lock.Release()
}

func TestUnreadableOwnerTreatedAsStale(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "run.lock"), []byte("not a pid"), 0o644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("garbage lock not replaced: %v", err)
	}
	lock.Release()
}
