package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")

	lock, err := Acquire(dbPath, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(dbPath + ".lock"); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(dbPath + ".lock"); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed, stat err=%v", err)
	}
}

func TestAcquireEmptyPathIsNoOp(t *testing.T) {
	lock, err := Acquire("", nil)
	if err != nil {
		t.Fatalf("Acquire(\"\"): %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release on no-op lock: %v", err)
	}
}

func TestAcquireRejectsLiveHolder(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")

	first, err := Acquire(dbPath, nil)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	if _, err := Acquire(dbPath, nil); err == nil {
		t.Fatal("expected second Acquire to fail while this process holds the lock")
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	lockPath := dbPath + ".lock"

	// A PID that is vanishingly unlikely to be running.
	if err := os.WriteFile(lockPath, []byte("999999 2000-01-01T00:00:00Z\n"), 0o644); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	var warned bool
	lock, err := Acquire(dbPath, func(format string, args ...interface{}) { warned = true })
	if err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	defer lock.Release()

	if !warned {
		t.Error("expected a warning about reclaiming the stale lock")
	}
}
