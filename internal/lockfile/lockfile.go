// Package lockfile implements the advisory PID lock described in
// SPEC_FULL.md §3 supplement 5: Streamer.Run and StateReset.Run take an
// advisory lock on the store's backing file so two runs against the same
// on-disk store don't race (spec §5's "shared resource policy"). The lock
// is advisory only — nothing stops a process from ignoring it.
package lockfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Lock is a held advisory lock. Release must be called to remove it.
type Lock struct {
	path string
	held bool
}

// Acquire takes the lock at "<dbPath>.lock". dbPath == "" (the in-memory
// "mem" store has no backing file) makes Acquire a no-op whose Release is
// also a no-op. A lock held by a process that is no longer running is
// reclaimed after logging a warning via the warn callback.
func Acquire(dbPath string, warn func(format string, args ...interface{})) (*Lock, error) {
	if dbPath == "" {
		return &Lock{}, nil
	}
	path := dbPath + ".lock"

	if err := tryCreate(path); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("lockfile: create %s: %w", path, err)
		}
		pid, staleErr := readPID(path)
		if staleErr == nil && processAlive(pid) {
			return nil, fmt.Errorf("lockfile: %s is held by running process %d", path, pid)
		}
		if warn != nil {
			warn("lockfile: reclaiming stale lock %s (pid %d not running)", path, pid)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("lockfile: remove stale lock %s: %w", path, err)
		}
		if err := tryCreate(path); err != nil {
			return nil, fmt.Errorf("lockfile: create %s after reclaim: %w", path, err)
		}
	}
	return &Lock{path: path, held: true}, nil
}

// Release removes the lock file. Safe to call on a no-op Lock.
func (l *Lock) Release() error {
	if l == nil || !l.held {
		return nil
	}
	l.held = false
	return os.Remove(l.path)
}

func tryCreate(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("lockfile: empty lock file %s", path)
	}
	return strconv.Atoi(fields[0])
}

// processAlive signals 0 to pid, which on Unix succeeds if the process
// exists and is owned by this user, without actually affecting it.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
