// Package lock provides a PID-file based instance lock so at most one
// controller per instrument identity ever mutates the durable state.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLockHeld is returned by Acquire when another live process holds the lock.
var ErrLockHeld = errors.New("instance lock held by a live process")

// InstanceLock is an exclusive PID lock file. A lock left behind by a dead
// process (stale PID) is taken over automatically.
type InstanceLock struct {
	path string
	held bool
}

// New creates an InstanceLock at path. The lock is not acquired yet.
func New(path string) *InstanceLock {
	return &InstanceLock{path: path}
}

// Acquire creates the lock file exclusively, writing this process's PID.
// If the file already exists and its PID is still alive, Acquire fails with
// ErrLockHeld; a stale lock is removed and acquisition retried once.
func (l *InstanceLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	if err := l.tryCreate(); err == nil {
		l.held = true
		return nil
	} else if !errors.Is(err, os.ErrExist) {
		return err
	}

	pid := l.readPID()
	if pid > 0 && pidAlive(pid) {
		return fmt.Errorf("%w: pid %d (%s)", ErrLockHeld, pid, l.path)
	}

	// Stale lock: owner is gone. Remove and retry once; losing the retry
	// race to another starter is a genuine conflict.
	_ = os.Remove(l.path)
	if err := l.tryCreate(); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: another process won the takeover race", ErrLockHeld)
		}
		return err
	}
	l.held = true
	return nil
}

// Release removes the lock file if this process acquired it.
func (l *InstanceLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// HolderPID returns the PID recorded in the lock file, or 0 when absent.
func (l *InstanceLock) HolderPID() int {
	return l.readPID()
}

func (l *InstanceLock) tryCreate() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		return err
	}
	return f.Sync()
}

func (l *InstanceLock) readPID() int {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// pidAlive checks process existence with signal 0. A permission error still
// means the process exists.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
