// Package fs holds the process-level run lock guarding .deepipe/var.
package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when another process holds the run lock
var ErrLocked = errors.New("another deepipe process holds the run lock")

// LockInfo is what the holder writes into the lock file
type LockInfo struct {
	PID        int
	AcquiredAt time.Time
}

// AcquireRunLock takes an exclusive, non-blocking lock on lockPath.
// The lock is tied to the open file, so a crashed holder never leaves a stale lock behind.
func AcquireRunLock(lockPath string) (release func() error, err error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("run lock: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("run lock: %w", err)
	}
	if err := flockTryExclusive(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			if info, ok := ReadLockInfo(lockPath); ok {
				return nil, fmt.Errorf("%w (pid %d since %s)", ErrLocked, info.PID, info.AcquiredAt.Format(time.RFC3339))
			}
		}
		return nil, fmt.Errorf("run lock %s: %w", lockPath, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
		_ = f.Sync()
	}

	// The file is never removed, so every holder locks the same inode.
	return func() error {
		truncErr := f.Truncate(0)
		unlockErr := flockUnlock(f)
		closeErr := f.Close()
		return errors.Join(truncErr, unlockErr, closeErr)
	}, nil
}

// ReadLockInfo parses the holder line of lockPath
func ReadLockInfo(lockPath string) (LockInfo, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return LockInfo{}, false
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return LockInfo{}, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return LockInfo{}, false
	}
	at, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return LockInfo{}, false
	}
	return LockInfo{PID: pid, AcquiredAt: at}, true
}
