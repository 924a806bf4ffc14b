/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dbsync

import (
	"encoding/json"
	"os"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// DefaultStaleThreshold is the age past which a lock held by a dead PID
// may be forcibly replaced (spec §4.5 default of 1800s).
const DefaultStaleThreshold = 30 * time.Minute

// SyncLock is a path-based advisory lock protecting the entire sync
// operation for one analytics store. It is single-host: staleness
// detection probes PIDs on the local process table, which is meaningless
// across hosts (see design notes on multi-host deployments).
type SyncLock struct {
	path           string
	staleThreshold time.Duration
	log            *zap.SugaredLogger
	flock          *flock.Flock
}

// LockHandle is returned by Acquire and passed to Release. It is
// opaque to callers beyond being a token proving ownership.
type LockHandle struct {
	holderID string
}

// NewSyncLock constructs a lock at path (spec: <state.dir>/sync.lock).
func NewSyncLock(path string, staleThreshold time.Duration, log *zap.SugaredLogger) *SyncLock {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	return &SyncLock{path: path, staleThreshold: staleThreshold, log: log, flock: flock.New(path)}
}

// Acquire attempts to take the lock within timeout. timeout=0 means a
// single non-blocking attempt (used by the scheduler's overlap guard).
// Returns ErrBusy if the lock is held by a live, non-stale holder.
func (l *SyncLock) Acquire(holderID string, timeout time.Duration) (*LockHandle, error) {
	deadline := time.Now().Add(timeout)
	for {
		// TryLock also reports success when this same instance already
		// holds the lock, so that case is checked separately.
		held := l.flock.Locked()
		locked, err := l.flock.TryLock()
		if err != nil {
			return nil, newError(ErrLockBusy, false, "acquiring flock on "+l.path, err)
		}
		if locked && !held {
			// A record left by a live or recent holder still counts as held.
			if rec, rerr := l.readRecord(); rerr == nil && (processAlive(rec.PID) || time.Since(rec.AcquiredAt) <= l.staleThreshold) {
				l.flock.Unlock() //nolint:errcheck
				locked = false
			}
		}
		if locked && !held {
			if err := l.writeRecord(holderID); err != nil {
				l.flock.Unlock() //nolint:errcheck
				return nil, err
			}
			return &LockHandle{holderID: holderID}, nil
		}

		if l.tryStealStale(holderID) {
			continue
		}

		if timeout <= 0 || time.Now().After(deadline) {
			return nil, ErrBusy
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// tryStealStale forcibly replaces the lock file if its holder's PID is not
// live on this host and its age exceeds staleThreshold. Returns true if it
// replaced the file (the caller should retry TryLock immediately).
func (l *SyncLock) tryStealStale(newHolderID string) bool {
	rec, err := l.readRecord()
	if err != nil {
		return false
	}
	if processAlive(rec.PID) {
		return false
	}
	if time.Since(rec.AcquiredAt) <= l.staleThreshold {
		return false
	}

	if l.log != nil {
		l.log.Warnw("replacing stale sync lock",
			"priorHolder", rec.HolderID, "priorPid", rec.PID, "age", time.Since(rec.AcquiredAt))
	}
	// Remove the stale record so the next TryLock can succeed cleanly.
	_ = os.Remove(l.path)
	return true
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually signaling the process.
	return proc.Signal(syscall.Signal(0)) == nil
}

func (l *SyncLock) writeRecord(holderID string) error {
	rec := LockRecord{HolderID: holderID, AcquiredAt: time.Now().UTC(), PID: os.Getpid()}
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return newError(ErrStateCorrupt, false, "marshaling lock record", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return newError(ErrStateCorrupt, false, "writing lock record", err)
	}
	return nil
}

func (l *SyncLock) readRecord() (*LockRecord, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Release drops the lock and removes the lock file. Idempotent.
func (l *SyncLock) Release(h *LockHandle) error {
	if h == nil {
		return nil
	}
	_ = os.Remove(l.path)
	return l.flock.Unlock()
}

// HeldInfo describes the current holder of a lock, if any.
type HeldInfo struct {
	Held     bool
	HolderID string
	Age      time.Duration
}

// IsHeld reports whether the lock is currently held, and by whom.
func (l *SyncLock) IsHeld() (HeldInfo, error) {
	rec, err := l.readRecord()
	if err != nil {
		if os.IsNotExist(err) {
			return HeldInfo{Held: false}, nil
		}
		return HeldInfo{}, newError(ErrStateCorrupt, false, "reading lock record", err)
	}
	return HeldInfo{Held: true, HolderID: rec.HolderID, Age: time.Since(rec.AcquiredAt)}, nil
}
