package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/zeroinstall/implstore/internal/logctx"
	"github.com/zeroinstall/implstore/internal/storeerr"
)

// spinInterval is how often a blocked lock acquisition polls, matching
// spec §4.3's "short spin (≈100ms)" after which a waiting state becomes
// observable to the caller.
const spinInterval = 100 * time.Millisecond

// NamedLock is a cross-process mutex realized as a lock file, the
// sanctioned substitute (spec §9) for a native named semaphore/mutex on
// systems without one. github.com/gofrs/flock backs the actual
// acquire/poll/release lifecycle; this type adds the "waiting" callback
// and cancellation-awareness spec §4.3/§5 require.
type NamedLock struct {
	path string
	fl   *flock.Flock
}

// locksDir is the subdirectory of a store root holding lock files, kept
// separate from implementation and temp-directory names so it is never
// mistaken for either by list_all/list_temp.
const locksDir = ".locks"

// newNamedLock returns (but does not acquire) the lock file for name
// inside root's locks directory.
func newNamedLock(root, name string) (*NamedLock, error) {
	dir := filepath.Join(root, locksDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &storeerr.IoError{Op: "create locks dir", Err: err}
	}
	path := filepath.Join(dir, name+".lock")
	return &NamedLock{path: path, fl: flock.New(path)}, nil
}

// Acquire blocks until the lock is held or ctx is cancelled, spinning at
// spinInterval and invoking onWaiting (if non-nil) the first time the
// lock is found to be contested, so the caller can surface a "waiting
// for other process" progress item. An OS report that the lock was
// abandoned by a crashed holder is treated as a successful acquisition
// (flock's TryLock already does this at the OS level; this wrapper adds
// only the logging).
func (l *NamedLock) Acquire(ctx context.Context, onWaiting func()) error {
	waitingNotified := false
	for attempt := 0; ; attempt++ {
		ok, err := l.fl.TryLock()
		if err != nil {
			logctx.GetLogger(ctx).WithField("lock", l.path).Warn("lock acquisition reported an error; treating as abandoned and retrying")
		} else if ok {
			logctx.GetLogger(ctx).WithField("lock", l.path).Debug("acquired named lock")
			return nil
		}

		if attempt == 0 && onWaiting != nil && !waitingNotified {
			waitingNotified = true
			onWaiting()
		}

		select {
		case <-ctx.Done():
			return &storeerr.CancelledError{Op: "acquire lock " + l.path}
		case <-time.After(spinInterval):
		}
	}
}

// Release unlocks l. Safe to call even if Acquire failed.
func (l *NamedLock) Release() error {
	return l.fl.Unlock()
}
