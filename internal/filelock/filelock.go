// Package filelock implements the OS-level advisory lock of spec §4.1: a
// sidecar "<db>.db-lock" file, non-blocking acquisition, and the
// None⊑Shared⊑Exclusive lock lattice with upgrade-from-Shared support.
//
// Grounded on the pack's flock usage in other_examples (bbolt's db.go and
// sidb's db.go both call syscall.Flock(fd, LOCK_EX|LOCK_NB) /
// LOCK_SH|LOCK_NB / LOCK_UN around their main database file); here the
// same primitive is pointed at a dedicated lock file per spec §6.3 rather
// than the database file itself, so a reader never blocks file I/O on the
// lock call.
package filelock

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
)

// Mode is a point in the None⊑Shared⊑Exclusive lattice (spec §4.1).
type Mode int

const (
	None Mode = iota
	Shared
	Exclusive
)

// Lock holds a non-blocking advisory lock on a sidecar file.
type Lock struct {
	path string
	f    *os.File
	mode Mode
}

// PathFor derives the sidecar lock-file path by replacing the database
// file's extension with "db-lock" (spec §6.3).
func PathFor(dbPath string) string {
	if i := strings.LastIndexByte(dbPath, '.'); i >= 0 {
		return dbPath[:i] + ".db-lock"
	}
	return dbPath + ".db-lock"
}

// Open creates (if needed) the sidecar lock file without acquiring any
// lock on it. The file is zero-length and used only as a lock target.
func Open(dbPath string) (*Lock, error) {
	return OpenWithPath(PathFor(dbPath))
}

// OpenWithPath is like Open but takes the lock file's path directly,
// bypassing PathFor's derivation from the database path — wired from
// dsqlconfig's lock_path override (spec §6.3).
func OpenWithPath(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dsqlerr.E(dsqlerr.KindLock, "open lock file", err)
	}
	return &Lock{path: path, f: f}, nil
}

// Mode returns the lock's current mode.
func (l *Lock) Mode() Mode { return l.mode }

// LockShared acquires (or confirms) a shared lock, non-blocking.
func (l *Lock) LockShared() error {
	if l.mode == Shared || l.mode == Exclusive {
		return nil
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return dsqlerr.E(dsqlerr.KindLock, "acquire shared lock", err)
	}
	l.mode = Shared
	return nil
}

// LockExclusive acquires an exclusive lock, non-blocking. From Shared this
// is an upgrade: release shared, reacquire exclusive; on failure the
// shared lock is reacquired and the call fails (spec §4.1).
func (l *Lock) LockExclusive() error {
	if l.mode == Exclusive {
		return nil
	}
	wasShared := l.mode == Shared
	if wasShared {
		if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
			return dsqlerr.E(dsqlerr.KindLock, "release shared lock for upgrade", err)
		}
		l.mode = None
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if wasShared {
			// Best-effort reacquire of the shared lock we held before.
			_ = unix.Flock(int(l.f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
			l.mode = Shared
		}
		return dsqlerr.E(dsqlerr.KindLock, "acquire exclusive lock", err)
	}
	l.mode = Exclusive
	return nil
}

// Unlock releases any held lock, returning to None.
func (l *Lock) Unlock() error {
	if l.mode == None {
		return nil
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		return dsqlerr.E(dsqlerr.KindLock, "unlock", err)
	}
	l.mode = None
	return nil
}

// Close unlocks (if held) and closes the sidecar file descriptor.
func (l *Lock) Close() error {
	_ = l.Unlock()
	return l.f.Close()
}
