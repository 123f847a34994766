package keyfile

import (
	"sync/atomic"

	"github.com/keithlinneman/keydir/internal/xerrors"
)

// Store holds the currently published Snapshot. Reads are lock-free and
// never observe a partially-built snapshot; publication is a single
// atomic pointer swap. Multiple independent stores may coexist in one
// process (tests rely on this), so nothing here is global.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore() *Store { return &Store{} }

// Current returns the latest published snapshot, or nil before the
// first publish. Never blocks; safe from any number of readers at any
// time, including while a reload is in progress.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish atomically replaces the visible snapshot. Readers holding a
// reference to the prior snapshot keep observing it consistently; the
// old snapshot becomes garbage once the last such reference is dropped.
func (s *Store) Publish(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.current.Store(snap)
}

// Lookup is a convenience read against the current snapshot.
func (s *Store) Lookup(key string) (string, bool) {
	snap := s.current.Load()
	if snap == nil {
		return "", false
	}
	return snap.Lookup(key)
}

// ReadyErr returns an error until a snapshot has been published.
// Wired into the readiness probe.
func (s *Store) ReadyErr() error {
	if s.current.Load() == nil {
		return xerrors.New("keyfile: no snapshot published")
	}
	return nil
}

// Checksum returns the current snapshot's checksum, or "" before the
// first publish. Implements the snapshot-headers middleware interface.
func (s *Store) Checksum() string {
	snap := s.current.Load()
	if snap == nil {
		return ""
	}
	return snap.Checksum()
}

// KeyCount returns the current snapshot's key count, or 0 before the
// first publish.
func (s *Store) KeyCount() int {
	snap := s.current.Load()
	if snap == nil {
		return 0
	}
	return snap.Len()
}
