package keyfile

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Snapshot is an immutable mapping from hierarchical key to string value,
// representing one complete load cycle. Once built, its contents never
// change - a reload produces a new Snapshot rather than mutating the old
// one, so a reader that captured a reference keeps a consistent view for
// as long as it holds it.
type Snapshot struct {
	// keyed by lowercased key for case-insensitive lookup; pair keeps
	// the original case for enumeration
	entries map[string]pair
	keys    []string // original case, sorted

	source   string
	builtAt  time.Time
	checksum string
}

type pair struct {
	key   string
	value string
}

// newSnapshot seals a built key/value map into a Snapshot. The map is
// owned by the snapshot from here on; callers must not retain it.
func newSnapshot(source string, entries map[string]pair) *Snapshot {
	keys := make([]string, 0, len(entries))
	for _, p := range entries {
		keys = append(keys, p.key)
	}
	sort.Strings(keys)

	return &Snapshot{
		entries:  entries,
		keys:     keys,
		source:   source,
		builtAt:  time.Now().UTC(),
		checksum: checksumPairs(entries),
	}
}

// checksumPairs computes a deterministic SHA-256 over all pairs. Keys
// and values are length-framed so values containing separators or
// newlines cannot collide with other pair layouts.
func checksumPairs(entries map[string]pair) string {
	lower := make([]string, 0, len(entries))
	for k := range entries {
		lower = append(lower, k)
	}
	sort.Strings(lower)

	h := sha256.New()
	var frame [8]byte
	writeFramed := func(s string) {
		binary.BigEndian.PutUint64(frame[:], uint64(len(s)))
		h.Write(frame[:])
		h.Write([]byte(s))
	}
	for _, k := range lower {
		p := entries[k]
		writeFramed(p.key)
		writeFramed(p.value)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the value for a fully-qualified hierarchical key.
// Matching is case-insensitive; an empty file yields ("", true).
func (s *Snapshot) Lookup(key string) (string, bool) {
	p, ok := s.entries[strings.ToLower(key)]
	if !ok {
		return "", false
	}
	return p.value, true
}

// Len returns the number of keys in the snapshot.
func (s *Snapshot) Len() int { return len(s.entries) }

// Keys returns all keys in their original case, sorted. The returned
// slice is a copy.
func (s *Snapshot) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// All returns a copy of every (key, value) pair with original-case keys.
func (s *Snapshot) All() map[string]string {
	out := make(map[string]string, len(s.entries))
	for _, p := range s.entries {
		out[p.key] = p.value
	}
	return out
}

// Checksum is a deterministic digest of the snapshot contents, used for
// change detection, response headers, and metrics.
func (s *Snapshot) Checksum() string { return s.checksum }

// BuiltAt is the UTC time the snapshot was assembled.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Source describes where the snapshot was loaded from.
func (s *Snapshot) Source() string { return s.source }
