package keyfile

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable marks a source that is missing or cannot be
	// enumerated. Fatal at initial load unless Options.Optional is set.
	ErrSourceUnavailable = errors.New("keyfile: source unavailable")

	// ErrNotAbsolute marks a configured source path that is not
	// absolute. Surfaced before any enumeration is attempted.
	ErrNotAbsolute = errors.New("keyfile: source path must be absolute")
)

// EntryReadError reports a single entry whose content could not be read.
// A snapshot is all-or-nothing, so one of these fails the whole build.
type EntryReadError struct {
	Name string // raw entry name
	Key  string // normalized key the entry would have produced
	Err  error
}

func (e *EntryReadError) Error() string {
	return fmt.Sprintf("keyfile: read entry %q (key %q): %v", e.Name, e.Key, e.Err)
}

func (e *EntryReadError) Unwrap() error { return e.Err }
