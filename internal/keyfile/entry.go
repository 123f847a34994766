package keyfile

import (
	"context"
	"io"
)

// Entry is one item returned when listing a Source: a file-like leaf or a
// directory. Directory entries never become keys and Open on them fails.
type Entry interface {
	// Name is the raw entry name before key normalization.
	Name() string

	// IsDir reports whether the entry is a directory-like container.
	IsDir() bool

	// Open returns the entry content for reading. It fails for
	// directory entries.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Source enumerates the top-level entries of a key-per-file location.
// The core never assumes a particular backing store - local filesystem,
// in-memory test double, mounted secret volume, or a remote parameter
// store all satisfy this surface.
//
// List must wrap "source missing or unreadable" conditions with
// [ErrSourceUnavailable] so the optional-source policy can recognize
// them. List must be safe to call concurrently.
type Source interface {
	List(ctx context.Context) ([]Entry, error)

	// String describes the source for logs and snapshot metadata,
	// e.g. "dir:/var/run/secrets".
	String() string
}
