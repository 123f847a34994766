package keysource

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/keithlinneman/keydir/internal/keyfile"
)

// FS adapts any fs.FS into a keyfile.Source. Handy for tests
// (fstest.MapFS) and for fs-backed remote stores.
type FS struct {
	fsys fs.FS
	desc string
}

// NewFS wraps fsys. desc describes the source in logs, e.g. "seed".
func NewFS(fsys fs.FS, desc string) *FS {
	if desc == "" {
		desc = "fs"
	}
	return &FS{fsys: fsys, desc: desc}
}

func (f *FS) String() string { return "fs:" + f.desc }

func (f *FS) List(ctx context.Context) ([]keyfile.Entry, error) {
	des, err := fs.ReadDir(f.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", keyfile.ErrSourceUnavailable, f.desc, err)
	}

	out := make([]keyfile.Entry, 0, len(des))
	for _, de := range des {
		out = append(out, &fsEntry{fsys: f.fsys, name: de.Name(), isDir: de.IsDir()})
	}
	return out, nil
}

type fsEntry struct {
	fsys  fs.FS
	name  string
	isDir bool
}

func (e *fsEntry) Name() string { return e.name }
func (e *fsEntry) IsDir() bool  { return e.isDir }

func (e *fsEntry) Open(ctx context.Context) (io.ReadCloser, error) {
	if e.isDir {
		return nil, fmt.Errorf("open %q: is a directory", e.name)
	}
	return e.fsys.Open(e.name)
}
