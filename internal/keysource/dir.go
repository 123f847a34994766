package keysource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/keithlinneman/keydir/internal/keyfile"
	"github.com/keithlinneman/keydir/internal/pathutil"
)

// Dir surfaces a local directory as a keyfile.Source. Only the top level
// is listed; subdirectories show up as directory entries and are skipped
// by the builder.
type Dir struct {
	path string
}

func NewDir(path string) *Dir { return &Dir{path: path} }

func (d *Dir) String() string { return "dir:" + d.path }

// List enumerates the directory. The configured path must be absolute
// and free of dot segments; both are validated before touching the
// filesystem so misconfiguration fails fast.
func (d *Dir) List(ctx context.Context) ([]keyfile.Entry, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	des, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", keyfile.ErrSourceUnavailable, d.path, err)
	}

	out := make([]keyfile.Entry, 0, len(des))
	for _, de := range des {
		out = append(out, &dirEntry{dir: d.path, name: de.Name(), isDir: de.IsDir()})
	}
	return out, nil
}

func (d *Dir) validate() error {
	if !filepath.IsAbs(d.path) {
		return fmt.Errorf("%w: %q", keyfile.ErrNotAbsolute, d.path)
	}
	if pathutil.HasDotSegments(filepath.ToSlash(d.path)) {
		return fmt.Errorf("%w: %q contains dot segments", keyfile.ErrNotAbsolute, d.path)
	}
	return nil
}

// Fingerprint hashes entry names, sizes, and modification times so the
// poll watcher can detect changes without reading file content. Content
// rewritten in place with an unchanged size and mtime is not detected;
// secret mounts swap symlinked directories atomically, which is.
func (d *Dir) Fingerprint(ctx context.Context) (string, error) {
	if err := d.validate(); err != nil {
		return "", err
	}

	des, err := os.ReadDir(d.path)
	if err != nil {
		return "", fmt.Errorf("%w: list %s: %w", keyfile.ErrSourceUnavailable, d.path, err)
	}

	h := sha256.New()
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			return "", fmt.Errorf("%w: stat %s: %w", keyfile.ErrSourceUnavailable, de.Name(), err)
		}
		fmt.Fprintf(h, "%s|%v|%d|%d\n", de.Name(), de.IsDir(), info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type dirEntry struct {
	dir   string
	name  string
	isDir bool
}

func (e *dirEntry) Name() string { return e.name }
func (e *dirEntry) IsDir() bool  { return e.isDir }

func (e *dirEntry) Open(ctx context.Context) (io.ReadCloser, error) {
	if e.isDir {
		return nil, fmt.Errorf("open %q: is a directory", e.name)
	}
	f, err := os.Open(filepath.Join(e.dir, e.name))
	if err != nil {
		return nil, err
	}
	return f, nil
}
