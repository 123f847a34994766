package keyfile

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// fakeEntry and fakeSource are in-memory test doubles for the Source
// capability surface.

type fakeEntry struct {
	name    string
	dir     bool
	content string
	openErr error
	readErr error
}

func (e fakeEntry) Name() string { return e.name }
func (e fakeEntry) IsDir() bool  { return e.dir }

func (e fakeEntry) Open(context.Context) (io.ReadCloser, error) {
	if e.dir {
		return nil, fmt.Errorf("open %q: is a directory", e.name)
	}
	if e.openErr != nil {
		return nil, e.openErr
	}
	if e.readErr != nil {
		return io.NopCloser(&failingReader{err: e.readErr}), nil
	}
	return io.NopCloser(strings.NewReader(e.content)), nil
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

type fakeSource struct {
	entries []fakeEntry
	listErr error
	desc    string
}

func (s *fakeSource) List(context.Context) ([]Entry, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e
	}
	return out, nil
}

func (s *fakeSource) String() string {
	if s.desc == "" {
		return "fake"
	}
	return s.desc
}

func files(kv map[string]string) []fakeEntry {
	out := make([]fakeEntry, 0, len(kv))
	for name, content := range kv {
		out = append(out, fakeEntry{name: name, content: content})
	}
	return out
}
