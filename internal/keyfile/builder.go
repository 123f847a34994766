package keyfile

import (
	"context"
	"io"
	"strings"
)

// BuildStats reports what a single build observed, for logging and
// metrics. Duplicates are entries whose normalized keys collided with an
// earlier entry; the later entry wins.
type BuildStats struct {
	Entries    int // entries enumerated
	Skipped    int // directories plus ignored entries
	Duplicates int
}

// Build scans the top-level entries of src once and assembles a new
// Snapshot. Nothing touches shared state: the snapshot is constructed
// locally and only becomes visible once the caller publishes it, so
// builds may run concurrently with each other and with readers.
//
// Policy:
//   - directory entries are skipped silently, no recursion
//   - entries excluded by the ignore policy are skipped silently
//   - duplicate normalized keys resolve to the last enumerated entry
//   - a failed entry read fails the whole build (all-or-nothing)
//   - an enumeration failure yields an empty snapshot when
//     opts.Optional is set, an error otherwise
func Build(ctx context.Context, src Source, opts Options) (*Snapshot, *BuildStats, error) {
	stats := &BuildStats{}

	list, err := src.List(ctx)
	if err != nil {
		if opts.Optional {
			return newSnapshot(src.String(), map[string]pair{}), stats, nil
		}
		return nil, nil, err
	}

	entries := make(map[string]pair, len(list))
	for _, e := range list {
		stats.Entries++
		if e.IsDir() || opts.excluded(e.Name()) {
			stats.Skipped++
			continue
		}

		key := NormalizeKey(e.Name())
		value, err := readEntry(ctx, e)
		if err != nil {
			return nil, nil, &EntryReadError{Name: e.Name(), Key: key, Err: err}
		}

		lower := strings.ToLower(key)
		if _, exists := entries[lower]; exists {
			stats.Duplicates++
		}
		entries[lower] = pair{key: key, value: value}
	}

	return newSnapshot(src.String(), entries), stats, nil
}

// readEntry reads an entry's full content as UTF-8 text. Content is kept
// raw: no trimming, and an empty file is the empty string.
func readEntry(ctx context.Context, e Entry) (string, error) {
	rc, err := e.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
