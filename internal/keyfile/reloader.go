package keyfile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keithlinneman/keydir/internal/log"
)

// ReloadMetrics is implemented by the metrics package to observe reload
// behavior.
type ReloadMetrics interface {
	IncReloads(outcome string)
	ObserveBuildDuration(seconds float64)
	IncDuplicateKeys(n int)
	SetSnapshotKeys(n int)
	SetSnapshotBuiltAt(t time.Time)
	SetSnapshotChecksum(checksum string)
}

// ReloaderOptions configures a Reloader.
type ReloaderOptions struct {
	Logger  log.Logger
	Source  Source
	Options Options

	// Store receives published snapshots. A fresh one is created when
	// nil, retrievable via Reloader.Store.
	Store *Store

	// Metrics receives reload observability signals. Optional.
	Metrics ReloadMetrics
}

// Reloader orchestrates build-then-publish cycles against a single
// Source and Store. Reload is safe to call at any time, from any
// goroutine, including concurrently with itself: concurrent calls build
// independent snapshots and race to publish, and each publish is atomic,
// so the final current snapshot is always one complete build, never a
// mix (last-publish-wins).
type Reloader struct {
	source  Source
	options Options
	store   *Store
	logger  log.Logger
	metrics ReloadMetrics

	mu        sync.Mutex
	observers []func(*Snapshot)
}

// NewReloader wires a Reloader without performing a load; call Load for
// the initial snapshot.
func NewReloader(opts ReloaderOptions) *Reloader {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	store := opts.Store
	if store == nil {
		store = NewStore()
	}
	return &Reloader{
		source:  opts.Source,
		options: opts.Options,
		store:   store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Store returns the store this reloader publishes to.
func (r *Reloader) Store() *Store { return r.store }

// OnReload registers an observer invoked after every successful publish
// with the newly published snapshot. Observers signal "values may have
// changed"; they never fire for failed or no-op reloads. Panics in
// observers are recovered and logged so one bad callback cannot take
// down the reload path.
func (r *Reloader) OnReload(fn func(*Snapshot)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Load performs the initial build and publish. All failures are fatal
// unless Optional is set, in which case they degrade to an empty
// snapshot so the process can come up with a missing or partially
// readable source.
func (r *Reloader) Load(ctx context.Context) error {
	snap, err := r.build(ctx)
	if err != nil {
		if !r.options.Optional {
			return err
		}
		r.logger.Warn(ctx, "keyfile: initial load failed, starting with empty snapshot",
			"source", r.source.String(),
			"error", err,
		)
		snap = newSnapshot(r.source.String(), map[string]pair{})
	}
	r.publish(ctx, snap)
	return nil
}

// Reload builds a brand-new snapshot from the current state of the
// source and publishes it. On failure the previously published snapshot
// stays current: the error is surfaced to the caller, or silently
// absorbed (logged at warn, no observer signal) when Optional is set.
func (r *Reloader) Reload(ctx context.Context) error {
	snap, err := r.build(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.IncReloads("error")
		}
		if r.options.Optional {
			r.logger.Warn(ctx, "keyfile: reload failed, keeping previous snapshot",
				"source", r.source.String(),
				"error", err,
			)
			return nil
		}
		return err
	}
	r.publish(ctx, snap)
	return nil
}

func (r *Reloader) build(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	snap, stats, err := Build(ctx, r.source, r.options)
	if r.metrics != nil {
		r.metrics.ObserveBuildDuration(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	if stats.Duplicates > 0 {
		// last-enumerated-wins; surface collisions so operators can
		// spot misnamed secret files
		r.logger.Warn(ctx, "keyfile: duplicate normalized keys, later entries won",
			"source", r.source.String(),
			"duplicates", stats.Duplicates,
		)
		if r.metrics != nil {
			r.metrics.IncDuplicateKeys(stats.Duplicates)
		}
	}
	return snap, nil
}

func (r *Reloader) publish(ctx context.Context, snap *Snapshot) {
	r.store.Publish(snap)

	if r.metrics != nil {
		r.metrics.IncReloads("ok")
		r.metrics.SetSnapshotKeys(snap.Len())
		r.metrics.SetSnapshotBuiltAt(snap.BuiltAt())
		r.metrics.SetSnapshotChecksum(snap.Checksum())
	}

	r.logger.Debug(ctx, "keyfile: snapshot published",
		"source", snap.Source(),
		"keys", snap.Len(),
		"checksum", truncChecksum(snap.Checksum()),
	)

	r.mu.Lock()
	observers := make([]func(*Snapshot), len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	for _, fn := range observers {
		r.notify(ctx, fn, snap)
	}
}

func (r *Reloader) notify(ctx context.Context, fn func(*Snapshot), snap *Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(ctx, fmt.Errorf("observer panic: %v", rec),
				"keyfile: reload observer panicked, continuing",
			)
		}
	}()
	fn(snap)
}

// truncChecksum returns the first 12 characters of a checksum for logging.
func truncChecksum(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
