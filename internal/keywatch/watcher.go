// internal/keywatch/watcher.go
//
// Watcher polls a source fingerprint for changes and triggers a snapshot
// rebuild through the reloader when the fingerprint moves.
//
// Snapshots are immutable in-memory maps, so there is nothing to clean up
// after a swap. Old snapshots are garbage-collected once the store's
// atomic pointer moves on.
package keywatch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/keithlinneman/keydir/internal/cryptoutil"
	"github.com/keithlinneman/keydir/internal/log"
)

const (
	// DefaultPollInterval is how often the watcher re-fingerprints the source.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive fingerprint errors.
	maxBackoff = 5 * time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange    pollResult = iota // fingerprint matches current - nothing to do
	pollReloaded                      // change detected, snapshot rebuilt and published
	pollProbeError                    // fingerprinting failed - caller should back off
	pollReloadError                   // fingerprint succeeded but the rebuild failed
)

// Fingerprinter is the capability the watcher needs from a source: a cheap
// content identity that changes whenever a rebuild would produce different
// keys or values. Sources that can answer it from listing metadata alone
// (mtimes, versions, etags) avoid reading entry contents on every poll.
type Fingerprinter interface {
	Fingerprint(ctx context.Context) (string, error)
}

// Reloader is the slice of the snapshot reloader the watcher drives.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Metrics is implemented by the metrics package to observe watcher behavior.
type Metrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

// Options configures the source watcher.
type Options struct {
	Logger       log.Logger
	Source       Fingerprinter
	Reloader     Reloader
	PollInterval time.Duration

	// Metrics receives watcher observability signals (polls, swaps, errors).
	Metrics Metrics

	// StaleThreshold is how long since the last successful fingerprint before
	// the watcher logs a staleness warning. Zero defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls for source changes and reloads snapshots when they occur.
type Watcher struct {
	source   Fingerprinter
	reloader Reloader
	logger   log.Logger
	interval time.Duration
	metrics  Metrics

	// fingerprint tracking for change detection
	currentFP string

	// backoff state
	consecutiveErrs int

	// staleness tracking
	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	// stats for logging
	pollCount   int64
	reloadCount int64
}

// NewWatcher creates a source watcher. Call Run to start the poll loop.
func NewWatcher(opts *Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}

	return &Watcher{
		source:         opts.Source,
		reloader:       opts.Reloader,
		logger:         opts.Logger,
		interval:       interval,
		metrics:        opts.Metrics,
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
// Intended to be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	// seed the fingerprint from the snapshot loaded at startup so the
	// first poll doesn't rebuild what is already published
	if fp, err := w.source.Fingerprint(ctx); err == nil {
		w.currentFP = fp
	} else {
		w.logger.Warn(ctx, "source watcher: initial fingerprint failed, first poll will reload",
			"error", err.Error(),
		)
	}

	w.logger.Info(ctx, "source watcher starting",
		"poll_interval", w.interval.String(),
		"current_fingerprint", truncFP(w.currentFP),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "source watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"reloads", w.reloadCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)

			if result == pollProbeError {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "source watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				// recovered from error streak - resume normal cadence
				w.logger.Info(ctx, "source watcher: recovered, resuming normal interval",
					"had_consecutive_errors", w.consecutiveErrs,
				)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}

			// staleness detection: emit structured error once on transition into stale state
			if result != pollProbeError {
				// non-probe-error means lastSuccessAt was updated
				if w.staleLogged {
					w.logger.Info(ctx, "source watcher: staleness recovered")
					w.staleLogged = false
					if w.metrics != nil {
						w.metrics.SetWatcherStale(false)
					}
				}
			} else if time.Since(w.lastSuccessAt) > w.staleThreshold {
				if !w.staleLogged {
					w.logger.Error(ctx, fmt.Errorf("last successful fingerprint was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
						"source watcher: configuration is stale, unable to verify freshness",
					)
					w.staleLogged = true
					if w.metrics != nil {
						w.metrics.SetWatcherStale(true)
					}
				}
			}
		}
	}
}

// checkOnce performs a single fingerprint-compare-reload cycle.
// Returns what happened so Run can adjust timing.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	fp, err := w.source.Fingerprint(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "source watcher: fingerprint failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("fingerprint")
		}
		return pollProbeError
	}

	// fingerprint succeeded - update last success time
	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	// no change - most common path
	if cryptoutil.HashEqual(fp, w.currentFP) {
		return pollNoChange
	}

	// source changed
	w.logger.Info(ctx, "source watcher: change detected",
		"old_fingerprint", truncFP(w.currentFP),
		"new_fingerprint", truncFP(fp),
	)

	if err := w.reloader.Reload(ctx); err != nil {
		w.logger.Error(ctx, err, "source watcher: reload failed, keeping current snapshot",
			"fingerprint", truncFP(fp),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("reload")
		}
		return pollReloadError
	}

	w.currentFP = fp
	w.reloadCount++

	w.logger.Info(ctx, "source watcher: snapshot reloaded",
		"fingerprint", truncFP(fp),
		"total_reloads", w.reloadCount,
	)

	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}

	return pollReloaded
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// truncFP returns the first 12 characters of a fingerprint for logging.
func truncFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
