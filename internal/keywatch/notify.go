package keywatch

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keithlinneman/keydir/internal/log"
	"github.com/keithlinneman/keydir/internal/xerrors"
)

// DefaultDebounce is how long the notifier waits after the last filesystem
// event before reloading. Editors and orchestrators often touch a directory
// several times in quick succession (write + rename, symlink swaps); one
// rebuild per burst is enough.
const DefaultDebounce = 200 * time.Millisecond

// NotifierOptions configures the filesystem notifier.
type NotifierOptions struct {
	Logger   log.Logger
	Path     string
	Reloader Reloader
	Debounce time.Duration
	Metrics  Metrics
}

// Notifier watches a local directory with inotify-style filesystem events
// and reloads the snapshot after changes settle. It only works for the
// directory source; remote sources use the polling Watcher.
type Notifier struct {
	logger   log.Logger
	path     string
	reloader Reloader
	debounce time.Duration
	metrics  Metrics
}

// NewNotifier creates a filesystem notifier. Call Run to start watching.
func NewNotifier(opts *NotifierOptions) *Notifier {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Notifier{
		logger:   opts.Logger,
		path:     opts.Path,
		reloader: opts.Reloader,
		debounce: debounce,
		metrics:  opts.Metrics,
	}
}

// Run watches the directory until ctx is cancelled.
// Intended to be launched as: go notifier.Run(ctx)
func (n *Notifier) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Wrap(err, "create fsnotify watcher")
	}
	defer fw.Close()

	if err := fw.Add(n.path); err != nil {
		return xerrors.Wrapf(err, "watch %s", n.path)
	}

	n.logger.Info(ctx, "source notifier starting",
		"path", n.path,
		"debounce", n.debounce.String(),
	)

	// The timer is created stopped; filesystem events arm it, and the
	// reload fires only after debounce of quiet.
	timer := time.NewTimer(n.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			n.logger.Info(ctx, "source notifier stopping", "reason", ctx.Err())
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return xerrors.New("fsnotify event channel closed")
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			n.logger.Debug(ctx, "source notifier: filesystem event",
				"op", ev.Op.String(),
				"name", ev.Name,
			)
			timer.Reset(n.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return xerrors.New("fsnotify error channel closed")
			}
			n.logger.Error(ctx, err, "source notifier: watch error")
			if n.metrics != nil {
				n.metrics.IncWatcherError("notify")
			}

		case <-timer.C:
			if n.metrics != nil {
				n.metrics.IncWatcherPolls()
			}
			if err := n.reloader.Reload(ctx); err != nil {
				n.logger.Error(ctx, err, "source notifier: reload failed, keeping current snapshot")
				if n.metrics != nil {
					n.metrics.IncWatcherError("reload")
				}
				continue
			}
			if n.metrics != nil {
				n.metrics.IncWatcherSwaps()
				n.metrics.SetWatcherLastSuccess(float64(time.Now().Unix()))
			}
			n.logger.Info(ctx, "source notifier: snapshot reloaded")
		}
	}
}
