package ontology

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mannyrivera2010/go-ontovault/internal/fsutil"
	"github.com/pkg/errors"
)

// WatchHandler is called with the outcome of every check Watch performs.
type WatchHandler func(RepairResult)

// Watch guards path against external corruption until ctx is done. Writes,
// creations and renames of path are debounced, after which the file is
// validated and repaired from backup if it became invalid. handler may be
// nil.
//
// Watch observes the host filesystem and is only meaningful when the
// coordinator was created over it.
func (c *Coordinator) Watch(ctx context.Context, path string, handler WatchHandler) error {
	abs, err := fsutil.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating file watcher")
	}
	defer w.Close()

	// Watching the directory catches atomic replacements, which swap the
	// inode a direct watch would follow.
	dir := filepath.Dir(abs)
	if err := w.Add(dir); err != nil {
		return errors.Wrapf(err, "watching %s", dir)
	}
	c.logger.Info("Watching graph file", "path", abs)

	timer := time.NewTimer(c.cfg.WatchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&relevant == 0 {
				continue
			}
			c.logger.Debug("Graph file changed", "path", abs, "op", ev.Op.String())
			timer.Reset(c.cfg.WatchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("File watcher error", "path", abs, "error", err.Error())
		case <-timer.C:
			if !fsutil.Exists(c.fs, abs) {
				c.logger.Debug("Watched graph file is gone, waiting", "path", abs)
				continue
			}
			res := c.ValidateAndRepair(ctx, abs)
			if handler != nil {
				handler(res)
			}
		}
	}
}
