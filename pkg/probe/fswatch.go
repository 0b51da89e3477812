package probe

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/saworbit/kernwatch/pkg/flags"
)

// Watcher turns fsnotify notifications into substrate events. It is the
// hosted stand-in for kernel probes: each dispatch worker owns one scratch
// slot, which satisfies the pool's single-in-flight-per-slot precondition
// the same way per-CPU execution does in the kernel.
type Watcher struct {
	emitter *Emitter
	root    string
	workers int

	watcher *fsnotify.Watcher
	queues  []chan fsnotify.Event
	wg      sync.WaitGroup
}

// NewWatcher prepares a recursive watch rooted at root with the given number
// of dispatch workers (at least one).
func NewWatcher(root string, workers int, em *Emitter) (*Watcher, error) {
	if em == nil {
		return nil, fmt.Errorf("emitter is required")
	}
	if workers < 1 {
		workers = 1
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addWatchRecursive(fsw, absRoot); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		emitter: em,
		root:    absRoot,
		workers: workers,
		watcher: fsw,
		queues:  make([]chan fsnotify.Event, workers),
	}
	for i := range w.queues {
		w.queues[i] = make(chan fsnotify.Event, 64)
	}
	return w, nil
}

// Run starts the dispatch workers and the watch loop, returning when ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker(ctx, i)
	}

	defer func() {
		w.watcher.Close()
		for _, q := range w.queues {
			close(q)
		}
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.dispatch(ctx, evt)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				log.Printf("[FSWatch] watcher error: %v", err)
			}
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, evt fsnotify.Event) {
	if evt.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			_ = w.watcher.Add(evt.Name)
		}
	}

	// Same path, same worker: keeps per-path event order and pins the
	// event to one scratch slot.
	h := fnv.New32a()
	_, _ = h.Write([]byte(evt.Name))
	slot := int(h.Sum32()) % w.workers
	if slot < 0 {
		slot += w.workers
	}

	select {
	case <-ctx.Done():
	case w.queues[slot] <- evt:
	}
}

func (w *Watcher) worker(ctx context.Context, slot int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.queues[slot]:
			if !ok {
				return
			}
			w.handle(slot, evt)
		}
	}
}

func (w *Watcher) handle(slot int, evt fsnotify.Event) {
	op, ok := mapOp(evt.Op)
	if !ok {
		return
	}

	// fsnotify cannot attribute the acting process; the kernel path fills
	// PID in from probe context instead.
	var aux []byte
	if w.emitter.Enabled(flags.FeatureAuxPayload, 0) {
		if rel, err := filepath.Rel(w.root, evt.Name); err == nil {
			aux = []byte(rel)
		} else {
			aux = []byte(evt.Name)
		}
	}

	w.emitter.Emit(slot, flags.FeatureFileActivity, op, 0, aux)
}

func mapOp(op fsnotify.Op) (flags.OpFlags, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return flags.OpCreate, true
	case op&fsnotify.Write != 0:
		return flags.OpWrite, true
	case op&fsnotify.Rename != 0:
		return flags.OpRename, true
	case op&fsnotify.Remove != 0:
		return flags.OpUnlink, true
	case op&fsnotify.Chmod != 0:
		return flags.OpChmod, true
	default:
		return 0, false
	}
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}
