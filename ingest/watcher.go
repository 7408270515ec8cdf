package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Watcher ingests archives as they land in a set of directories. A .zip
// file is processed once no create or write event has been seen for it
// during the debounce period.
type Watcher struct {
	runner   *Runner
	dirs     []string
	debounce time.Duration
	workers  int
	log      logrus.FieldLogger

	mu       sync.Mutex
	pending  map[string]*time.Timer
	inflight map[string]struct{}
	ready    chan string
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewWatcher(runner *Runner, dirs []string, debounce time.Duration, log logrus.FieldLogger) (*Watcher, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if len(dirs) == 0 {
		return nil, errors.New("at least one directory to watch is required")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if log == nil {
		log = NewNopLogger()
	}
	return &Watcher{
		runner:   runner,
		dirs:     dirs,
		debounce: debounce,
		workers:  runner.cfg.Workers,
		log:      log,
		pending:  make(map[string]*time.Timer),
		inflight: make(map[string]struct{}),
		ready:    make(chan string, 64),
		done:     make(chan struct{}),
	}, nil
}

// Run processes the archives already matched by the runner inputs, then
// watches the directories until ctx is done. A Watcher runs once.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer fw.Close()

	for _, d := range w.dirs {
		if err := fw.Add(d); err != nil {
			return errors.Wrapf(err, "watch %s", d)
		}
	}
	w.log.WithField("dirs", strings.Join(w.dirs, ",")).Info("watching for archives")

	if _, err := w.runner.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.log.WithError(err).Warn("initial run failed")
	}

	sem := make(chan struct{}, w.workers)
	defer func() {
		close(w.done)
		w.stopTimers()
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isArchiveName(event.Name) {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.log.WithError(err).Warn("watcher error")

		case p := <-w.ready:
			if !w.claim(p) {
				// still being processed; look again after the next quiet period
				w.schedule(p)
				continue
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer w.release(p)
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				defer func() { <-sem }()
				if _, err := w.runner.IngestPath(ctx, p); err != nil {
					w.log.WithField("archive", p).WithError(err).Debug("watched archive failed")
				}
			}()
		}
	}
}

func (w *Watcher) schedule(p string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[p]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[p] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, p)
		w.mu.Unlock()
		select {
		case w.ready <- p:
		case <-w.done:
		}
	})
}

func (w *Watcher) claim(p string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[p]; busy {
		return false
	}
	w.inflight[p] = struct{}{}
	return true
}

func (w *Watcher) release(p string) {
	w.mu.Lock()
	delete(w.inflight, p)
	w.mu.Unlock()
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}

func isArchiveName(p string) bool {
	return strings.EqualFold(filepath.Ext(p), ".zip")
}
