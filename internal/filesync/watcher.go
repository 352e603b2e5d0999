package filesync

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/warder/internal/log"
)

// ExternalEditSender is the synthetic sender ID used for changes observed
// directly on disk rather than reported by a worker over the coordination
// bus.
const ExternalEditSender = "external-edit"

// Watcher observes the engine's configured roots with fsnotify and admits
// debounced write events as synthetic changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	engine    *Engine
	debounce  time.Duration
	done      chan struct{}

	lastHash map[string]string
}

// NewWatcher creates a Watcher over engine's configured roots.
func NewWatcher(engine *Engine) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, root := range engine.cfg.Roots {
		if err := fsw.Add(root); err != nil {
			log.Warn(log.CatFileSync, "failed to watch root", "root", root, "error", err.Error())
		}
	}
	return &Watcher{
		fsWatcher: fsw,
		engine:    engine,
		debounce:  engine.cfg.DebounceWindow,
		done:      make(chan struct{}),
		lastHash:  make(map[string]string),
	}, nil
}

// Start begins the debounced watch loop in a goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop terminates the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	pending := make(map[string]*time.Timer)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := event.Name
			if t, exists := pending[path]; exists {
				t.Stop()
			}
			pending[path] = time.AfterFunc(w.debounce, func() {
				w.admitExternalChange(path)
				delete(pending, path)
			})

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatFileSync, "watcher error", "error", err.Error())

		case <-w.done:
			for _, t := range pending {
				t.Stop()
			}
			return
		}
	}
}

func (w *Watcher) admitExternalChange(path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Warn(log.CatFileSync, "failed to read changed file", "path", path, "error", err.Error())
		return
	}

	before := w.lastHash[path]
	conflictID, err := w.engine.Admit(path, ExternalEditSender, before, string(content))
	if err != nil {
		log.Warn(log.CatFileSync, "external change rejected", "path", path, "error", err.Error())
		return
	}
	w.lastHash[path] = HashContent(string(content))
	if conflictID != "" {
		log.Warn(log.CatFileSync, "external change produced a conflict", "path", path, "conflict_id", conflictID)
	}
}
