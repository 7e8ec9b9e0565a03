package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// watchDebounce lets editors finish writing before the file is re-read.
const watchDebounce = 150 * time.Millisecond

// Watcher rebuilds the runtime snapshot whenever the config file changes.
type Watcher struct {
	path     string
	store    *SnapshotStore
	onReload func(*Runtime)
	lastHash string
}

// NewWatcher constructs a watcher for path publishing into store. onReload may be nil.
func NewWatcher(path string, store *SnapshotStore, onReload func(*Runtime)) *Watcher {
	w := &Watcher{path: path, store: store, onReload: onReload}
	if data, errRead := os.ReadFile(path); errRead == nil {
		w.lastHash = hashBytes(data)
	}
	return w
}

// Start watches the config directory until ctx is done. Watching the directory, not the
// file, survives editors that replace the file on save.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, errNew := fsnotify.NewWatcher()
	if errNew != nil {
		return errNew
	}
	if errAdd := fsw.Add(filepath.Dir(w.path)); errAdd != nil {
		_ = fsw.Close()
		return errAdd
	}
	log.WithField("path", w.path).Info("config watcher: started")
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer func() { _ = fsw.Close() }()
	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C
		case errWatch, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.WithError(errWatch).Warn("config watcher: fsnotify error")
		case <-fire:
			fire = nil
			w.Reload()
		}
	}
}

// Reload re-reads the file and publishes a new snapshot if its content changed.
// A file that fails to parse leaves the current snapshot in place.
func (w *Watcher) Reload() bool {
	data, errRead := os.ReadFile(w.path)
	if errRead != nil {
		log.WithError(errRead).Warn("config watcher: read config")
		return false
	}
	hash := hashBytes(data)
	if hash == w.lastHash {
		return false
	}
	cfg, errLoad := Load(w.path)
	if errLoad != nil {
		log.WithError(errLoad).Warn("config watcher: keeping previous snapshot")
		return false
	}
	next := NewRuntime(cfg, time.Now())
	w.store.Replace(next)
	w.lastHash = hash
	log.WithField("path", w.path).Info("config watcher: snapshot reloaded")
	if w.onReload != nil {
		w.onReload(next)
	}
	return true
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
