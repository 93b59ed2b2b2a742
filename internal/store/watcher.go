package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/domain"
)

// ChangeFunc receives (campaign, kind) whenever a record file under the
// watched tree changes.
type ChangeFunc func(cid domain.CampaignID, kind string)

// Watcher observes <root>/<cid>/<kind>/*.json and reports coalesced changes.
// fsnotify is not recursive, so directories are added as they appear.
type Watcher struct {
	root     string
	callback ChangeFunc
	debounce time.Duration

	mu      sync.Mutex
	pending map[watchKey]*time.Timer
}

type watchKey struct {
	cid  domain.CampaignID
	kind string
}

func NewWatcher(root string, callback ChangeFunc) *Watcher {
	return &Watcher{
		root:     root,
		callback: callback,
		debounce: 150 * time.Millisecond,
		pending:  make(map[watchKey]*time.Timer),
	}
}

// Run blocks until ctx is done or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	log.Info().Str("module", "store").Str("root", w.root).Msg("watching metadata")

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("module", "store").Msg("watcher error")
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addTree(fw, ev.Name); err != nil {
				log.Warn().Err(err).Str("module", "store").Str("dir", ev.Name).Msg("watch add")
			}
			return
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	cid, kind, ok := w.classify(ev.Name)
	if !ok {
		return
	}
	w.schedule(watchKey{cid: cid, kind: kind})
}

// classify maps <root>/<cid>/<kind>/<id>.json to (cid, kind).
func (w *Watcher) classify(path string) (domain.CampaignID, string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return "", "", false
	}
	name := parts[2]
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
		return "", "", false
	}
	switch parts[1] {
	case KindAssets, KindPlaylists:
		return domain.CampaignID(parts[0]), parts[1], true
	}
	return "", "", false
}

// Notify reports a change made through the store API. It shares the
// debounce with file events, so a write seen both ways is reported once.
func (w *Watcher) Notify(cid domain.CampaignID, kind string) {
	w.schedule(watchKey{cid: cid, kind: kind})
}

func (w *Watcher) schedule(k watchKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[k]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[k] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, k)
		w.mu.Unlock()
		log.Debug().Str("module", "store").Str("campaign", string(k.cid)).Str("kind", k.kind).Msg("metadata changed on disk")
		w.callback(k.cid, k.kind)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, t := range w.pending {
		t.Stop()
		delete(w.pending, k)
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		if rel != "." && strings.Count(filepath.ToSlash(rel), "/") > 1 {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
