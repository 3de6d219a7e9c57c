// Package watcher ingests IDL files dropped into a local directory.
// A file named <programId>.json is validated, cached, and enqueued,
// giving operators a path to feed IDLs without the HTTP API.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/soldocs/soldocs/internal/idl"
	"github.com/soldocs/soldocs/internal/store"
	"github.com/soldocs/soldocs/internal/types"
)

// settleDelay gives writers a moment to finish before the file is read.
const settleDelay = 100 * time.Millisecond

// Watcher tails a drop-box directory for IDL files.
type Watcher struct {
	dir   string
	store *store.Store
	log   *slog.Logger
}

// New creates a Watcher over dir, creating it if absent.
func New(dir string, s *store.Store, log *slog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create watch dir %s: %w", dir, err)
	}
	return &Watcher{dir: dir, store: s, log: log}, nil
}

// Run watches the directory until ctx is canceled. Files present at
// startup are ingested before watching begins.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching IDL drop-box", "dir", w.dir)

	w.ingestExisting()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			time.Sleep(settleDelay)
			w.ingest(event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) ingestExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("cannot scan watch dir", "dir", w.dir, "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.ingest(filepath.Join(w.dir, e.Name()))
		}
	}
}

// ingest validates and enqueues one dropped file. Malformed drops are
// logged and skipped, never fatal.
func (w *Watcher) ingest(path string) {
	name := filepath.Base(path)
	id, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return
	}
	if err := types.ValidateProgramID(id); err != nil {
		w.log.Warn("ignoring drop with invalid program ID filename", "file", name)
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn("cannot read dropped IDL", "file", name, "error", err)
		return
	}
	doc, err := idl.Parse(raw)
	if err != nil {
		w.log.Warn("dropped file is not valid IDL JSON", "file", name, "error", err)
		return
	}
	if err := doc.Validate(); err != nil {
		w.log.Warn("dropped IDL failed validation", "file", name, "error", err)
		return
	}

	rec, err := w.store.SaveIDLSafe(id, doc)
	if err != nil {
		w.log.Error("cannot cache dropped IDL", "program", id, "error", err)
		return
	}
	if _, _, err := w.store.AddToQueueSafe(id); err != nil {
		w.log.Error("cannot enqueue dropped program", "program", id, "error", err)
		return
	}
	w.log.Info("ingested dropped IDL", "program", id, "name", doc.Name(), "hash", rec.Hash)

	if err := os.Remove(path); err != nil {
		w.log.Warn("cannot remove ingested drop", "file", name, "error", err)
	}
}
