package filens

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/obiverse/nine-s/internal/scroll"
)

// Mirror watches the namespace's _scrolls subtree with fsnotify and
// republishes scroll files edited outside this process to the
// namespace's subscribers, until ctx is cancelled.
//
// New directories created at runtime are added to the watch list. Files
// that do not parse as scrolls are skipped with a warning; removals are
// ignored (deletion is a metadata flag, not a file operation).
func Mirror(ctx context.Context, n *Namespace, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	base := filepath.Join(n.root, scrollsDir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return err
	}
	if err := addDirsRecursive(w, base); err != nil {
		return err
	}

	logger.Info("mirror: started", slog.String("root", base))

	for {
		select {
		case <-ctx.Done():
			logger.Info("mirror: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
				if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
					logger.Warn("mirror: add new dir failed",
						slog.String("path", ev.Name),
						slog.String("error", addErr.Error()))
				}
				continue
			}
			if !strings.HasSuffix(ev.Name, ".json") || strings.Contains(filepath.Base(ev.Name), ".nine-s-tmp-") {
				continue
			}
			publishFile(n, base, ev.Name, logger)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("mirror: error", slog.String("error", watchErr.Error()))
		}
	}
}

func publishFile(n *Namespace, base, abs string, logger *slog.Logger) {
	data, err := os.ReadFile(abs)
	if err != nil {
		logger.Warn("mirror: read failed", slog.String("path", abs), slog.String("error", err.Error()))
		return
	}
	var sc scroll.Scroll
	if err := json.Unmarshal(data, &sc); err != nil {
		logger.Warn("mirror: parse failed", slog.String("path", abs), slog.String("error", err.Error()))
		return
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return
	}
	key := "/" + filepath.ToSlash(strings.TrimSuffix(rel, ".json"))
	if sc.Key != key {
		// Document was copied to a new location; the path wins.
		sc.Key = key
	}
	n.publishExternal(&sc)
	logger.Debug("mirror: published", slog.String("key", key))
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
