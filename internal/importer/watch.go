package importer

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ansuz/internal/reviews"
)

// Watch monitors a drop directory for comment export files and imports
// them. A file named "<namespace>__<target>.json" holds a JSON array of
// comments; after a successful import the file is removed. Files already
// present at startup are processed first.
//
// Runs until ctx is cancelled.
func (im *Importer) Watch(ctx context.Context, dropDir string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dropDir); err != nil {
		return err
	}

	logger.Info("import watcher: started", slog.String("dir", dropDir))

	// Catch up on files dropped before the watcher existed.
	if existing, err := os.ReadDir(dropDir); err == nil {
		for _, d := range existing {
			if !d.IsDir() {
				im.processFile(ctx, filepath.Join(dropDir, d.Name()), logger)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("import watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Exporters write then close; Create alone can race a partial
			// file, so Write events re-trigger processing.
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			im.processFile(ctx, ev.Name, logger)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("import watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// processFile imports one drop file and removes it on success.
func (im *Importer) processFile(ctx context.Context, path string, logger *slog.Logger) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".json") {
		return
	}
	namespace, target, ok := parseDropName(name)
	if !ok {
		logger.Warn("import watcher: unrecognised file name", slog.String("file", name))
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("import watcher: read failed", slog.String("file", name), slog.String("error", err.Error()))
		return
	}
	var comments []reviews.Comment
	if err := json.Unmarshal(data, &comments); err != nil {
		logger.Warn("import watcher: decode failed", slog.String("file", name), slog.String("error", err.Error()))
		return
	}

	e, err := im.Import(ctx, namespace, target, comments)
	if err != nil {
		logger.Warn("import watcher: import failed",
			slog.String("namespace", namespace),
			slog.String("target", target),
			slog.String("error", err.Error()))
		return
	}

	if err := os.Remove(path); err != nil {
		logger.Warn("import watcher: cleanup failed", slog.String("file", name), slog.String("error", err.Error()))
	}
	logger.Info("import watcher: imported",
		slog.String("namespace", namespace),
		slog.String("target", target),
		slog.String("entry", e.ID))
}

// parseDropName splits "<namespace>__<target>.json".
func parseDropName(name string) (namespace, target string, ok bool) {
	base := strings.TrimSuffix(name, ".json")
	parts := strings.SplitN(base, "__", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
