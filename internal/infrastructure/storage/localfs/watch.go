package localfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher follows a pointer object on local disk and reports each new value.
// It serves replicas that share a storage directory without a broker: the
// pointer file itself is the announcement, so publishing is a no-op.
type Watcher struct {
	storage *Storage
	key     string
	logger  *slog.Logger
}

func NewWatcher(storage *Storage, key string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{storage: storage, key: key, logger: logger}
}

func (w *Watcher) PublishCorpusRebuilt(context.Context, string) error {
	return nil
}

// SubscribeCorpusRebuilt calls handler with the pointer's content whenever the
// pointer file is created or rewritten. It blocks until ctx is done.
func (w *Watcher) SubscribeCorpusRebuilt(ctx context.Context, handler func(context.Context, string) error) error {
	path, err := w.storage.resolve(w.key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("corpus_watch_error", "error", err)
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isPointerUpdate(event, path) {
				continue
			}
			version, err := w.read(ctx)
			if err != nil {
				w.logger.Warn("corpus_pointer_unreadable", "error", err)
				continue
			}
			if version == "" || version == last {
				continue
			}
			last = version
			if err := handler(ctx, version); err != nil && ctx.Err() == nil {
				w.logger.Error("corpus_event_failed", "corpus_version", version, "error", err)
			}
		}
	}
}

func isPointerUpdate(event fsnotify.Event, path string) bool {
	if filepath.Clean(event.Name) != filepath.Clean(path) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}

func (w *Watcher) read(ctx context.Context) (string, error) {
	rc, err := w.storage.Open(ctx, w.key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, 256))
	if err != nil {
		return "", fmt.Errorf("read pointer: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
