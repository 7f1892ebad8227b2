package sync

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conorfennell/knoldeck/internal/storage"
)

// Watch re-syncs local sources whenever markdown files under them change.
// Bursts of events within debounce are collapsed into one sync per source.
// It blocks until ctx is done.
func (s *Syncer) Watch(ctx context.Context, debounce time.Duration) (err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	sources, err := s.db.Sources(ctx)
	if err != nil {
		return err
	}
	var local []storage.Source
	for _, source := range sources {
		if source.Type != SourceLocal {
			continue
		}
		if err := addTree(watcher, source.Path); err != nil {
			s.log.Warn("Failed to watch source", "path", source.Path, "error", err)
			continue
		}
		local = append(local, source)
	}
	if len(local) == 0 {
		s.log.Info("No local sources to watch")
		<-ctx.Done()
		return nil
	}
	s.log.Info("Watching local sources", "count", len(local))

	dirty := make(map[int64]storage.Source)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						s.log.Warn("Failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if !isMarkdown(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			source, ok := owner(local, event.Name)
			if !ok {
				continue
			}
			s.log.Debug("Source changed", "path", event.Name, "op", event.Op.String())
			dirty[source.ID] = source
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("File watcher error", "error", err)
		case <-timer.C:
			for id, source := range dirty {
				if _, err := s.SyncSource(ctx, source); err != nil {
					s.log.Error("Error syncing source", "id", id, "path", source.Path, "error", err)
				}
				delete(dirty, id)
			}
		}
	}
}

// addTree watches root and every directory below it except .git.
func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// owner finds the source whose directory contains path.
func owner(sources []storage.Source, path string) (storage.Source, bool) {
	for _, source := range sources {
		rel, err := filepath.Rel(source.Path, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return source, true
		}
	}
	return storage.Source{}, false
}
