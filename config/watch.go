package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads path whenever it changes and hands every valid version to
// onChange. Invalid edits are logged and skipped. Blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*FileConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// editors replace files by rename, so watch the directory
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	var debounce <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(200 * time.Millisecond)
			}
		case <-debounce:
			debounce = nil
			f, err := ReadFile(path)
			if err != nil {
				log.Printf("[CONFIG] ignoring change to %s: %v", path, err)
				continue
			}
			log.Printf("[CONFIG] reloaded %s (%d sources, %d redaction rules)", path, len(f.Sources), len(f.Redaction))
			onChange(f)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[CONFIG] watcher error: %v", err)
		case <-ctx.Done():
			return nil
		}
	}
}
