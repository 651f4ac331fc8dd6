package recordsync

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchMappingFile reports edits to the field-mapping file through
// onChange until ctx is cancelled. The mapping itself is immutable for
// the process lifetime, so a change never takes effect live; the
// callback gives the operator the signal that a restart is needed.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file via rename are still observed.
func WatchMappingFile(ctx context.Context, path string, onChange func(path string)) error {
	path = strings.TrimSpace(path)
	if path == "" || onChange == nil {
		return ErrInvalidInput
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = watcher.Close()
	}()
	if err := watcher.Add(filepath.Dir(absolute)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absolute {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				onChange(absolute)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
