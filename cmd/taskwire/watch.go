package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kazz187/taskwire/pkg/clog"
)

// debounceInterval lets a burst of events for one file (create, write,
// rename) settle before the file is read.
const debounceInterval = 100 * time.Millisecond

// runWatch prints every record written to dir until ctx is done. Files
// that do not decode are reported and skipped.
func runWatch(ctx context.Context, dir, format string, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	slog.Info("watching for task records", "dir", dir)

	var (
		mu     sync.Mutex
		timers = map[string]*time.Timer{}
	)
	show := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		delete(timers, path)
		if err := printRecordFile(path, format, w); err != nil {
			fctx := clog.ContextWithSlog(ctx)
			clog.AddAttribute(fctx, "file", path)
			clog.LogError(fctx, "skipping file", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range timers {
				t.Stop()
			}
			mu.Unlock()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || skipWatched(event.Name) {
				continue
			}
			mu.Lock()
			if t, ok := timers[event.Name]; ok {
				t.Stop()
			}
			name := event.Name
			timers[name] = time.AfterFunc(debounceInterval, func() { show(name) })
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "error", err)
		}
	}
}

// skipWatched filters out temp files written by atomic renames and dotfiles.
func skipWatched(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, "~")
}

func printRecordFile(path, format string, w io.Writer) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	r, f, err := decodeBytes(format, path, data)
	if err != nil {
		return err
	}
	out, err := renderYAML(r)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "# %s (%s)\n%s---\n", filepath.Base(path), f, out)
	return err
}
