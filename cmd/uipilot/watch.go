package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"uipilot/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce collapses the burst of events an editor save produces.
const watchDebounce = 300 * time.Millisecond

// watchFlow runs the flow, then re-runs it after every change to the file
// until ctx is cancelled. Run failures are printed, not returned.
func (a *app) watchFlow(ctx context.Context, path string, fl runFlags) error {
	log := a.logs.Get(logging.CategoryCLI)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directory and filter by name.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	log.Info("watching flow", zap.String("path", abs))

	rerun := func() {
		if _, err := a.runFlowFile(ctx, path, fl); err != nil {
			fmt.Fprintln(a.stderr, "Error:", err)
		}
	}
	rerun()

	// fire is nil until a change arms the debounce.
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			log.Info("watch stopped", zap.String("path", abs))
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("flow changed", zap.String("op", event.Op.String()))
			fire = time.After(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			fmt.Fprintln(a.stdout, mutedStyle.Render("flow changed, re-running "+path))
			rerun()
		}
	}
}
