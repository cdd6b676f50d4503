// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the config at opts.Path whenever it changes and passes each
// valid result to onChange. Invalid edits are logged and skipped.
//
// # Description
//
// Watches the parent directory rather than the file so that editors that
// save via rename are still seen. Blocks until ctx is done.
//
// # Inputs
//
//   - ctx: Stops the watcher.
//   - opts: Load options. Path must be set.
//   - onChange: Called from the watcher goroutine.
//
// # Outputs
//
//   - error: Watcher setup failures only. Returns nil when ctx ends.
func Watch(ctx context.Context, opts Options, onChange func(*DeepdiveConfig)) error {
	if opts.Path == "" {
		return fmt.Errorf("watch: config path required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(opts.Path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}
	slog.Info("Watching config for changes", "path", target)

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isConfigEvent(event, target) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			reload = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)

		case <-reload:
			reload = nil
			cfg, err := LoadWithOptions(opts)
			if err != nil {
				slog.Warn("Ignoring invalid config change", "path", target, "error", err)
				continue
			}
			slog.Info("Config reloaded", "path", target)
			onChange(cfg)
		}
	}
}

func isConfigEvent(event fsnotify.Event, target string) bool {
	if filepath.Clean(event.Name) != target {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
