package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// AwaitRemoval blocks until every path in paths (the same artifact set
// ClearArtifacts removes) has been observed gone from disk, or timeout elapses. It is used by the
// supervisor's "already in use" recovery path (§4.5, §9 S4) to make sure
// the Agent's own file handles have actually released the artifacts before
// the retried run reuses the same paths.
//
// A poll-based stat loop would work too; fsnotify lets the common case
// (removal completes within one debounce window) return promptly instead
// of waiting for the next poll tick.
func AwaitRemoval(paths Artifacts, timeout time.Duration) error {
	targets := map[string]bool{
		paths.LogFile:  true,
		paths.WorkDir:  true,
		paths.TodoFile: true,
	}
	remaining := func() int {
		n := 0
		for p := range targets {
			if _, err := os.Stat(p); err == nil {
				n++
			}
		}
		return n
	}

	if remaining() == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("session: create watcher: %w", err)
	}
	defer watcher.Close()

	watchedDirs := map[string]bool{}
	for p := range targets {
		dir := filepath.Dir(p)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err == nil {
			watchedDirs[dir] = true
		}
	}

	deadline := time.After(timeout)
	for {
		if remaining() == 0 {
			return nil
		}
		select {
		case <-watcher.Events:
			// A remove/rename in any watched directory; re-check targets.
		case <-watcher.Errors:
			// Non-fatal: fall through to the next stat poll.
		case <-time.After(50 * time.Millisecond):
			// Poll fallback in case the removal happened in a directory we
			// raced to Add() before it existed.
		case <-deadline:
			return fmt.Errorf("session: await removal: timed out after %v with %d artifact(s) remaining", timeout, remaining())
		}
	}
}
