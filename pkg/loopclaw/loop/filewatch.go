// Package loop – filewatch.go implements the file-watch trigger driver:
// detect genuinely new files under a directory and produce a bounded
// preview. Built on fsnotify, which watches single directories, so the
// driver maintains the recursive watch set itself (baseline walk plus
// watching directories as they appear).
package loop

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a new file is left alone before its preview is
// read, to avoid reading a file mid-write.
const settleDelay = 200 * time.Millisecond

// truncationMarker is appended to a preview when either the byte or line
// limit was hit.
const truncationMarker = "… [truncated]"

// ignoredDirs are dependency/build directories whose contents never trigger.
// Dot-prefixed names (".git", ".venv", hidden files) are ignored by rule.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// FileCandidate is a genuinely new file detected by the watcher, with its
// bounded content preview. Emitted through a callback so the queue logic is
// decoupled from the native watch API and testable with synthetic events.
type FileCandidate struct {
	Path    string
	Preview string
	Size    int64
}

// fileWatcher watches one directory tree for a single conversation's loop.
type fileWatcher struct {
	root     string
	suffixes []string
	maxLines int
	maxBytes int
	settle   time.Duration
	emit     func(FileCandidate)
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	mu    sync.Mutex
	known map[string]bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// validateWatchPath resolves and checks a watch path: it must exist, be a
// directory, and — when the conversation has a workspace — be contained
// within it. Violations are configuration errors; watching never starts.
func validateWatchPath(watchPath, workspace string) (string, error) {
	abs, err := filepath.Abs(watchPath)
	if err != nil {
		return "", fmt.Errorf("resolving watch path %q: %w", watchPath, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("watch path %q is not accessible: %w", watchPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("watch path %q is not a directory", watchPath)
	}
	if workspace != "" {
		wsAbs, err := filepath.Abs(workspace)
		if err != nil {
			return "", fmt.Errorf("resolving workspace %q: %w", workspace, err)
		}
		if resolved, err := filepath.EvalSymlinks(wsAbs); err == nil {
			wsAbs = resolved
		}
		if !pathWithin(wsAbs, abs) {
			return "", fmt.Errorf("watch path %q is outside the conversation workspace %q", watchPath, workspace)
		}
	}
	return abs, nil
}

// pathWithin reports whether path equals root or sits below it. Both inputs
// must already be absolute and cleaned.
func pathWithin(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// ignoredPath reports whether any component below root is a dotfile or a
// known dependency directory.
func ignoredPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." || part == "" {
			continue
		}
		if strings.HasPrefix(part, ".") || ignoredDirs[part] {
			return true
		}
	}
	return false
}

// matchesSuffix applies the optional suffix filter. An empty filter matches
// every file.
func matchesSuffix(path string, suffixes []string) bool {
	if len(suffixes) == 0 {
		return true
	}
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

// newFileWatcher builds the baseline known-file set, registers recursive
// watches, and starts the event loop. root must already be validated via
// validateWatchPath.
func newFileWatcher(root string, trg Trigger, logger *slog.Logger, emit func(FileCandidate)) (*fileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &fileWatcher{
		root:     root,
		suffixes: trg.Suffixes,
		maxLines: trg.PreviewMaxLines,
		maxBytes: trg.PreviewMaxBytes,
		settle:   settleDelay,
		emit:     emit,
		logger:   logger.With("component", "filewatch", "path", root),
		fsw:      fsw,
		known:    make(map[string]bool),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	// Baseline: every file that already exists never triggers.
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.eventLoop()
	w.logger.Info("file watcher started", "known_files", len(w.known))
	return w, nil
}

// addTree walks a directory, recording existing files in the baseline and
// registering a watch on each non-ignored directory.
func (w *fileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			w.logger.Debug("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if path != dir && ignoredPath(w.root, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", "path", path, "error", err)
			}
			return nil
		}
		w.mu.Lock()
		w.known[path] = true
		w.mu.Unlock()
		return nil
	})
}

// eventLoop consumes fsnotify events until stopped.
func (w *fileWatcher) eventLoop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

// handleEvent filters one native notification down to a genuinely new file.
func (w *fileWatcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	path, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}
	if ignoredPath(w.root, path) {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		// Transient: the path vanished between the event and the stat.
		return
	}
	if info.IsDir() {
		// A new directory extends the recursive watch set; files created
		// inside it before the watch landed are picked up by the walk.
		if ev.Op&fsnotify.Create != 0 {
			if err := w.addTreeNew(path); err != nil {
				w.logger.Warn("failed to extend watch", "path", path, "error", err)
			}
		}
		return
	}

	if !matchesSuffix(path, w.suffixes) {
		return
	}

	w.mu.Lock()
	if w.known[path] {
		w.mu.Unlock()
		return
	}
	w.known[path] = true
	w.mu.Unlock()

	go w.preview(path)
}

// addTreeNew registers watches for a directory created after start and emits
// candidates for files already inside it.
func (w *fileWatcher) addTreeNew(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ignoredPath(w.root, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", "path", path, "error", err)
			}
			return nil
		}
		w.handleEvent(fsnotify.Event{Name: path, Op: fsnotify.Create})
		return nil
	})
}

// preview waits for the file to settle, reads a bounded preview, and emits
// the candidate. Runs in its own goroutine per file.
func (w *fileWatcher) preview(path string) {
	select {
	case <-time.After(w.settle):
	case <-w.stopCh:
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	text, truncated, err := readPreview(path, w.maxBytes, w.maxLines)
	if err != nil {
		w.logger.Warn("failed to read file preview", "path", path, "error", err)
		return
	}
	if truncated {
		text = strings.TrimRight(text, "\n") + "\n" + truncationMarker
	}

	select {
	case <-w.stopCh:
		return
	default:
	}
	w.emit(FileCandidate{Path: path, Preview: text, Size: info.Size()})
}

// readPreview reads up to maxBytes of a file and truncates to maxLines.
func readPreview(path string, maxBytes, maxLines int) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	buf := make([]byte, maxBytes+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", false, err
	}

	truncated := false
	if n > maxBytes {
		n = maxBytes
		truncated = true
	}
	text := string(buf[:n])

	lines := strings.Split(text, "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		text = strings.Join(lines, "\n")
		truncated = true
	}
	return text, truncated, nil
}

// close tears the watcher down: no callback fires after close returns.
func (w *fileWatcher) close() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.fsw.Close()
		<-w.doneCh
	})
}
