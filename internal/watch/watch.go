// Package watch reports changed SQL files under a set of paths.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler is called once per changed file after the debounce interval.
type Handler func(ctx context.Context, path string)

// Options configures a Watcher.
type Options struct {
	Paths      []string // files or directories; directories are watched recursively
	Extensions []string // e.g. ".sql"; empty matches every file
	Debounce   time.Duration
	Logger     *slog.Logger
	OnChange   Handler
}

// Watcher debounces filesystem events into per-file change notifications.
type Watcher struct {
	fsw        *fsnotify.Watcher
	files      map[string]bool // explicitly watched files
	roots      []string        // directories watched recursively
	extensions []string
	debounce   time.Duration
	logger     *slog.Logger
	onChange   Handler

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a Watcher and registers every path. Nothing is reported until
// Run is called.
func New(opts Options) (*Watcher, error) {
	if opts.OnChange == nil {
		return nil, fmt.Errorf("watch: OnChange handler is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		fsw:        fsw,
		files:      make(map[string]bool),
		extensions: normalizeExtensions(opts.Extensions),
		debounce:   opts.Debounce,
		logger:     opts.Logger,
		onChange:   opts.OnChange,
		timers:     make(map[string]*time.Timer),
	}

	for _, p := range opts.Paths {
		if err := w.add(p); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	if !info.IsDir() {
		// editors replace files on save, so watch the directory instead
		w.files[filepath.Clean(path)] = true
		return w.fsw.Add(filepath.Dir(path))
	}
	w.roots = append(w.roots, filepath.Clean(path))
	return watchDirRecursive(w.fsw, path)
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// Run delivers change notifications until ctx is cancelled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watchDirRecursive(w.fsw, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", slog.String("dir", event.Name), slog.String("error", err.Error()))
			}
			return
		}
	}

	if !w.matches(event.Name) {
		return
	}

	path := event.Name
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.logger.Debug("file changed", slog.String("file", path))
		w.onChange(ctx, path)
	})
}

// matches reports whether a changed path should be reported: an explicitly
// watched file, or a file with a matching extension under a watched directory.
func (w *Watcher) matches(path string) bool {
	clean := filepath.Clean(path)
	if w.files[clean] {
		return true
	}
	for _, root := range w.roots {
		if rel, err := filepath.Rel(root, clean); err == nil && !strings.HasPrefix(rel, "..") {
			return MatchExtension(clean, w.extensions)
		}
	}
	return false
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = map[string]*time.Timer{}
	w.mu.Unlock()
	_ = w.fsw.Close()
}

// MatchExtension reports whether path ends in one of extensions, compared
// case-insensitively. An empty list matches every path.
func MatchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	return slices.Contains(extensions, strings.ToLower(filepath.Ext(path)))
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// Files returns the files under paths matching extensions, in lexical order
// per path. File paths are returned as given.
func Files(paths []string, extensions []string) ([]string, error) {
	exts := normalizeExtensions(extensions)
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && MatchExtension(path, exts) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
