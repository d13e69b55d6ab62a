// Copyright 2026 Conductor OSS
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package watch turns bursts of filesystem events into debounced callbacks.
// It drives hot-folder conversions and plugin directory reloads.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a callback fires.
const DefaultDebounce = 500 * time.Millisecond

// Handler is called once per settled path.
type Handler func(ctx context.Context, path string) error

// Watcher monitors directories and calls a Handler after changes settle.
type Watcher struct {
	watcher   *fsnotify.Watcher
	handler   Handler
	onError   func(path string, err error)
	logger    *slog.Logger
	debounce  time.Duration
	recursive bool
	collapse  bool

	mu         sync.Mutex
	roots      []string
	timers     map[string]*time.Timer
	processing map[string]bool
	pending    map[string]bool
	inflight   sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRecursive also watches subdirectories, including ones created later.
func WithRecursive() Option {
	return func(w *Watcher) { w.recursive = true }
}

// WithCollapse reports every change under a root as a single event for the
// root itself.
func WithCollapse() Option {
	return func(w *Watcher) { w.collapse = true }
}

// WithErrorHandler receives handler and watcher errors.
func WithErrorHandler(fn func(path string, err error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher that calls handler.
func New(handler Handler, opts ...Option) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		watcher:    fsWatcher,
		handler:    handler,
		logger:     slog.Default(),
		debounce:   DefaultDebounce,
		timers:     make(map[string]*time.Timer),
		processing: make(map[string]bool),
		pending:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add starts watching dir.
func (w *Watcher) Add(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", absDir)
	}

	w.mu.Lock()
	w.roots = append(w.roots, absDir)
	w.mu.Unlock()

	if !w.recursive {
		return w.addDir(absDir)
	}
	return filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.addDir(path)
		}
		return nil
	})
}

func (w *Watcher) addDir(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	return nil
}

// Run dispatches events until ctx is cancelled, then waits for running
// handlers and closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.reportError("", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if ignored(event.Name) {
		return
	}
	absPath, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	if w.recursive && event.Has(fsnotify.Create) {
		if info, err := os.Stat(absPath); err == nil && info.IsDir() {
			if err := w.addDir(absPath); err != nil {
				w.reportError(absPath, err)
			}
		}
	}

	key := absPath
	if w.collapse {
		key = w.rootOf(absPath)
	} else if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, exists := w.timers[key]; exists {
		timer.Stop()
	}
	w.timers[key] = time.AfterFunc(w.debounce, func() {
		w.fire(ctx, key)
	})
}

func (w *Watcher) fire(ctx context.Context, key string) {
	w.mu.Lock()
	delete(w.timers, key)
	if ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	if w.processing[key] {
		// Run again once the current call returns.
		w.pending[key] = true
		w.mu.Unlock()
		return
	}
	w.processing[key] = true
	w.inflight.Add(1)
	w.mu.Unlock()

	defer w.inflight.Done()
	for {
		w.call(ctx, key)

		w.mu.Lock()
		if !w.pending[key] || ctx.Err() != nil {
			delete(w.processing, key)
			delete(w.pending, key)
			w.mu.Unlock()
			return
		}
		delete(w.pending, key)
		w.mu.Unlock()
	}
}

func (w *Watcher) call(ctx context.Context, path string) {
	if !w.collapse {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			w.reportError(path, err)
			return
		}
		if info.IsDir() {
			return
		}
	}
	w.logger.Debug("watch: change settled", "path", path)
	if err := w.handler(ctx, path); err != nil {
		w.reportError(path, err)
	}
}

func (w *Watcher) rootOf(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	best := ""
	for _, root := range w.roots {
		if (path == root || strings.HasPrefix(path, root+string(filepath.Separator))) && len(root) > len(best) {
			best = root
		}
	}
	if best == "" {
		return filepath.Dir(path)
	}
	return best
}

func (w *Watcher) reportError(path string, err error) {
	if w.onError != nil {
		w.onError(path, err)
		return
	}
	w.logger.Warn("watch error", "path", path, "error", err)
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	for key, timer := range w.timers {
		timer.Stop()
		delete(w.timers, key)
	}
	w.mu.Unlock()
	w.inflight.Wait()
	w.watcher.Close()
}

// ignored skips dotfiles, which covers in-flight conversion temp files and
// editor swap files.
func ignored(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
