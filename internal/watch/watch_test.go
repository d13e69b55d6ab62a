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

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 16)}
}

func (r *recorder) handle(_ context.Context, path string) error {
	r.mu.Lock()
	r.calls = append(r.calls, path)
	r.mu.Unlock()
	r.ch <- path
	return nil
}

func (r *recorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case p := <-r.ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
		return ""
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func start(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w, err := New(rec.handle, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Add(dir))
	start(t, w)

	path := filepath.Join(dir, "report.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.WriteString("a,b\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	got := rec.wait(t)
	want, _ := filepath.Abs(path)
	assert.Equal(t, want, got)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, rec.count(), "a burst of writes settles into one call")
}

func TestWatcherIgnoresDotfiles(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w, err := New(rec.handle, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Add(dir))
	start(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".transmute-1-out.md.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible.txt"), []byte("x"), 0o644))

	got := rec.wait(t)
	assert.Equal(t, "visible.txt", filepath.Base(got))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestWatcherCollapseReportsRoot(t *testing.T) {
	root := t.TempDir()
	bundle := filepath.Join(root, "upper")
	require.NoError(t, os.Mkdir(bundle, 0o755))

	rec := newRecorder()
	w, err := New(rec.handle, WithDebounce(50*time.Millisecond), WithCollapse(), WithRecursive())
	require.NoError(t, err)
	require.NoError(t, w.Add(root))
	start(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(bundle, "plugin.hcl"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "other.txt"), []byte("x"), 0o644))

	got := rec.wait(t)
	want, _ := filepath.Abs(root)
	assert.Equal(t, want, got)
}

func TestAddRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	w, err := New(func(context.Context, string) error { return nil })
	require.NoError(t, err)
	defer w.watcher.Close()
	assert.Error(t, w.Add(path))
}
