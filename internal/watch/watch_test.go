package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/sqlineage/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(_ context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func startWatcher(t *testing.T, opts Options) *recorder {
	t.Helper()
	rec := &recorder{}
	opts.OnChange = rec.handle
	if opts.Logger == nil {
		opts.Logger = testutil.NewTestLogger(t)
	}
	if opts.Debounce == 0 {
		opts.Debounce = 50 * time.Millisecond
	}

	w, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return rec
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestWatcher_ReportsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, Options{Paths: []string{dir}, Extensions: []string{"sql"}})

	target := filepath.Join(dir, "report.sql")
	writeFile(t, target, "SELECT a FROM t")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{target}, rec.snapshot())
}

func TestWatcher_Debounces(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, Options{Paths: []string{dir}, Extensions: []string{".sql"}, Debounce: 300 * time.Millisecond})

	target := filepath.Join(dir, "q.sql")
	for i := 0; i < 5; i++ {
		writeFile(t, target, "SELECT a FROM t")
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Less(t, len(rec.snapshot()), 5)
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, Options{Paths: []string{dir}, Extensions: []string{".sql"}})

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// give the watcher a moment to register the new directory
	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(sub, "deep.sql")
	writeFile(t, target, "SELECT 1")

	require.Eventually(t, func() bool {
		for _, p := range rec.snapshot() {
			if p == target {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_ExplicitFileIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "only.sql")
	writeFile(t, target, "SELECT 1")

	rec := startWatcher(t, Options{Paths: []string{target}, Extensions: []string{".sql"}})

	writeFile(t, filepath.Join(dir, "sibling.sql"), "SELECT 2")
	writeFile(t, target, "SELECT 3")

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{target}, rec.snapshot())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{Paths: []string{t.TempDir()}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OnChange handler is required")

	_, err = New(Options{
		Paths:    []string{filepath.Join(t.TempDir(), "missing")},
		OnChange: func(context.Context, string) {},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to watch")
}

func TestMatchExtension(t *testing.T) {
	assert.True(t, MatchExtension("a/b.sql", []string{".sql"}))
	assert.True(t, MatchExtension("a/b.SQL", []string{".sql"}))
	assert.False(t, MatchExtension("a/b.sql.bak", []string{".sql"}))
	assert.True(t, MatchExtension("anything", nil))
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))
	writeFile(t, filepath.Join(dir, "a.sql"), "")
	writeFile(t, filepath.Join(dir, "b", "c.sql"), "")
	writeFile(t, filepath.Join(dir, "b", "d.txt"), "")
	single := filepath.Join(dir, "b", "d.txt")

	files, err := Files([]string{dir, single}, []string{"sql"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.sql"),
		filepath.Join(dir, "b", "c.sql"),
		single,
	}, files)

	_, err = Files([]string{filepath.Join(dir, "missing")}, nil)
	assert.Error(t, err)
}
