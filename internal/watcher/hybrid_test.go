package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/logging"
)

func TestHybridWatcher_DetectsLifecycle(t *testing.T) {
	// Given: a watched directory
	root := t.TempDir()
	w := startWatcher(t, Options{}, root)
	require.Equal(t, "fsnotify", w.WatcherType())
	path := filepath.Join(root, "note.md")

	// When: a file is created
	writeFile(t, path, "first")

	// Then: a create (or write) is reported with a relative path
	ev := waitFor(t, w, 2*time.Second, func(e FileEvent) bool { return e.Path == "note.md" })
	assert.Contains(t, []Operation{OpCreate, OpModify}, ev.Operation)

	// When: the file is modified
	writeFile(t, path, "second")
	waitFor(t, w, 2*time.Second, func(e FileEvent) bool {
		return e.Path == "note.md" && e.Operation == OpModify
	})

	// When: the file is removed
	require.NoError(t, os.Remove(path))
	waitFor(t, w, 2*time.Second, func(e FileEvent) bool {
		return e.Path == "note.md" && e.Operation == OpDelete
	})
}

func TestHybridWatcher_IgnoresPatterns(t *testing.T) {
	// Given: a watcher ignoring *.tmp
	root := t.TempDir()
	w := startWatcher(t, Options{IgnorePatterns: []string{"*.tmp"}}, root)

	// When: an ignored file and then a regular file are written
	writeFile(t, filepath.Join(root, "scratch.tmp"), "x")
	writeFile(t, filepath.Join(root, "kept.txt"), "y")

	// Then: only the regular file is reported
	ev := waitFor(t, w, 2*time.Second, func(e FileEvent) bool {
		assert.NotEqual(t, "scratch.tmp", e.Path)
		return e.Path == "kept.txt"
	})
	assert.Equal(t, "kept.txt", ev.Path)
}

func TestHybridWatcher_NewDirectoryIsWatched(t *testing.T) {
	// Given: a watched directory
	root := t.TempDir()
	w := startWatcher(t, Options{}, root)

	// When: a subdirectory appears and a file is written inside it
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	waitFor(t, w, 2*time.Second, func(e FileEvent) bool { return e.Path == "sub" && e.IsDir })
	writeFile(t, filepath.Join(root, "sub", "inner.md"), "hello")

	// Then: the nested file is reported
	waitFor(t, w, 2*time.Second, func(e FileEvent) bool { return e.Path == "sub/inner.md" })
}

func TestHybridWatcher_StartRejectsMissingRoot(t *testing.T) {
	w, err := NewHybridWatcher(Options{Logger: logging.Discard()})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, err)
}

func TestHybridWatcher_StopClosesChannels(t *testing.T) {
	// Given: a running watcher
	w := startWatcher(t, Options{}, t.TempDir())

	// When: stopped twice
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	// Then: both channels are closed
	_, ok := <-w.Events()
	assert.False(t, ok)
	_, ok = <-w.Errors()
	assert.False(t, ok)
	assert.False(t, w.IsHealthy())
}
