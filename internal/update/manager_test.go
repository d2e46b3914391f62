package update

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/logging"
	"github.com/Aman-CERP/recall/internal/watcher"
)

func newManager(proc Processor) *Manager {
	return NewManager(ManagerConfig{
		Debounce:     20 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		ForcePolling: true,
		Processor:    proc,
		Logger:       logging.Discard(),
	})
}

func TestManager_RootsAreIndependent(t *testing.T) {
	// Given: two roots
	proc := newFakeProcessor()
	m := newManager(proc)
	defer func() { _ = m.Close() }()
	r1, r2 := t.TempDir(), t.TempDir()
	c1, err := m.Add(r1)
	require.NoError(t, err)
	again, err := m.Add(r1)
	require.NoError(t, err)
	assert.Same(t, c1, again)
	_, err = m.Add(r2)
	require.NoError(t, err)
	assert.Len(t, m.Roots(), 2)

	// When: only the first root gets an event
	require.NoError(t, m.Notify(r1, event(watcher.OpCreate, "x.md")))

	// Then: the second root never leaves Idle
	c2, ok := m.Controller(r2)
	require.True(t, ok)
	assert.Equal(t, StateIdle, c2.State())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.WaitIdle(ctx))
	assert.Equal(t, 1, c1.Stats().Passes)
	assert.Equal(t, 0, c2.Stats().Passes)
}

func TestManager_UnknownRoot(t *testing.T) {
	m := newManager(newFakeProcessor())
	defer func() { _ = m.Close() }()

	err := m.RequestRebuild(t.TempDir())
	assert.Equal(t, rerrors.ErrCodeInvalidInput, rerrors.GetCode(err))
	err = m.Notify(t.TempDir(), event(watcher.OpCreate, "a"))
	assert.Equal(t, rerrors.ErrCodeInvalidInput, rerrors.GetCode(err))
}

func TestManager_RunWithoutRoots(t *testing.T) {
	m := newManager(newFakeProcessor())
	err := m.Run(context.Background())
	assert.Equal(t, rerrors.ErrCodeConfigInvalid, rerrors.GetCode(err))
}

func TestManager_RunIndexesNewFiles(t *testing.T) {
	// Given: a running manager over a polled root
	root := t.TempDir()
	proc := newFakeProcessor()
	m := newManager(proc)
	_, err := m.Add(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// When: a file appears
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.md"), []byte("hi"), 0o644))

	// Then: it is indexed
	assert.Eventually(t, func() bool {
		indexed, _ := proc.calls()
		return len(indexed) == 1 && indexed[0] == "hello.md"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, err = m.Add(t.TempDir())
	assert.Equal(t, rerrors.ErrCodeClosed, rerrors.GetCode(err))
}

func TestManager_RunWatcherFailureStopsEarlierWatchers(t *testing.T) {
	// Given: two roots where the second watcher cannot be created
	var created []*watcher.HybridWatcher
	m := NewManager(ManagerConfig{
		Debounce:     20 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		ForcePolling: true,
		Processor:    newFakeProcessor(),
		Logger:       logging.Discard(),
		NewWatcher: func(opts watcher.Options) (*watcher.HybridWatcher, error) {
			if len(created) == 1 {
				return nil, errors.New("too many open files")
			}
			w, err := watcher.NewHybridWatcher(opts)
			created = append(created, w)
			return w, err
		},
	})
	defer func() { _ = m.Close() }()
	_, err := m.Add(t.TempDir())
	require.NoError(t, err)
	_, err = m.Add(t.TempDir())
	require.NoError(t, err)

	// When: running
	err = m.Run(context.Background())

	// Then: the error is returned and the first watcher is already stopped
	require.ErrorContains(t, err, "too many open files")
	require.Len(t, created, 1)
	select {
	case _, ok := <-created[0].Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("first watcher is still running")
	}
}
