package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func busyWork() int {
	sum := 0
	for i := range 1_000_000 {
		sum += i % 7
	}
	return sum
}

func requireNonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{Heap: "heap.prof"}.Enabled())
}

func TestSession_WritesAllProfiles(t *testing.T) {
	// Given: all three profiles requested
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}

	// When: a session runs some work and stops
	s, err := Start(opts)
	require.NoError(t, err)
	_ = busyWork()
	require.NoError(t, s.Stop())

	// Then: every file has content
	requireNonEmpty(t, opts.CPU)
	requireNonEmpty(t, opts.Heap)
	requireNonEmpty(t, opts.Trace)
}

func TestSession_StopTwice(t *testing.T) {
	// Given: a CPU-only session
	s, err := Start(Options{CPU: filepath.Join(t.TempDir(), "cpu.prof")})
	require.NoError(t, err)

	// When/Then: stopping twice is harmless
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestStart_BadPathFails(t *testing.T) {
	// Given: a CPU profile path in a missing directory
	path := filepath.Join(t.TempDir(), "missing", "cpu.prof")

	// When: starting
	_, err := Start(Options{CPU: path})

	// Then: it fails and leaves profiling off, so a new session can start
	require.Error(t, err)
	s, err := Start(Options{CPU: filepath.Join(t.TempDir(), "cpu.prof")})
	require.NoError(t, err)
	require.NoError(t, s.Stop())
}

func TestWriteHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")
	require.NoError(t, WriteHeap(path))
	requireNonEmpty(t, path)
}
