package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/logging"
)

func TestRootCmd_Subcommands(t *testing.T) {
	// Given: the root command
	root := NewRootCmd()

	// When/Then: every subcommand is registered
	for _, name := range []string{
		"index", "search", "watch", "rebuild", "status", "repair",
		"add", "remove", "config", "doctor", "logs", "version",
	} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCmd_DebugWritesLogFile(t *testing.T) {
	// Given: an isolated home
	home := isolate(t)

	// When: running a command with --debug
	mustRun(t, "add", "hello", "--debug")

	// Then: the rotating log file holds the run's events
	path := filepath.Join(home, "logs", "recall.log")
	require.FileExists(t, path)
	entries, err := logging.Tail(path, 100, "debug")
	require.NoError(t, err)
	var msgs []string
	for _, e := range entries {
		msgs = append(msgs, e.Msg)
	}
	assert.Contains(t, msgs, "logging_initialized")
	assert.Contains(t, msgs, "index_opened")
}

func TestRootCmd_ProfilesRun(t *testing.T) {
	// Given: profile flags
	home := isolate(t)
	cpu := filepath.Join(home, "cpu.prof")
	heap := filepath.Join(home, "heap.prof")

	// When: running a command
	mustRun(t, "version", "--profile-cpu", cpu, "--profile-mem", heap)

	// Then: the profiles are written
	for _, p := range []string{cpu, heap} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestRootCmd_IndexLockedByAnotherProcess(t *testing.T) {
	// Given: an index held open
	isolate(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	svc, err := openIndex(t.Context(), cfg)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	// When: another command opens it
	_, err = run(t, "status")

	// Then: it is told the index is locked
	require.Error(t, err)
	assert.True(t, rerrors.HasCode(err, rerrors.ErrCodeIndexLocked), "got %v", err)
}
