package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchCmd_IndexesChangesUntilStopped(t *testing.T) {
	if testing.Short() {
		t.Skip("watches the file system for a few seconds")
	}

	// Given: a watched directory with a short debounce
	home := isolate(t)
	dir := notesDir(t, home)
	writeFile(t, filepath.Join(home, ".recall.yaml"), "watch:\n  debounce: 50ms\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewRootCmd()
	buf := &syncBuffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{"watch", dir})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "Watching 1 directory")
	}, 10*time.Second, 20*time.Millisecond)

	// When: a new note appears while watching
	writeFile(t, filepath.Join(dir, "trip.md"), "Flight to Lisbon leaves at 7am")
	time.Sleep(2 * time.Second)
	cancel()

	// Then: the watch stops cleanly and the new note is indexed
	select {
	case err := <-done:
		require.NoError(t, err, buf.String())
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Contains(t, buf.String(), "Stopped watching")

	resp := searchJSON(t, "Lisbon flight")
	assert.Contains(t, resultIDs(resp), "notes/file/trip.md")
	assert.Contains(t, resultIDs(searchJSON(t, "quarterly budget")), "notes/file/budget.md", "initial scan indexes existing files")
}
