package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/search"
)

// isolate points config, logs and the index at a temp dir, uses the static
// embedder and runs the test from that dir.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("RECALL_HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("RECALL_DATA_DIR", filepath.Join(home, "data"))
	t.Setenv("RECALL_EMBEDDER", "static")
	t.Setenv("NO_COLOR", "1")
	t.Chdir(home)
	return home
}

// run executes the root command with args and returns everything it wrote.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, out)
	return out
}

func searchJSON(t *testing.T, args ...string) search.Response {
	t.Helper()
	out := mustRun(t, append([]string{"search", "--format", "json"}, args...)...)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// notesDir creates a small directory of notes.
func notesDir(t *testing.T, home string) string {
	t.Helper()
	dir := filepath.Join(home, "notes")
	writeFile(t, filepath.Join(dir, "budget.md"), "# Budget\n\nThe quarterly budget review is on Friday.")
	writeFile(t, filepath.Join(dir, "groceries.txt"), "Grocery list: apples, pears, oat milk")
	writeFile(t, filepath.Join(dir, "node_modules", "dep.txt"), "quarterly budget of a dependency")
	return dir
}

func resultIDs(resp search.Response) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.DocID
	}
	return ids
}

// syncBuffer is a bytes.Buffer safe for a command writing while the test
// reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
