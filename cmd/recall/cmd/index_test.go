package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/index"
)

func TestIndexCmd_IndexesAndSearchesFiles(t *testing.T) {
	// Given: a directory of notes
	home := isolate(t)
	dir := notesDir(t, home)

	// When: indexing it
	out := mustRun(t, "index", dir)

	// Then: both notes are indexed and excluded directories are skipped
	assert.Contains(t, out, "notes: "+dir)
	assert.Contains(t, out, "2 indexed")
	assert.FileExists(t, filepath.Join(home, "data", index.MetadataFileName))

	resp := searchJSON(t, "quarterly budget")
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "notes/file/budget.md", resp.Results[0].DocID)
	assert.Equal(t, "notes", resp.Results[0].SessionID)
	assert.NotContains(t, resultIDs(resp), "notes/file/node_modules/dep.txt")
}

func TestIndexCmd_RemovesVanishedFiles(t *testing.T) {
	// Given: an indexed directory
	home := isolate(t)
	dir := notesDir(t, home)
	mustRun(t, "index", dir)

	// When: a file is deleted and the directory indexed again
	require.NoError(t, os.Remove(filepath.Join(dir, "groceries.txt")))
	out := mustRun(t, "index", dir)

	// Then: the file's document is gone
	assert.Contains(t, out, "1 removed")
	resp := searchJSON(t, "grocery apples")
	assert.NotContains(t, resultIDs(resp), "notes/file/groceries.txt")
}

func TestIndexCmd_SessionFlag(t *testing.T) {
	// Given: a directory of notes
	home := isolate(t)
	dir := notesDir(t, home)

	// When: indexing it under an explicit session
	mustRun(t, "index", dir, "--session", "work")

	// Then: documents belong to that session
	resp := searchJSON(t, "budget", "--session", "work")
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "work/file/budget.md", resp.Results[0].DocID)
	assert.Empty(t, searchJSON(t, "budget", "--session", "notes").Results)
}

func TestIndexCmd_Errors(t *testing.T) {
	tests := []struct {
		name string
		args func(home string) []string
		code string
	}{
		{
			name: "no directories and no configured roots",
			args: func(string) []string { return []string{"index"} },
			code: rerrors.ErrCodeConfigInvalid,
		},
		{
			name: "missing directory",
			args: func(home string) []string { return []string{"index", filepath.Join(home, "missing")} },
			code: rerrors.ErrCodeFileNotFound,
		},
		{
			name: "file instead of directory",
			args: func(home string) []string {
				p := filepath.Join(home, "file.txt")
				_ = os.WriteFile(p, []byte("x"), 0o644)
				return []string{"index", p}
			},
			code: rerrors.ErrCodeInvalidPath,
		},
		{
			name: "session with several directories",
			args: func(home string) []string { return []string{"index", home, home, "--session", "s"} },
			code: rerrors.ErrCodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolate(t)
			_, err := run(t, tt.args(home)...)
			require.Error(t, err)
			assert.True(t, rerrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestIndexCmd_UsesConfiguredRoots(t *testing.T) {
	// Given: a project config naming a watch root with a session
	home := isolate(t)
	dir := notesDir(t, home)
	writeFile(t, filepath.Join(home, ".recall.yaml"), "watch:\n  roots:\n    - path: "+dir+"\n      session: journal\n")

	// When: indexing without arguments
	out := mustRun(t, "index")

	// Then: the configured root is indexed under its session
	assert.Contains(t, out, "journal: "+dir)
	resp := searchJSON(t, "budget")
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "journal/file/budget.md", resp.Results[0].DocID)
}

func TestRebuildCmd(t *testing.T) {
	// Given: an index with a message and an indexed directory
	home := isolate(t)
	dir := notesDir(t, home)
	mustRun(t, "index", dir)
	mustRun(t, "add", "Renew the TLS certificates", "--session", "ops", "--id", "tls")

	// When: rebuilding
	out := mustRun(t, "rebuild")

	// Then: every retained document is refreshed
	assert.Contains(t, out, "Rebuilt index: 3 reindexed")
	resp := searchJSON(t, "certificates")
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "ops/msg/tls", resp.Results[0].DocID)
}

func TestIndexCmd_RebuildsStaleIndex(t *testing.T) {
	// Given: an index whose metadata names another embedder model
	home := isolate(t)
	dir := notesDir(t, home)
	mustRun(t, "index", dir)

	metaPath := filepath.Join(home, "data", index.MetadataFileName)
	meta, err := index.LoadMetadata(metaPath)
	require.NoError(t, err)
	meta.EmbedderModel = "some-other-model"
	require.NoError(t, meta.Save(metaPath))

	// When: indexing again
	out := mustRun(t, "index", dir)

	// Then: the index is rebuilt instead of scanned
	assert.Contains(t, out, "Index needs a rebuild")
	assert.Contains(t, out, "Rebuilt index")

	status := mustRun(t, "status")
	assert.NotContains(t, status, "Rebuild pending")
}
