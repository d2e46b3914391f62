package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/document"
	"github.com/Aman-CERP/recall/internal/embed"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/logging"
	"github.com/Aman-CERP/recall/internal/search"
)

var t0 = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

// switchEmbedder is a StaticEmbedder that can be taken down and renamed.
type switchEmbedder struct {
	*embed.StaticEmbedder
	model string
	down  atomic.Bool
}

func newSwitchEmbedder(model string) *switchEmbedder {
	return &switchEmbedder{StaticEmbedder: embed.NewStaticEmbedder(), model: model}
}

func (e *switchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.down.Load() {
		return nil, embed.ErrUnavailable("embedding service is down", nil)
	}
	return e.StaticEmbedder.Embed(ctx, text)
}

func (e *switchEmbedder) ModelName() string { return e.model }

func (e *switchEmbedder) Available(ctx context.Context) bool { return !e.down.Load() }

func openService(t *testing.T, dataDir string, emb embed.Embedder) *Service {
	t.Helper()
	if emb == nil {
		emb = newSwitchEmbedder("static-test")
	}
	svc, err := Open(context.Background(), Options{
		DataDir:  dataDir,
		Config:   config.NewConfig(),
		Embedder: emb,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	return svc
}

func newService(t *testing.T) *Service {
	t.Helper()
	svc := openService(t, t.TempDir(), nil)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func message(id, text string) *document.Document {
	return document.NewMessage("chat", id, text, t0)
}

func query(t *testing.T, svc *Service, text string) []string {
	t.Helper()
	resp, err := svc.Query(context.Background(), search.Query{Text: text})
	require.NoError(t, err)
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.DocID
	}
	return ids
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestOpen_LocksDataDir(t *testing.T) {
	// Given: an open index
	dir := t.TempDir()
	svc := openService(t, dir, nil)

	// When: a second service opens the same directory
	_, err := Open(context.Background(), Options{DataDir: dir, Embedder: newSwitchEmbedder("x"), Logger: logging.Discard()})

	// Then: it is refused until the first one closes
	assert.True(t, rerrors.HasCode(err, rerrors.ErrCodeIndexLocked))
	require.NoError(t, svc.Close())

	again := openService(t, dir, nil)
	assert.NoError(t, again.Close())
}

func TestApply_CreateQueryDelete(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	// Given: a message delivered through the ingestion boundary
	doc := message("1", "quarterly budget review with the finance team")
	require.NoError(t, svc.Apply(ctx, document.Event{Kind: document.Created, Document: doc}))

	// Then: it is searchable with both scores
	resp, err := svc.Query(ctx, search.Query{Text: "budget review"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, doc.ID, resp.Results[0].DocID)
	assert.Positive(t, resp.Results[0].LexicalScore)
	assert.Positive(t, resp.Results[0].SemanticScore)
	assert.False(t, resp.Degraded)

	// When: it is deleted
	require.NoError(t, svc.Apply(ctx, document.Event{Kind: document.Deleted, ID: doc.ID}))

	// Then: neither store returns it
	assert.Empty(t, query(t, svc, "budget review"))
	assert.Equal(t, 0, svc.Metadata().TotalDocuments)
	assert.False(t, svc.vectors.Contains(doc.ID))
}

func TestApply_RejectsInvalidEvents(t *testing.T) {
	svc := newService(t)

	err := svc.Apply(context.Background(), document.Event{Kind: document.Created})
	assert.True(t, rerrors.HasCode(err, rerrors.ErrCodeInvalidInput))

	err = svc.Apply(context.Background(), document.Event{Kind: document.Deleted})
	assert.True(t, rerrors.HasCode(err, rerrors.ErrCodeInvalidInput))
}

func TestIndexDocument_IdempotentReindex(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	doc := message("1", "garden tomatoes need water")

	// When: indexing the same document twice
	require.NoError(t, svc.IndexDocument(ctx, doc))
	first := query(t, svc, "tomatoes")
	require.NoError(t, svc.IndexDocument(ctx, doc))

	// Then: one document, one vector, identical results
	assert.Equal(t, 1, svc.Metadata().TotalDocuments)
	assert.Equal(t, 1, svc.vectors.Len())
	assert.Equal(t, first, query(t, svc, "tomatoes"))
}

func TestIndexDocument_UpdateReplacesContent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.IndexDocument(ctx, message("1", "flight to lisbon")))

	require.NoError(t, svc.Apply(ctx, document.Event{Kind: document.Updated, Document: message("1", "train to porto")}))

	assert.Empty(t, query(t, svc, "lisbon"))
	assert.Equal(t, []string{"chat/msg/1"}, query(t, svc, "porto"))
}

func TestIndexDocument_EmbedderDownStaysLexical(t *testing.T) {
	// Given: an embedder that is down
	emb := newSwitchEmbedder("static-test")
	svc := openService(t, t.TempDir(), emb)
	defer svc.Close()
	ctx := context.Background()
	emb.down.Store(true)

	// When: indexing
	require.NoError(t, svc.IndexDocument(ctx, message("1", "invoice from the plumber")))

	// Then: the document is found lexically and reported as missing a vector
	resp, err := svc.Query(ctx, search.Query{Text: "plumber invoice"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Degraded)

	check, err := svc.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, check.Count(InconsistencyMissingVector))

	// When: the embedder recovers and the index is repaired
	emb.down.Store(false)
	rep, err := svc.Repair(ctx)

	// Then: the vector is back
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reembedded)
	assert.True(t, svc.vectors.Contains("chat/msg/1"))
}

func TestIndexDocument_CancelledBeforeStart(t *testing.T) {
	svc := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.IndexDocument(ctx, message("1", "never written"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, svc.Metadata().TotalDocuments)
}

func TestCheck_FindsOrphanVectors(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	vec, err := svc.embedder.Embed(ctx, "stray")
	require.NoError(t, err)
	require.NoError(t, svc.vectors.Upsert(ctx, "chat/msg/ghost", vec))

	check, err := svc.Check(ctx)
	require.NoError(t, err)
	require.Len(t, check.Inconsistencies, 1)
	assert.Equal(t, InconsistencyOrphanVector, check.Inconsistencies[0].Type)
	assert.Equal(t, "orphan_vector", check.Inconsistencies[0].Type.String())

	rep, err := svc.Repair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.OrphansRemoved)
	assert.Equal(t, 0, svc.vectors.Len())
}

func TestIndexPath_FilesOfARoot(t *testing.T) {
	// Given: a root with a nested text file and an unsupported binary
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes", "trip.md"), "packing list for the mountain trip")
	writeFile(t, filepath.Join(root, "notes", "old.md"), "old draft")
	writeFile(t, filepath.Join(root, "tool.exe"), "MZ")
	svc := newService(t)
	session := svc.AddRoot(config.RootConfig{Path: root, Session: "personal"})
	ctx := context.Background()

	// When: indexing the paths
	require.NoError(t, svc.IndexPath(ctx, root, "notes/trip.md"))
	require.NoError(t, svc.IndexPath(ctx, root, "notes/old.md"))
	require.NoError(t, svc.IndexPath(ctx, root, "tool.exe"))

	// Then: the text files are file documents of the root's session
	assert.Equal(t, []string{"notes/old.md", "notes/trip.md"}, svc.IndexedPaths(root))
	resp, err := svc.Query(ctx, search.Query{Text: "mountain"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	got := resp.Results[0]
	assert.Equal(t, document.FileID(session, "notes/trip.md"), got.DocID)
	assert.Equal(t, document.KindFile, got.Kind)
	assert.Equal(t, filepath.Join(root, "notes", "trip.md"), got.Path)

	// When: the directory is removed
	require.NoError(t, svc.RemovePath(ctx, root, "notes"))

	// Then: every file below it is gone
	assert.Empty(t, svc.IndexedPaths(root))
	assert.Equal(t, 0, svc.vectors.Len())
}

func TestIndexPath_VanishedFileIsRemoved(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "ephemeral content")
	svc := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.IndexPath(ctx, root, "a.txt"))
	require.Len(t, svc.IndexedPaths(root), 1)

	require.NoError(t, os.Remove(path))
	require.NoError(t, svc.IndexPath(ctx, root, "a.txt"))

	assert.Empty(t, svc.IndexedPaths(root))
}

func TestIndexPath_UnreadableFileDropsOldContent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "big.txt")
	writeFile(t, path, "small enough")
	cfg := config.NewConfig()
	cfg.Extract.MaxFileSizeMB = 1
	svc, err := Open(context.Background(), Options{
		DataDir: t.TempDir(), Config: cfg, Embedder: newSwitchEmbedder("m"), Logger: logging.Discard(),
	})
	require.NoError(t, err)
	defer svc.Close()
	ctx := context.Background()
	require.NoError(t, svc.IndexPath(ctx, root, "big.txt"))

	// When: the file grows past the size limit
	writeFile(t, path, strings.Repeat("x", 2<<20))
	err = svc.IndexPath(ctx, root, "big.txt")

	// Then: the error is reported and the stale version is not searchable
	assert.True(t, rerrors.HasCode(err, rerrors.ErrCodeFileTooLarge))
	assert.Empty(t, query(t, svc, "small"))
}

func TestReopen_KeepsIndexAndMetadata(t *testing.T) {
	dir := t.TempDir()
	svc := openService(t, dir, nil)
	require.NoError(t, svc.IndexDocument(context.Background(), message("1", "persistent memory of the meeting")))
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	// When: reopening with the same embedder
	svc = openService(t, dir, nil)
	defer svc.Close()

	// Then: nothing needs rebuilding and both stores are back
	assert.False(t, svc.NeedsRebuild())
	assert.Equal(t, []string{"chat/msg/1"}, query(t, svc, "meeting"))
	meta := svc.Metadata()
	assert.Equal(t, SchemaVersion, meta.SchemaVersion)
	assert.Equal(t, "static-test", meta.EmbedderModel)
	assert.Equal(t, embed.StaticDimensions, meta.Dimensions)
	assert.Equal(t, 1, meta.TotalDocuments)
	assert.False(t, meta.LastIndexedAt.IsZero())
	assert.Equal(t, 1, svc.vectors.Len())
}

func TestClose_RejectsFurtherUse(t *testing.T) {
	svc := openService(t, t.TempDir(), nil)
	require.NoError(t, svc.Close())

	_, err := svc.Query(context.Background(), search.Query{Text: "x"})
	assert.True(t, rerrors.HasCode(err, rerrors.ErrCodeClosed))
	assert.True(t, rerrors.HasCode(svc.IndexDocument(context.Background(), message("1", "x")), rerrors.ErrCodeClosed))
}

func TestReopen_ModelChangeSchedulesRebuild(t *testing.T) {
	// Given: an index built with one model
	dir := t.TempDir()
	svc := openService(t, dir, newSwitchEmbedder("model-a"))
	require.NoError(t, svc.IndexDocument(context.Background(), message("1", "weekend hiking plans")))
	require.NoError(t, svc.Close())

	// When: reopening with another model
	svc = openService(t, dir, newSwitchEmbedder("model-b"))

	// Then: the old vectors are dropped and a rebuild is pending
	assert.True(t, svc.NeedsRebuild())
	assert.Contains(t, strings.Join(svc.RebuildReasons(), ";"), "model-a")
	assert.Equal(t, 0, svc.vectors.Len())
	assert.Equal(t, []string{"chat/msg/1"}, query(t, svc, "hiking"))

	// When: rebuilding
	stats, err := svc.Rebuild(context.Background(), nil)

	// Then: the retained document is re-embedded and the flag clears
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reindexed)
	assert.False(t, svc.NeedsRebuild())
	assert.Equal(t, 1, svc.vectors.Len())
	require.NoError(t, svc.Close())

	svc = openService(t, dir, newSwitchEmbedder("model-b"))
	defer svc.Close()
	assert.False(t, svc.NeedsRebuild())
}

func TestOpen_CorruptStoresAreCleared(t *testing.T) {
	// Given: garbage in both store files
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, LexicalFileName), strings.Repeat("not a sqlite database. ", 400))
	writeFile(t, filepath.Join(dir, "vectors.gob"), "not gob")

	// When: opening
	svc := openService(t, dir, nil)
	defer svc.Close()

	// Then: the index is usable and flagged
	assert.True(t, svc.NeedsRebuild())
	require.NoError(t, svc.IndexDocument(context.Background(), message("1", "fresh start")))
	assert.Equal(t, []string{"chat/msg/1"}, query(t, svc, "fresh"))
}

func TestRebuild_ScansRootsAndDropsVanishedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "alpha report")
	writeFile(t, filepath.Join(root, "gone.txt"), "beta report")
	svc := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.IndexDocument(ctx, message("m", "gamma report")))
	require.NoError(t, svc.IndexPath(ctx, root, "gone.txt"))

	// Given: one indexed file vanished and another was never indexed
	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))

	// When: rebuilding with the root
	stats, err := svc.Rebuild(ctx, []config.RootConfig{{Path: root}})

	// Then: the message is re-indexed, the new file scanned, the vanished removed
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reindexed)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, []string{"keep.txt"}, svc.IndexedPaths(root))
	assert.Len(t, query(t, svc, "report"), 2)
}

func TestRebuild_CancelledStaysPending(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.IndexDocument(context.Background(), message("1", "text")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Rebuild(ctx, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, svc.NeedsRebuild())
}

func TestStatus(t *testing.T) {
	svc := newService(t)
	require.NoError(t, svc.IndexDocument(context.Background(), message("1", "status check words")))

	st := svc.Status(context.Background())

	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, 1, st.Vectors)
	assert.Equal(t, "exact", st.Backend)
	assert.True(t, st.EmbedderAvailable)
	assert.False(t, st.NeedsRebuild)
	assert.Positive(t, st.Terms)
}
