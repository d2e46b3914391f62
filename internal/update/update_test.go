package update

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/logging"
	"github.com/Aman-CERP/recall/internal/watcher"
)

// fakeProcessor records calls and reads file content at index time.
type fakeProcessor struct {
	mu       sync.Mutex
	indexed  []string
	removed  []string
	contents map[string]string
	fail     map[string]error
	existing []string
	// gate, when set, blocks IndexPath until a value is received
	gate    chan struct{}
	started chan string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{contents: map[string]string{}, fail: map[string]error{}}
}

func (f *fakeProcessor) IndexPath(ctx context.Context, root, rel string) error {
	if f.started != nil {
		f.started <- rel
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[rel]; err != nil {
		return err
	}
	f.indexed = append(f.indexed, rel)
	if data, err := os.ReadFile(filepath.Join(root, rel)); err == nil {
		f.contents[rel] = string(data)
	}
	return nil
}

func (f *fakeProcessor) RemovePath(ctx context.Context, root, rel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, rel)
	return nil
}

func (f *fakeProcessor) IndexedPaths(root string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.existing...)
}

func (f *fakeProcessor) calls() (indexed, removed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	indexed = append([]string(nil), f.indexed...)
	removed = append([]string(nil), f.removed...)
	sort.Strings(indexed)
	sort.Strings(removed)
	return indexed, removed
}

func newController(t *testing.T, root string, proc Processor, debounce time.Duration) *Controller {
	t.Helper()
	c, err := NewController(Config{
		Root:      root,
		Debounce:  debounce,
		Exclude:   []string{"*.tmp"},
		Processor: proc,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitIdle(ctx))
}

func event(op watcher.Operation, path string) watcher.FileEvent {
	return watcher.FileEvent{Path: path, Operation: op, Timestamp: time.Now()}
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		pending, next, want action
	}{
		{actionCreate, actionModify, actionCreate},
		{actionCreate, actionDelete, actionNone},
		{actionModify, actionDelete, actionDelete},
		{actionDelete, actionCreate, actionModify},
		{actionModify, actionModify, actionModify},
		{actionDelete, actionDelete, actionDelete},
	}
	for _, tt := range tests {
		t.Run(tt.pending.String()+"+"+tt.next.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, coalesce(tt.pending, tt.next))
		})
	}
}

func TestController_CoalescedUpdatesIndexFinalContentOnce(t *testing.T) {
	// Given: a file and an idle controller
	root := t.TempDir()
	path := filepath.Join(root, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o644))
	proc := newFakeProcessor()
	c := newController(t, root, proc, 50*time.Millisecond)
	assert.Equal(t, StateIdle, c.State())

	// When: five writes land within the debounce window
	for i := 1; i <= 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("v"+string(rune('0'+i))), 0o644))
		c.Notify(event(watcher.OpModify, "note.md"))
	}
	assert.Equal(t, StatePending, c.State())
	waitIdle(t, c)

	// Then: one pass indexed the path once with its final content
	indexed, _ := proc.calls()
	assert.Equal(t, []string{"note.md"}, indexed)
	assert.Equal(t, "v5", proc.contents["note.md"])
	stats := c.Stats()
	assert.Equal(t, 1, stats.Passes)
	assert.Equal(t, 1, stats.Indexed)
	assert.NotEmpty(t, stats.LastScanID)
}

func TestController_DebounceRearms(t *testing.T) {
	// Given: a 100ms debounce
	proc := newFakeProcessor()
	c := newController(t, t.TempDir(), proc, 100*time.Millisecond)

	// When: events keep arriving every 40ms
	for range 4 {
		c.Notify(event(watcher.OpModify, "a.md"))
		time.Sleep(40 * time.Millisecond)
	}

	// Then: nothing ran yet, and a single pass follows the quiet period
	assert.Equal(t, 0, c.Stats().Passes)
	waitIdle(t, c)
	assert.Equal(t, 1, c.Stats().Passes)
}

func TestController_CreateThenDeleteIsNothing(t *testing.T) {
	proc := newFakeProcessor()
	c := newController(t, t.TempDir(), proc, 20*time.Millisecond)

	c.Notify(event(watcher.OpCreate, "temp.md"))
	c.Notify(event(watcher.OpDelete, "temp.md"))

	assert.Equal(t, StateIdle, c.State())
	waitIdle(t, c)
	time.Sleep(50 * time.Millisecond)
	indexed, removed := proc.calls()
	assert.Empty(t, indexed)
	assert.Empty(t, removed)
	assert.Equal(t, 0, c.Stats().Passes)
}

func TestController_CreateThenDeleteOfIndexedPathRemoves(t *testing.T) {
	// Given: a path whose old content is still indexed
	proc := newFakeProcessor()
	proc.existing = []string{"stale.md"}
	c := newController(t, t.TempDir(), proc, 20*time.Millisecond)

	// When: it is recreated and deleted within one debounce window
	c.Notify(event(watcher.OpCreate, "stale.md"))
	c.Notify(event(watcher.OpDelete, "stale.md"))
	waitIdle(t, c)

	// Then: the stale documents are removed
	indexed, removed := proc.calls()
	assert.Empty(t, indexed)
	assert.Equal(t, []string{"stale.md"}, removed)
	assert.Equal(t, 1, c.Stats().Removed)
}

func TestController_DeleteThenCreateReindexes(t *testing.T) {
	proc := newFakeProcessor()
	c := newController(t, t.TempDir(), proc, 20*time.Millisecond)

	c.Notify(event(watcher.OpDelete, "a.md"))
	c.Notify(event(watcher.OpCreate, "a.md"))
	c.Notify(event(watcher.OpModify, "b.md"))
	c.Notify(event(watcher.OpDelete, "b.md"))
	waitIdle(t, c)

	indexed, removed := proc.calls()
	assert.Equal(t, []string{"a.md"}, indexed)
	assert.Equal(t, []string{"b.md"}, removed)
}

func TestController_RenameAndIgnored(t *testing.T) {
	proc := newFakeProcessor()
	c := newController(t, t.TempDir(), proc, 20*time.Millisecond)

	c.Notify(watcher.FileEvent{Path: "new.md", OldPath: "old.md", Operation: watcher.OpRename})
	c.Notify(event(watcher.OpRename, "moved-away.md"))
	c.Notify(event(watcher.OpCreate, "scratch.tmp"))
	c.Notify(watcher.FileEvent{Path: "dir", Operation: watcher.OpCreate, IsDir: true})
	waitIdle(t, c)

	indexed, removed := proc.calls()
	assert.Equal(t, []string{"new.md"}, indexed)
	assert.Equal(t, []string{"moved-away.md", "old.md"}, removed)
}

func TestController_FailuresAreSkipped(t *testing.T) {
	// Given: a processor that fails on one path
	proc := newFakeProcessor()
	proc.fail["bad.pdf"] = errors.New("corrupt")
	c := newController(t, t.TempDir(), proc, 20*time.Millisecond)

	// When: three paths change
	for _, p := range []string{"a.md", "bad.pdf", "c.md"} {
		c.Notify(event(watcher.OpCreate, p))
	}
	waitIdle(t, c)

	// Then: the others are still indexed
	indexed, _ := proc.calls()
	assert.Equal(t, []string{"a.md", "c.md"}, indexed)
	stats := c.Stats()
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 1, stats.Failed)
}

func TestController_EventsDuringScanTriggerAnotherPass(t *testing.T) {
	// Given: a scan blocked inside the processor
	proc := newFakeProcessor()
	proc.gate = make(chan struct{})
	proc.started = make(chan string, 10)
	c := newController(t, t.TempDir(), proc, 20*time.Millisecond)

	c.Notify(event(watcher.OpCreate, "first.md"))
	<-proc.started
	assert.Equal(t, StateScanning, c.State())

	// When: another event arrives mid-scan
	c.Notify(event(watcher.OpCreate, "second.md"))
	assert.Equal(t, StateScanning, c.State())
	proc.gate <- struct{}{}
	<-proc.started
	proc.gate <- struct{}{}
	waitIdle(t, c)

	// Then: a second pass picked it up
	indexed, _ := proc.calls()
	assert.Equal(t, []string{"first.md", "second.md"}, indexed)
	assert.Equal(t, 2, c.Stats().Passes)
}

func TestController_CloseCancelsBetweenDocuments(t *testing.T) {
	// Given: a scan of three paths blocked on the first
	proc := newFakeProcessor()
	proc.gate = make(chan struct{})
	proc.started = make(chan string, 10)
	c := newController(t, t.TempDir(), proc, 10*time.Millisecond)
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		c.Notify(event(watcher.OpCreate, p))
	}
	<-proc.started

	// When: the controller closes while the first document is in progress
	closed := make(chan struct{})
	go func() {
		_ = c.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)
	proc.gate <- struct{}{}
	<-closed

	// Then: the in-progress document completed and the rest were skipped
	indexed, _ := proc.calls()
	assert.Equal(t, []string{"a.md"}, indexed)
	assert.Equal(t, StateIdle, c.State())
}

func TestController_Rebuild(t *testing.T) {
	// Given: a root with two files, an ignored one, and a stale indexed path
	root := t.TempDir()
	for _, p := range []string{"a.md", "sub/b.txt", "junk.tmp"} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(p), 0o644))
	}
	proc := newFakeProcessor()
	proc.existing = []string{"a.md", "gone.md"}
	c := newController(t, root, proc, 10*time.Millisecond)

	// When: a rebuild is requested
	c.RequestRebuild()
	waitIdle(t, c)

	// Then: present files are re-indexed and the vanished one removed
	indexed, removed := proc.calls()
	assert.Equal(t, []string{"a.md", "sub/b.txt"}, indexed)
	assert.Equal(t, []string{"gone.md"}, removed)
}

func TestController_NeedsProcessor(t *testing.T) {
	_, err := NewController(Config{Root: t.TempDir()})
	assert.Error(t, err)
}
