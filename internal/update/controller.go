// Package update keeps the index in step with watched directories.
//
// Each root has a Controller that moves through Idle, Pending and
// Scanning. Events re-arm a debounce timer; when it fires the coalesced
// paths are re-extracted and re-indexed (or removed) in one pass. File
// content is read at scan time, so a burst of writes indexes only the
// final content.
package update

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/watcher"
)

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StatePending
	StateScanning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateScanning:
		return "scanning"
	default:
		return "unknown"
	}
}

// Processor applies path-level changes to the index. Paths are relative
// to root and slash separated. RemovePath must also drop everything below
// rel when rel was a directory.
type Processor interface {
	IndexPath(ctx context.Context, root, rel string) error
	RemovePath(ctx context.Context, root, rel string) error
	// IndexedPaths lists the paths currently indexed for root.
	IndexedPaths(root string) []string
}

// Flusher is implemented by processors that buffer writes. Flush runs after
// every pass that changed the index.
type Flusher interface {
	Flush() error
}

// Config configures a Controller.
type Config struct {
	Root      string
	Debounce  time.Duration
	Exclude   []string
	Processor Processor
	Logger    *slog.Logger
}

// Stats counts work done by a controller.
type Stats struct {
	State      State
	Pending    int
	Passes     int
	Indexed    int
	Removed    int
	Failed     int
	LastScanID string
	LastScanAt time.Time
}

// Controller runs the debounce state machine for one root.
type Controller struct {
	root     string
	debounce time.Duration
	proc     Processor
	matcher  *watcher.Matcher
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	pending map[string]action
	rebuild bool
	timer   *time.Timer
	gen     uint64
	idle    chan struct{}
	closed  bool
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates an idle controller for cfg.Root.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Processor == nil {
		return nil, rerrors.New(rerrors.ErrCodeInvalidInput, "update controller needs a processor", nil)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeInvalidPath, "resolve watch root", err).WithDetail("root", cfg.Root)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Controller{
		root:     root,
		debounce: cfg.Debounce,
		proc:     cfg.Processor,
		matcher:  watcher.NewMatcher(cfg.Exclude),
		logger:   cfg.Logger.With(slog.String("root", root)),
		pending:  make(map[string]action),
		idle:     idle,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Root returns the absolute root path.
func (c *Controller) Root() string { return c.root }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.State = c.state
	s.Pending = len(c.pending)
	return s
}

// Notify records a watcher event. Ignored paths are dropped.
func (c *Controller) Notify(ev watcher.FileEvent) {
	changes := changesFor(ev)
	if len(changes) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, ch := range changes {
		rel := filepath.ToSlash(ch.path)
		if c.matcher.Match(rel, false) {
			continue
		}
		prev, ok := c.pending[rel]
		if !ok {
			c.pending[rel] = ch.act
			continue
		}
		next := coalesce(prev, ch.act)
		switch {
		case next != actionNone:
			c.pending[rel] = next
		case c.indexed(rel):
			// a stale copy is still in the index
			c.pending[rel] = actionDelete
		default:
			delete(c.pending, rel)
		}
	}
	c.markDirtyLocked()
}

// indexed reports whether rel currently has documents in the index.
func (c *Controller) indexed(rel string) bool {
	for _, p := range c.proc.IndexedPaths(c.root) {
		if p == rel {
			return true
		}
	}
	return false
}

// RequestRebuild queues a full rescan of the root: every file is
// re-indexed and indexed paths that no longer exist are removed.
func (c *Controller) RequestRebuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.rebuild = true
	c.markDirtyLocked()
}

// markDirtyLocked moves Idle to Pending and re-arms the debounce timer.
// While Scanning the work waits; the scan re-enters Pending when it ends.
func (c *Controller) markDirtyLocked() {
	switch c.state {
	case StateScanning:
		return
	case StateIdle:
		if len(c.pending) == 0 && !c.rebuild {
			return
		}
		c.state = StatePending
		c.idle = make(chan struct{})
	case StatePending:
		if len(c.pending) == 0 && !c.rebuild {
			// everything cancelled out
			c.stopTimerLocked()
			c.toIdleLocked()
			return
		}
	}
	c.armLocked()
}

func (c *Controller) armLocked() {
	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.debounce, func() { c.fire(gen) })
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) toIdleLocked() {
	c.state = StateIdle
	select {
	case <-c.idle:
	default:
		close(c.idle)
	}
}

// fire runs on the timer goroutine. A timer that was re-armed after it
// started waiting for the lock is stale and does nothing.
func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || c.state != StatePending || gen != c.gen {
		c.mu.Unlock()
		return
	}
	changes := make([]change, 0, len(c.pending))
	for p, a := range c.pending {
		changes = append(changes, change{path: p, act: a})
	}
	rebuild := c.rebuild
	c.pending = make(map[string]action)
	c.rebuild = false
	c.timer = nil
	c.state = StateScanning
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	scanID := uuid.NewString()
	res := c.scan(c.ctx, scanID, changes, rebuild)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Passes++
	c.stats.Indexed += res.indexed
	c.stats.Removed += res.removed
	c.stats.Failed += res.failed
	c.stats.LastScanID = scanID
	c.stats.LastScanAt = time.Now()

	if c.closed {
		c.toIdleLocked()
		return
	}
	c.state = StateIdle
	if len(c.pending) > 0 || c.rebuild {
		c.state = StatePending
		c.armLocked()
		return
	}
	c.toIdleLocked()
}

type scanResult struct {
	indexed, removed, failed int
}

// scan applies one pass. Deletions go first so a replaced path is never
// briefly duplicated. Cancellation is checked between documents; a
// document already in progress completes.
func (c *Controller) scan(ctx context.Context, scanID string, changes []change, rebuild bool) scanResult {
	start := time.Now()
	log := c.logger.With(slog.String("scan_id", scanID))

	if rebuild {
		changes = c.rebuildChanges(ctx, log, changes)
	}
	sort.Slice(changes, func(i, j int) bool {
		di, dj := changes[i].act == actionDelete, changes[j].act == actionDelete
		if di != dj {
			return di
		}
		return changes[i].path < changes[j].path
	})

	log.Debug("scan_started", slog.Int("paths", len(changes)), slog.Bool("rebuild", rebuild))

	var res scanResult
	for i, ch := range changes {
		if err := ctx.Err(); err != nil {
			log.Info("scan_cancelled", slog.Int("done", i), slog.Int("remaining", len(changes)-i))
			break
		}

		var err error
		if ch.act == actionDelete {
			err = c.proc.RemovePath(ctx, c.root, ch.path)
		} else {
			err = c.proc.IndexPath(ctx, c.root, ch.path)
		}
		if err != nil {
			res.failed++
			log.Warn("update_path_failed",
				slog.String("path", ch.path),
				slog.String("action", ch.act.String()),
				slog.String("error", err.Error()))
			continue
		}
		if ch.act == actionDelete {
			res.removed++
		} else {
			res.indexed++
		}
	}

	log.Info("scan_done",
		slog.Int("indexed", res.indexed),
		slog.Int("removed", res.removed),
		slog.Int("failed", res.failed),
		slog.Duration("took", time.Since(start)))

	if f, ok := c.proc.(Flusher); ok && res.indexed+res.removed > 0 {
		if err := f.Flush(); err != nil {
			log.Warn("flush_failed", slog.String("error", err.Error()))
		}
	}
	return res
}

// rebuildChanges lists every file under the root as a modify and every
// indexed path that vanished as a delete, on top of the queued changes.
func (c *Controller) rebuildChanges(ctx context.Context, log *slog.Logger, queued []change) []change {
	byPath := make(map[string]action, len(queued))
	for _, ch := range queued {
		byPath[ch.path] = ch.act
	}

	present := make(map[string]bool)
	err := watcher.Walk(ctx, c.root, c.matcher, func(rel string) error {
		present[rel] = true
		return nil
	})
	if err != nil {
		log.Warn("rebuild_walk_failed", slog.String("error", err.Error()))
	}

	for rel := range present {
		if _, ok := byPath[rel]; !ok {
			byPath[rel] = actionModify
		}
	}
	// a failed walk must not wipe the index
	if err == nil {
		for _, rel := range c.proc.IndexedPaths(c.root) {
			if !present[rel] {
				byPath[rel] = actionDelete
			}
		}
	}

	out := make([]change, 0, len(byPath))
	for p, a := range byPath {
		out = append(out, change{path: p, act: a})
	}
	return out
}

// WaitIdle blocks until the controller is Idle with nothing queued.
func (c *Controller) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
			c.mu.Lock()
			done := c.state == StateIdle
			c.mu.Unlock()
			if done {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the timer, cancels a running scan between documents and
// waits for it. Queued changes are dropped.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	c.pending = make(map[string]action)
	c.rebuild = false
	if c.state == StatePending {
		c.toIdleLocked()
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}
