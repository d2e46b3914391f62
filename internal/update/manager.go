package update

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/watcher"
)

// ManagerConfig configures a Manager. Every root shares these settings but
// gets its own controller and debounce clock.
type ManagerConfig struct {
	Debounce     time.Duration
	PollInterval time.Duration
	ForcePolling bool
	Exclude      []string
	Processor    Processor
	Logger       *slog.Logger
	// NewWatcher defaults to watcher.NewHybridWatcher.
	NewWatcher func(watcher.Options) (*watcher.HybridWatcher, error)
}

// Manager runs one Controller per watched root.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu          sync.RWMutex
	controllers map[string]*Controller
	closed      bool
}

// NewManager creates a manager with no roots.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewWatcher == nil {
		cfg.NewWatcher = watcher.NewHybridWatcher
	}
	return &Manager{
		cfg:         cfg,
		logger:      cfg.Logger,
		controllers: make(map[string]*Controller),
	}
}

// Add registers root. Adding a root twice returns the existing controller.
func (m *Manager) Add(root string) (*Controller, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeInvalidPath, "resolve watch root", err).WithDetail("root", root)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, rerrors.New(rerrors.ErrCodeClosed, "update manager is closed", nil)
	}
	if c, ok := m.controllers[abs]; ok {
		return c, nil
	}
	c, err := NewController(Config{
		Root:      abs,
		Debounce:  m.cfg.Debounce,
		Exclude:   m.cfg.Exclude,
		Processor: m.cfg.Processor,
		Logger:    m.logger,
	})
	if err != nil {
		return nil, err
	}
	m.controllers[abs] = c
	return c, nil
}

// Controller returns the controller for root.
func (m *Manager) Controller(root string) (*Controller, bool) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[abs]
	return c, ok
}

// Roots returns the registered roots, sorted.
func (m *Manager) Roots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roots := make([]string, 0, len(m.controllers))
	for r := range m.controllers {
		roots = append(roots, r)
	}
	sort.Strings(roots)
	return roots
}

// Notify forwards an event to the controller of root.
func (m *Manager) Notify(root string, ev watcher.FileEvent) error {
	c, ok := m.Controller(root)
	if !ok {
		return unknownRoot(root)
	}
	c.Notify(ev)
	return nil
}

// RequestRebuild queues a full rescan of root.
func (m *Manager) RequestRebuild(root string) error {
	c, ok := m.Controller(root)
	if !ok {
		return unknownRoot(root)
	}
	c.RequestRebuild()
	return nil
}

// RequestRebuildAll queues a full rescan of every root.
func (m *Manager) RequestRebuildAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.controllers {
		c.RequestRebuild()
	}
}

// WaitIdle blocks until every controller is idle.
func (m *Manager) WaitIdle(ctx context.Context) error {
	m.mu.RLock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.mu.RUnlock()

	for _, c := range controllers {
		if err := c.WaitIdle(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run starts a watcher per root and feeds its events to the root's
// controller until ctx is done. A root whose watcher fails to start is
// logged and the others keep running.
func (m *Manager) Run(ctx context.Context) error {
	roots := m.Roots()
	if len(roots) == 0 {
		return rerrors.New(rerrors.ErrCodeConfigInvalid, "no roots to watch", nil).
			WithSuggestion("add watch.roots to the config or pass a directory")
	}

	// every watcher exists before any goroutine starts, so a failure
	// leaves nothing running
	watchers := make([]*watcher.HybridWatcher, 0, len(roots))
	for range roots {
		w, err := m.cfg.NewWatcher(watcher.Options{
			PollInterval:   m.cfg.PollInterval,
			IgnorePatterns: m.cfg.Exclude,
			ForcePolling:   m.cfg.ForcePolling,
			Logger:         m.logger,
		})
		if err != nil {
			for _, created := range watchers {
				_ = created.Stop()
			}
			return err
		}
		watchers = append(watchers, w)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	for i, root := range roots {
		c, _ := m.Controller(root)
		w := watchers[i]

		g.Go(func() error {
			err := w.Start(gctx, root)
			if err != nil && !errors.Is(err, context.Canceled) {
				_ = w.Stop()
				m.logger.Error("watch_failed", slog.String("root", root), slog.String("error", err.Error()))
			}
			return nil
		})
		g.Go(func() error {
			m.pump(gctx, w, c)
			return nil
		})
	}

	<-ctx.Done()
	cancel()
	err := g.Wait()
	if cerr := m.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// pump forwards watcher output until the watcher stops.
func (m *Manager) pump(ctx context.Context, w *watcher.HybridWatcher, c *Controller) {
	defer func() { _ = w.Stop() }()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			c.Notify(ev)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			m.logger.Warn("watch_error", slog.String("root", c.Root()), slog.String("error", err.Error()))
		}
	}
}

// Close stops every controller.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	controllers := m.controllers
	m.mu.Unlock()

	var errs []error
	for _, c := range controllers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func unknownRoot(root string) error {
	return rerrors.New(rerrors.ErrCodeInvalidInput, "root is not watched", nil).WithDetail("root", root)
}
