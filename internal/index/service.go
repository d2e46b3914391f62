// Package index wires the extractor, analyzer, lexical index, vector store,
// embedder and query engine into one Service that owns a data directory.
//
// The Service is the ingestion boundary (Apply), the query boundary
// (Query) and the processor behind the update controllers (IndexPath,
// RemovePath). It holds a cross-process lock on the data directory while
// open.
package index

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/recall/internal/analysis"
	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/embed"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/extract"
	"github.com/Aman-CERP/recall/internal/keylock"
	"github.com/Aman-CERP/recall/internal/lexical"
	"github.com/Aman-CERP/recall/internal/search"
	"github.com/Aman-CERP/recall/internal/vector"
)

// LexicalFileName is the SQLite file of the lexical index.
const LexicalFileName = "lexical.db"

// Options configures Open.
type Options struct {
	// DataDir overrides Config.DataDir.
	DataDir string
	// Config defaults to config.NewConfig().
	Config *config.Config
	// Embedder overrides the one built from Config.Embeddings. The
	// Service closes it.
	Embedder embed.Embedder
	// Runner overrides how extraction tools are executed.
	Runner extract.CommandRunner
	Logger *slog.Logger
}

// Service is an open index.
type Service struct {
	cfg        *config.Config
	dataDir    string
	lock       *DirLock
	lexical    *lexical.Index
	vectors    vector.Store
	embedder   embed.Embedder
	embeddings *embed.Pool
	extractor  *extract.Pool
	engine     *search.Engine
	checker    *ConsistencyChecker
	logger     *slog.Logger

	// writers keeps the lexical and vector writes of one id together.
	writers keylock.Striped
	order   writeOrder

	mu       sync.Mutex
	meta     Metadata
	reasons  []string
	sessions map[string]string
	closed   bool
}

// Open locks the data directory and loads or creates the index in it.
//
// A corrupt lexical index or vector store is cleared and the Service is
// flagged for rebuild, as is an index written with a different schema,
// analyzer, embedder model or dimensionality. A directory held by another
// process yields ErrCodeIndexLocked.
func Open(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeInvalidPath, "invalid data directory", err)
	}

	lock := NewDirLock(dataDir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		dataDir:  dataDir,
		lock:     lock,
		embedder: opts.Embedder,
		logger:   logger,
		sessions: make(map[string]string),
	}
	ok := false
	defer func() {
		if !ok {
			_ = s.release()
		}
	}()

	if err := s.openStores(ctx, opts); err != nil {
		return nil, err
	}

	for _, r := range cfg.Watch.Roots {
		s.AddRoot(r)
	}

	logger.Info("index_opened",
		slog.String("data_dir", dataDir),
		slog.Int("documents", s.lexical.Stats().Documents),
		slog.Int("vectors", s.vectors.Len()),
		slog.String("embedder", s.embedder.ModelName()),
		slog.Bool("needs_rebuild", len(s.reasons) > 0))
	for _, r := range s.reasons {
		logger.Warn("index_needs_rebuild", slog.String("reason", r))
	}

	ok = true
	return s, nil
}

func (s *Service) openStores(ctx context.Context, opts Options) error {
	cfg, logger := s.cfg, s.logger

	meta, err := LoadMetadata(s.path(MetadataFileName))
	if err != nil {
		if !rerrors.HasCode(err, rerrors.ErrCodeCorruptIndex) {
			return err
		}
		s.reasons = append(s.reasons, "index metadata is corrupt")
		meta = nil
	}

	if s.embedder == nil {
		s.embedder, err = embed.New(cfg.Embeddings, logger)
		if err != nil {
			return err
		}
	}
	model := s.embedder.ModelName()
	dims := cfg.Embeddings.Dimensions
	if dims == 0 {
		dims = s.embedder.Dimensions()
	}

	lexPath := s.path(LexicalFileName)
	lexCleared := false
	s.lexical, err = lexical.Open(ctx, lexical.Options{
		Path:   lexPath,
		Params: lexical.Params{K1: cfg.Lexical.K1, B: cfg.Lexical.B},
		Logger: logger,
	})
	if rerrors.HasCode(err, rerrors.ErrCodeCorruptIndex) {
		logger.Warn("lexical_index_corrupt", slog.String("path", lexPath), slog.String("error", err.Error()))
		if err := lexical.Clear(lexPath); err != nil {
			return err
		}
		s.reasons = append(s.reasons, "lexical index was corrupt and has been cleared")
		lexCleared = true
		s.lexical, err = lexical.Open(ctx, lexical.Options{
			Path:   lexPath,
			Params: lexical.Params{K1: cfg.Lexical.K1, B: cfg.Lexical.B},
			Logger: logger,
		})
	}
	if err != nil {
		return err
	}

	backend := vector.Backend(cfg.Vector.Backend)
	vecPath := s.path(vector.FileName(backend))
	var stale []string
	if meta != nil {
		stale = meta.Mismatches(model, dims)
		if meta.RebuildPending {
			stale = append(stale, "a previous rebuild did not finish")
		}
	} else if s.lexical.Stats().Documents > 0 {
		stale = append(stale, "index metadata is missing")
	}
	if len(stale) > 0 || lexCleared {
		// vectors from another model or schema are not comparable, and
		// without their documents they are orphans
		if err := vector.Clear(vecPath); err != nil {
			return err
		}
		s.reasons = append(s.reasons, stale...)
	}

	vopts := vector.Options{
		Backend:    backend,
		Path:       vecPath,
		Dimensions: dims,
		HNSW:       vector.HNSWConfig{M: cfg.Vector.HNSWM, EfSearch: cfg.Vector.HNSWEfSearch},
		Logger:     logger,
	}
	s.vectors, err = vector.Open(vopts)
	if rerrors.HasCode(err, rerrors.ErrCodeCorruptIndex) || rerrors.HasCode(err, rerrors.ErrCodeDimensionMismatch) {
		logger.Warn("vector_store_unusable", slog.String("path", vecPath), slog.String("error", err.Error()))
		if err := vector.Clear(vecPath); err != nil {
			return err
		}
		s.reasons = append(s.reasons, "vector store was unusable and has been cleared: "+err.Error())
		s.vectors, err = vector.Open(vopts)
	}
	if err != nil {
		return err
	}

	xopts := extract.OptionsFromConfig(cfg.Extract)
	xopts.Runner = opts.Runner
	xopts.Logger = logger
	s.extractor, err = extract.NewPool(extract.New(xopts), cfg.Extract.Workers, logger)
	if err != nil {
		return err
	}

	s.embeddings, err = embed.NewPool(s.embedder, cfg.Embeddings.MaxConcurrent, logger)
	if err != nil {
		return err
	}

	s.engine = search.New(s.lexical, s.vectors, s.embedder,
		search.ConfigFrom(cfg.Search, cfg.Vector), search.WithLogger(logger))
	s.checker = NewConsistencyChecker(s.lexical, s.vectors, logger)

	s.meta = Metadata{
		SchemaVersion:   SchemaVersion,
		AnalysisVersion: analysis.Version,
		EmbedderModel:   model,
		Dimensions:      s.vectors.Dimensions(),
		RebuildPending:  len(s.reasons) > 0,
	}
	if meta != nil {
		s.meta.LastIndexedAt = meta.LastIndexedAt
	}
	return nil
}

func (s *Service) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// AddRoot registers the session that files under root belong to and
// returns it. Unregistered roots use their base name.
func (s *Service) AddRoot(r config.RootConfig) string {
	session := r.SessionFor()
	if abs, err := filepath.Abs(r.Path); err == nil {
		s.mu.Lock()
		s.sessions[abs] = session
		s.mu.Unlock()
	}
	return session
}

func (s *Service) sessionFor(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[abs]; ok {
		return session
	}
	return config.RootConfig{Path: abs}.SessionFor()
}

// Query runs a hybrid query.
func (s *Service) Query(ctx context.Context, q search.Query) (*search.Response, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.engine.Query(ctx, q)
}

// Metadata returns a snapshot of the index metadata.
func (s *Service) Metadata() Metadata {
	s.mu.Lock()
	m := s.meta
	s.mu.Unlock()
	m.TotalDocuments = s.lexical.Stats().Documents
	m.Dimensions = s.vectors.Dimensions()
	return m
}

// NeedsRebuild reports whether Open found the index stale or damaged and
// no Rebuild has completed since.
func (s *Service) NeedsRebuild() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reasons) > 0
}

// RebuildReasons explains NeedsRebuild.
func (s *Service) RebuildReasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reasons...)
}

// Status summarizes the index for display.
type Status struct {
	DataDir           string    `json:"data_dir"`
	Documents         int       `json:"documents"`
	Terms             int       `json:"terms"`
	Vectors           int       `json:"vectors"`
	Dimensions        int       `json:"dimensions"`
	Backend           string    `json:"backend"`
	EmbedderModel     string    `json:"embedder_model"`
	EmbedderAvailable bool      `json:"embedder_available"`
	LastIndexedAt     time.Time `json:"last_indexed_at,omitzero"`
	NeedsRebuild      bool      `json:"needs_rebuild"`
	RebuildReasons    []string  `json:"rebuild_reasons,omitempty"`
}

// Status reports index statistics and checks the embedder.
func (s *Service) Status(ctx context.Context) Status {
	stats := s.lexical.Stats()
	meta := s.Metadata()
	backend := s.cfg.Vector.Backend
	if backend == "" {
		backend = string(vector.BackendExact)
	}
	reasons := s.RebuildReasons()
	return Status{
		DataDir:           s.dataDir,
		Documents:         stats.Documents,
		Terms:             stats.Terms,
		Vectors:           s.vectors.Len(),
		Dimensions:        meta.Dimensions,
		Backend:           backend,
		EmbedderModel:     meta.EmbedderModel,
		EmbedderAvailable: s.embedder.Available(ctx),
		LastIndexedAt:     meta.LastIndexedAt,
		NeedsRebuild:      len(reasons) > 0,
		RebuildReasons:    reasons,
	}
}

// Check compares the lexical index with the vector store.
func (s *Service) Check(ctx context.Context) (*CheckResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.checker.Check(ctx)
}

// Repair removes orphan vectors and embeds documents that lack a vector.
func (s *Service) Repair(ctx context.Context) (*RepairResult, error) {
	res, err := s.Check(ctx)
	if err != nil {
		return nil, err
	}
	return s.checker.Repair(ctx, res.Inconsistencies, s.reembed)
}

// Flush persists the vector store and the metadata. Lexical writes are
// already durable.
func (s *Service) Flush() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.vectors.Save(); err != nil {
		return err
	}
	return s.saveMetadata()
}

func (s *Service) saveMetadata() error {
	m := s.Metadata()
	m.RebuildPending = s.NeedsRebuild()
	return m.Save(s.path(MetadataFileName))
}

// Close flushes and releases every resource, including the data dir lock.
// It is idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	flushErr := s.Flush()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := errors.Join(flushErr, s.release())
	s.logger.Info("index_closed", slog.String("data_dir", s.dataDir))
	return err
}

// release closes whatever openStores managed to create.
func (s *Service) release() error {
	var errs []error
	if s.extractor != nil {
		s.extractor.Release()
	}
	if s.embeddings != nil {
		s.embeddings.Release()
	}
	if s.vectors != nil {
		errs = append(errs, s.vectors.Close())
	}
	if s.lexical != nil {
		errs = append(errs, s.lexical.Close())
	}
	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
	}
	errs = append(errs, s.lock.Unlock())
	return errors.Join(errs...)
}

func (s *Service) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return rerrors.New(rerrors.ErrCodeClosed, "index is closed", nil)
	}
	return nil
}
