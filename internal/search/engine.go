package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/recall/internal/analysis"
	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/document"
	"github.com/Aman-CERP/recall/internal/embed"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/lexical"
	"github.com/Aman-CERP/recall/internal/vector"
)

// LexicalIndex is the part of the lexical index the engine reads.
type LexicalIndex interface {
	Search(ctx context.Context, q *lexical.Query, limit int) ([]lexical.Hit, error)
	Document(id string) (*document.Document, bool)
}

// VectorIndex is the part of the vector store the engine reads.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, topK int, minSimilarity float64) ([]vector.Match, error)
}

// Config tunes the engine.
type Config struct {
	Weights             Weights
	DefaultLimit        int
	MaxLimit            int
	CandidateMultiplier int
	EmbedTimeout        time.Duration
	MinSimilarity       float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		DefaultLimit:        20,
		MaxLimit:            100,
		CandidateMultiplier: 5,
		EmbedTimeout:        2 * time.Second,
		MinSimilarity:       0.2,
	}
}

// ConfigFrom maps the search and vector config sections onto Config.
func ConfigFrom(s config.SearchConfig, v config.VectorConfig) Config {
	cfg := DefaultConfig()
	cfg.Weights = Weights{
		Lexical:  s.Hybrid.LexicalWeight,
		Semantic: s.Hybrid.SemanticWeight,
		Bonus:    s.Hybrid.LexicalBonus,
	}
	if s.DefaultLimit > 0 {
		cfg.DefaultLimit = s.DefaultLimit
	}
	if s.CandidateMultiplier > 0 {
		cfg.CandidateMultiplier = s.CandidateMultiplier
	}
	cfg.EmbedTimeout = config.Duration(s.EmbedTimeout, cfg.EmbedTimeout)
	cfg.MinSimilarity = v.MinSimilarity
	return cfg
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnalyzer sets the analyzer used for query parsing and highlights.
// It must match the one the lexical index was built with.
func WithAnalyzer(an *analysis.Analyzer) Option {
	return func(e *Engine) {
		if an != nil {
			e.analyzer = an
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine runs hybrid queries. It owns no persistent state.
type Engine struct {
	lexical  LexicalIndex
	vectors  VectorIndex
	embedder embed.Embedder
	cfg      Config
	analyzer *analysis.Analyzer
	logger   *slog.Logger
}

// errNoSemantic marks queries answered without a semantic side.
var errNoSemantic = errors.New("semantic search not configured")

// New creates an engine. vectors and embedder may be nil, in which case
// every response is lexical-only and Degraded.
func New(lex LexicalIndex, vectors VectorIndex, embedder embed.Embedder, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = def.CandidateMultiplier
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}

	e := &Engine{
		lexical:  lex,
		vectors:  vectors,
		embedder: embedder,
		cfg:      cfg,
		analyzer: analysis.Default(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query runs q. Embedder failures never fail the query: the response falls
// back to lexical results with Degraded set. Errors are returned for empty
// queries, lexical index failures and cancellation of ctx before the
// lexical side finished.
func (e *Engine) Query(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, rerrors.New(rerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	limit = min(limit, e.cfg.MaxLimit)
	pool := limit * e.cfg.CandidateMultiplier

	// text without searchable terms can still match semantically
	lq, err := lexical.ParseWith(e.analyzer, text)
	if err != nil && !rerrors.HasCode(err, rerrors.ErrCodeQueryEmpty) {
		return nil, rerrors.New(rerrors.ErrCodeInvalidQuery, "cannot parse query", err)
	}

	var (
		hits    []lexical.Hit
		matches []vector.Match
		semErr  error = errNoSemantic
	)
	g, gctx := errgroup.WithContext(ctx)
	if lq != nil {
		g.Go(func() error {
			var err error
			hits, err = e.lexical.Search(gctx, lq, pool)
			return err
		})
	}
	if e.embedder != nil && e.vectors != nil {
		g.Go(func() error {
			matches, semErr = e.semantic(gctx, text, pool)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rerrors.New(rerrors.ErrCodeSearchFailed, "lexical search failed", err)
	}

	resp := &Response{Results: []Result{}}
	if semErr != nil {
		resp.Degraded = true
		resp.Reason = semErr.Error()
		matches = nil
		if !errors.Is(semErr, errNoSemantic) {
			e.logger.Warn("query_degraded",
				slog.String("reason", semErr.Error()),
				slog.String("code", rerrors.GetCode(semErr)))
		}
	}

	cands := merge(hits, matches, e.cfg.Weights)
	filters := buildFilters(q.Filters)
	docs := make(map[string]*document.Document, len(cands))
	kept := cands[:0]
	for _, c := range cands {
		doc, ok := e.lexical.Document(c.id)
		if !ok {
			// vector record whose document is gone
			continue
		}
		if !matchesAll(doc, filters) {
			continue
		}
		c.createdAt = doc.CreatedAt
		docs[c.id] = doc
		kept = append(kept, c)
	}
	sortCandidates(kept)
	if len(kept) > limit {
		kept = kept[:limit]
	}

	for _, c := range kept {
		doc := docs[c.id]
		spans := highlights(e.analyzer, doc.Text, c.matched)
		resp.Results = append(resp.Results, Result{
			DocID:         c.id,
			Kind:          doc.Kind,
			SessionID:     doc.SessionID,
			Path:          doc.Path,
			CreatedAt:     doc.CreatedAt,
			LexicalScore:  c.lexScore,
			SemanticScore: c.semScore,
			CombinedScore: c.combined,
			MatchedTerms:  c.matched,
			Highlights:    spans,
			Snippet:       snippet(doc.Text, spans),
		})
	}
	resp.Took = time.Since(start)

	e.logger.Debug("query_done",
		slog.Int("lexical_hits", len(hits)),
		slog.Int("vector_hits", len(matches)),
		slog.Int("results", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded),
		slog.Duration("took", resp.Took))
	return resp, nil
}

// semantic embeds the query under its own timeout and searches the vector
// store. The wait for the embedder is bounded even if it ignores its
// context; a late answer is discarded.
func (e *Engine) semantic(ctx context.Context, text string, k int) ([]vector.Match, error) {
	type embedded struct {
		vec []float32
		err error
	}

	ectx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()
	ch := make(chan embedded, 1)
	go func() {
		vec, err := e.embedder.Embed(ectx, text)
		ch <- embedded{vec, err}
	}()

	var res embedded
	select {
	case res = <-ch:
	case <-ectx.Done():
		res.err = ectx.Err()
	}
	if res.err != nil {
		if errors.Is(ectx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, rerrors.New(rerrors.ErrCodeNetworkTimeout, "query embedding timed out", res.err).
				WithDetail("timeout", e.cfg.EmbedTimeout.String())
		}
		return nil, res.err
	}
	return e.vectors.Search(ctx, res.vec, k, e.cfg.MinSimilarity)
}
