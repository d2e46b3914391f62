// Package lexical implements the inverted index with BM25 ranking.
//
// Reads are served from memory. When opened with a path, every mutation is
// written through to SQLite first and the whole index is loaded back on Open.
package lexical

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/recall/internal/analysis"
	"github.com/Aman-CERP/recall/internal/document"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/keylock"
)

// posting is one (term, document) entry.
type posting struct {
	tf        int
	positions []int
}

// Posting is the exported view of a posting.
type Posting struct {
	DocID     string
	TF        int
	Positions []int
}

type entry struct {
	doc    *document.Document
	length int
	terms  []string
}

// Hit is one scored document.
type Hit struct {
	DocID        string
	Score        float64
	MatchedTerms []string
	CreatedAt    time.Time
}

// Stats describes the index.
type Stats struct {
	Documents    int
	Terms        int
	AvgDocLength float64
}

// Options configures an Index.
type Options struct {
	// Path of the SQLite file. Empty keeps the index in memory only.
	Path     string
	Params   Params
	Analyzer *analysis.Analyzer
	Logger   *slog.Logger
}

// Index is a BM25 inverted index over documents.
//
// Many readers run concurrently. Writers for the same id are serialized;
// writers for different ids only contend on the short in-memory swap.
type Index struct {
	mu       sync.RWMutex
	postings map[string]map[string]*posting
	docs     map[string]*entry
	totalLen int
	closed   bool

	writers  keylock.Striped
	params   Params
	analyzer *analysis.Analyzer
	store    *sqliteStore
	logger   *slog.Logger
}

// Open creates or loads an index.
// A damaged database file yields an ErrCodeCorruptIndex error; callers
// decide whether to Clear it and rebuild.
func Open(ctx context.Context, opts Options) (*Index, error) {
	if opts.Params.K1 <= 0 {
		opts.Params = DefaultParams()
	}
	if opts.Analyzer == nil {
		opts.Analyzer = analysis.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	idx := &Index{
		postings: make(map[string]map[string]*posting),
		docs:     make(map[string]*entry),
		params:   opts.Params,
		analyzer: opts.Analyzer,
		logger:   opts.Logger,
	}

	if opts.Path == "" {
		return idx, nil
	}

	store, err := openStore(opts.Path)
	if err != nil {
		return nil, err
	}
	idx.store = store

	if err := idx.load(ctx); err != nil {
		_ = store.close()
		return nil, err
	}
	return idx, nil
}

func (ix *Index) load(ctx context.Context) error {
	stored, err := ix.store.load(ctx)
	if err != nil {
		return err
	}

	version, err := ix.store.getMeta(ctx, "analysis_version")
	if err != nil {
		return corruption(ix.store.path, err)
	}
	reanalyze := version != analysis.Version
	if reanalyze && len(stored) > 0 {
		ix.logger.Warn("lexical_reanalyze",
			slog.String("stored_version", version),
			slog.String("version", analysis.Version),
			slog.Int("documents", len(stored)))
		if err := ix.store.clearPostings(ctx); err != nil {
			return err
		}
	}

	for id, sd := range stored {
		length, postings := sd.length, sd.postings
		if reanalyze {
			length, postings = ix.invert(sd.doc.Text)
			if err := ix.store.put(ctx, sd.doc, length, postings); err != nil {
				return err
			}
		}
		ix.insertLocked(id, sd.doc, length, postings)
	}

	if reanalyze {
		if err := ix.store.setMeta(ctx, "analysis_version", analysis.Version); err != nil {
			return err
		}
	}

	ix.logger.Debug("lexical_loaded",
		slog.String("path", ix.store.path),
		slog.Int("documents", len(ix.docs)),
		slog.Int("terms", len(ix.postings)))
	return nil
}

// invert analyzes text into per-term postings.
func (ix *Index) invert(text string) (int, map[string]*posting) {
	tokens := ix.analyzer.Analyze(text)
	postings := make(map[string]*posting)
	for _, t := range tokens {
		p := postings[t.Term]
		if p == nil {
			p = &posting{}
			postings[t.Term] = p
		}
		p.tf++
		p.positions = append(p.positions, t.Position)
	}
	return len(tokens), postings
}

// Add indexes doc, replacing any previous version with the same id.
// Readers see either the old or the new postings, never a mix.
func (ix *Index) Add(ctx context.Context, doc *document.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := ix.writers.Lock(doc.ID)
	defer unlock()

	// Analysis runs outside the index lock.
	length, postings := ix.invert(doc.Text)
	doc = doc.Clone()

	if err := ix.checkOpen(); err != nil {
		return err
	}
	if ix.store != nil {
		if err := ix.store.put(ctx, doc, length, postings); err != nil {
			return rerrors.New(rerrors.ErrCodeIndexFailed, "failed to persist document", err).
				WithDetail("id", doc.ID)
		}
	}

	ix.mu.Lock()
	ix.removeLocked(doc.ID)
	ix.insertLocked(doc.ID, doc, length, postings)
	ix.mu.Unlock()
	return nil
}

// Remove deletes every posting of id. Removing an unknown id is a no-op.
func (ix *Index) Remove(ctx context.Context, id string) error {
	unlock := ix.writers.Lock(id)
	defer unlock()

	if err := ix.checkOpen(); err != nil {
		return err
	}
	if !ix.Contains(id) {
		return nil
	}
	if ix.store != nil {
		if err := ix.store.delete(ctx, id); err != nil {
			return rerrors.New(rerrors.ErrCodeIndexFailed, "failed to delete document", err).
				WithDetail("id", id)
		}
	}

	ix.mu.Lock()
	ix.removeLocked(id)
	ix.mu.Unlock()
	return nil
}

func (ix *Index) insertLocked(id string, doc *document.Document, length int, postings map[string]*posting) {
	terms := make([]string, 0, len(postings))
	for term, p := range postings {
		docs := ix.postings[term]
		if docs == nil {
			docs = make(map[string]*posting)
			ix.postings[term] = docs
		}
		docs[id] = p
		terms = append(terms, term)
	}
	ix.docs[id] = &entry{doc: doc, length: length, terms: terms}
	ix.totalLen += length
}

func (ix *Index) removeLocked(id string) {
	e, ok := ix.docs[id]
	if !ok {
		return
	}
	for _, term := range e.terms {
		if docs, ok := ix.postings[term]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(ix.postings, term)
			}
		}
	}
	ix.totalLen -= e.length
	delete(ix.docs, id)
}

func (ix *Index) checkOpen() error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return rerrors.New(rerrors.ErrCodeClosed, "lexical index is closed", nil)
	}
	return nil
}

// snapshot is the slice of index state a query needs, copied under the read lock.
type snapshot struct {
	n      int
	avgdl  float64
	terms  map[string]map[string]int // term -> doc -> tf
	docLen map[string]int
	docAt  map[string]time.Time
}

func (ix *Index) snapshot(q *Query) (*snapshot, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return nil, rerrors.New(rerrors.ErrCodeClosed, "lexical index is closed", nil)
	}

	s := &snapshot{
		n:      len(ix.docs),
		terms:  make(map[string]map[string]int),
		docLen: make(map[string]int),
		docAt:  make(map[string]time.Time),
	}
	if s.n > 0 {
		s.avgdl = float64(ix.totalLen) / float64(s.n)
	}

	copyTerm := func(term string) {
		if _, done := s.terms[term]; done {
			return
		}
		docs := ix.postings[term]
		m := make(map[string]int, len(docs))
		for id, p := range docs {
			m[id] = p.tf
			if _, ok := s.docLen[id]; !ok {
				e := ix.docs[id]
				s.docLen[id] = e.length
				s.docAt[id] = e.doc.CreatedAt
			}
		}
		s.terms[term] = m
	}

	for _, c := range q.Clauses {
		if c.Kind != ClausePrefix {
			for _, t := range c.Terms {
				copyTerm(t)
			}
			continue
		}
		for term := range ix.postings {
			for _, prefix := range c.Terms {
				if strings.HasPrefix(term, prefix) {
					copyTerm(term)
					break
				}
			}
		}
	}
	return s, nil
}

// expansions lists the snapshot terms matching a prefix clause, sorted.
func (s *snapshot) expansions(c Clause) []string {
	var out []string
	for term := range s.terms {
		for _, prefix := range c.Terms {
			if strings.HasPrefix(term, prefix) {
				out = append(out, term)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (s *snapshot) score(p Params, term, id string) float64 {
	docs := s.terms[term]
	return p.termScore(docs[id], s.docLen[id], s.avgdl, idf(len(docs), s.n))
}

// Search runs q and returns up to limit hits (all when limit <= 0).
//
// Clauses are OR-ed and their scores summed. A term clause scores its BM25
// weight; a phrase clause requires all its terms and scores their sum; a
// prefix clause scores its best matching expansion. Ties break on newer
// created_at first, then id ascending.
func (ix *Index) Search(ctx context.Context, q *Query, limit int) ([]Hit, error) {
	if q == nil || len(q.Clauses) == 0 {
		return nil, nil
	}

	snap, err := ix.snapshot(q)
	if err != nil {
		return nil, err
	}
	if snap.n == 0 {
		return nil, nil
	}

	scores := make(map[string]float64)
	matched := make(map[string]map[string]struct{})
	mark := func(id, term string) {
		m := matched[id]
		if m == nil {
			m = make(map[string]struct{})
			matched[id] = m
		}
		m[term] = struct{}{}
	}

	for _, c := range q.Clauses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch c.Kind {
		case ClauseTerm:
			term := c.Terms[0]
			for id := range snap.terms[term] {
				scores[id] += snap.score(ix.params, term, id)
				mark(id, term)
			}

		case ClausePhrase:
			for id := range snap.terms[c.Terms[0]] {
				total := 0.0
				all := true
				for _, term := range c.Terms {
					if _, ok := snap.terms[term][id]; !ok {
						all = false
						break
					}
					total += snap.score(ix.params, term, id)
				}
				if !all {
					continue
				}
				scores[id] += total
				for _, term := range c.Terms {
					mark(id, term)
				}
			}

		case ClausePrefix:
			best := make(map[string]float64)
			for _, term := range snap.expansions(c) {
				for id := range snap.terms[term] {
					if sc := snap.score(ix.params, term, id); sc > best[id] {
						best[id] = sc
					}
					mark(id, term)
				}
			}
			for id, sc := range best {
				scores[id] += sc
			}
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, sc := range scores {
		terms := make([]string, 0, len(matched[id]))
		for t := range matched[id] {
			terms = append(terms, t)
		}
		sort.Strings(terms)
		hits = append(hits, Hit{DocID: id, Score: sc, MatchedTerms: terms, CreatedAt: snap.docAt[id]})
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.DocID < b.DocID
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Contains reports whether id is indexed.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docs[id]
	return ok
}

// Document returns a copy of the stored document.
func (ix *Index) Document(id string) (*document.Document, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.docs[id]
	if !ok {
		return nil, false
	}
	return e.doc.Clone(), true
}

// Documents returns copies of all stored documents ordered by id.
func (ix *Index) Documents() []*document.Document {
	ix.mu.RLock()
	out := make([]*document.Document, 0, len(ix.docs))
	for _, e := range ix.docs {
		out = append(out, e.doc.Clone())
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the ids starting with prefix in ascending order. An empty
// prefix lists every document.
func (ix *Index) IDs(prefix string) []string {
	ix.mu.RLock()
	var out []string
	for id := range ix.docs {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	ix.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Postings returns the postings of term ordered by document id.
func (ix *Index) Postings(term string) []Posting {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	docs := ix.postings[term]
	out := make([]Posting, 0, len(docs))
	for id, p := range docs {
		out = append(out, Posting{DocID: id, TF: p.tf, Positions: append([]int(nil), p.positions...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

// DocFreq returns the number of documents containing term.
func (ix *Index) DocFreq(term string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.postings[term])
}

// Stats returns index statistics.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	s := Stats{Documents: len(ix.docs), Terms: len(ix.postings)}
	if s.Documents > 0 {
		s.AvgDocLength = float64(ix.totalLen) / float64(s.Documents)
	}
	return s
}

// Close releases the database. It is idempotent.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return nil
	}
	ix.closed = true
	if ix.store != nil {
		return ix.store.close()
	}
	return nil
}
