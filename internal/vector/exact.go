package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

const exactFormatVersion = 1

// exactFile is the gob payload of an ExactStore.
type exactFile struct {
	Version    int
	Dimensions int
	Vectors    map[string][]float32
}

// ExactStore is a brute-force Store. Search cost is linear in the number of
// vectors and results are exact.
type ExactStore struct {
	mu      sync.RWMutex
	vectors map[string][]float32 // unit length
	dims    int
	path    string
	dirty   bool
	closed  bool
	logger  *slog.Logger

	afterSnapshot func() // test hook, runs before scoring
}

// NewExactStore returns an empty in-memory store.
func NewExactStore(dims int) *ExactStore {
	return &ExactStore{
		vectors: make(map[string][]float32),
		dims:    dims,
		logger:  slog.Default(),
	}
}

// OpenExact loads an ExactStore from path, or starts an empty one when the
// file does not exist.
func OpenExact(path string, dims int, logger *slog.Logger) (*ExactStore, error) {
	s := NewExactStore(dims)
	s.path = path
	if logger != nil {
		s.logger = logger
	}
	if path == "" {
		return s, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, corrupt(path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("vector_close_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}()

	var payload exactFile
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&payload); err != nil {
		return nil, corrupt(path, fmt.Errorf("decode: %w", err))
	}
	if payload.Version != exactFormatVersion {
		return nil, corrupt(path, fmt.Errorf("unsupported format version %d", payload.Version))
	}
	if dims > 0 && payload.Dimensions > 0 && payload.Dimensions != dims {
		return nil, ErrDimensionMismatch(dims, payload.Dimensions)
	}
	if payload.Dimensions > 0 {
		s.dims = payload.Dimensions
	}
	if payload.Vectors != nil {
		s.vectors = payload.Vectors
	}
	s.logger.Debug("vector_store_loaded",
		slog.String("backend", string(BackendExact)),
		slog.Int("vectors", len(s.vectors)),
		slog.Int("dimensions", s.dims))
	return s, nil
}

// Upsert implements Store.
func (s *ExactStore) Upsert(ctx context.Context, id string, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedErr()
	}
	if err := Validate(vec, s.dims); err != nil {
		return err
	}
	if s.dims == 0 {
		s.dims = len(vec)
	}
	s.vectors[id] = normalized(vec)
	s.dirty = true
	return nil
}

// Remove implements Store.
func (s *ExactStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedErr()
	}
	if _, ok := s.vectors[id]; ok {
		delete(s.vectors, id)
		s.dirty = true
	}
	return nil
}

// Search implements Store.
func (s *ExactStore) Search(ctx context.Context, query []float32, topK int, minSimilarity float64) ([]Match, error) {
	ids, vecs, err := s.snapshot(query)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Match{}, nil
	}
	if s.afterSnapshot != nil {
		s.afterSnapshot()
	}

	q := normalized(query)
	matches := make([]Match, 0, min(len(ids), max(topK, 16)))
	for i, v := range vecs {
		if (i+1)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		sim := dotUnit(q, v)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, Match{ID: ids[i], Similarity: sim})
	}
	sortMatches(matches)
	return truncate(matches, topK), nil
}

// snapshot copies the stored ids and vector headers so scoring can run
// without the lock. Stored vectors are replaced on Upsert, never mutated.
func (s *ExactStore) snapshot(query []float32) ([]string, [][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, closedErr()
	}
	if len(s.vectors) == 0 {
		return nil, nil, nil
	}
	if err := Validate(query, s.dims); err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(s.vectors))
	vecs := make([][]float32, 0, len(s.vectors))
	for id, v := range s.vectors {
		ids = append(ids, id)
		vecs = append(vecs, v)
	}
	return ids, vecs, nil
}

// Contains implements Store.
func (s *ExactStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vectors[id]
	return ok
}

// IDs implements Store. The result is sorted.
func (s *ExactStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dimensions implements Store.
func (s *ExactStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Len implements Store.
func (s *ExactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Save implements Store. It is a no-op for in-memory or unchanged stores.
func (s *ExactStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedErr()
	}
	return s.saveLocked()
}

func (s *ExactStore) saveLocked() error {
	if s.path == "" || !s.dirty {
		return nil
	}
	payload := exactFile{Version: exactFormatVersion, Dimensions: s.dims, Vectors: s.vectors}
	err := writeAtomic(s.path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := gob.NewEncoder(w).Encode(payload); err != nil {
			return fmt.Errorf("encode vectors: %w", err)
		}
		return w.Flush()
	})
	if err != nil {
		return fmt.Errorf("save vector store: %w", err)
	}
	s.dirty = false
	return nil
}

// Close saves pending changes and releases the store.
func (s *ExactStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.saveLocked()
	s.closed = true
	s.vectors = nil
	return err
}

var _ Store = (*ExactStore)(nil)
