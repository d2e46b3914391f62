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

	"github.com/coder/hnsw"
)

const hnswFormatVersion = 1

// hnswMetadata is the gob sidecar stored next to the exported graph.
type hnswMetadata struct {
	Version    int
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
	Config     HNSWConfig
}

// HNSWStore is an approximate Store backed by coder/hnsw.
//
// Deletes are lazy: the id mapping is dropped and the node stays in the
// graph as an orphan, because removing the last node of a coder/hnsw graph
// leaves it unusable. Save compacts the graph once orphans outnumber live
// vectors.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig
	dims   int

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	path   string
	dirty  bool
	closed bool
	logger *slog.Logger
}

// HNSWStats reports graph occupancy.
type HNSWStats struct {
	Live       int // Active vectors
	GraphNodes int // Nodes in the graph, orphans included
	Orphans    int
}

func newGraph(cfg HNSWConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// NewHNSWStore returns an empty in-memory HNSW store.
func NewHNSWStore(dims int, cfg HNSWConfig) *HNSWStore {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	return &HNSWStore{
		graph:  newGraph(cfg),
		config: cfg,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		logger: slog.Default(),
	}
}

// OpenHNSW loads an HNSW store from path and its ".meta" sidecar, or starts
// an empty one when neither exists.
func OpenHNSW(path string, dims int, cfg HNSWConfig, logger *slog.Logger) (*HNSWStore, error) {
	s := NewHNSWStore(dims, cfg)
	s.path = path
	if logger != nil {
		s.logger = logger
	}
	if path == "" {
		return s, nil
	}

	meta, err := readHNSWMetadata(path + ".meta")
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, corrupt(path, err)
	}
	if meta.Version != hnswFormatVersion {
		return nil, corrupt(path, fmt.Errorf("unsupported format version %d", meta.Version))
	}
	if dims > 0 && meta.Dimensions > 0 && meta.Dimensions != dims {
		return nil, ErrDimensionMismatch(dims, meta.Dimensions)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, corrupt(path, err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, corrupt(path, fmt.Errorf("import graph: %w", err))
	}

	s.idMap = meta.IDMap
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	s.nextKey = meta.NextKey
	if meta.Dimensions > 0 {
		s.dims = meta.Dimensions
	}
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	s.logger.Debug("vector_store_loaded",
		slog.String("backend", string(BackendHNSW)),
		slog.Int("vectors", len(s.idMap)),
		slog.Int("graph_nodes", s.graph.Len()))
	return s, nil
}

func readHNSWMetadata(path string) (*hnswMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return &meta, nil
}

// Upsert implements Store. An existing id is orphaned and re-added under a
// fresh key.
func (s *HNSWStore) Upsert(ctx context.Context, id string, vec []float32) error {
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

	if existing, ok := s.idMap[id]; ok {
		delete(s.keyMap, existing)
		delete(s.idMap, id)
	}

	key := s.nextKey
	s.nextKey++
	s.graph.Add(hnsw.MakeNode(key, normalized(vec)))
	s.idMap[id] = key
	s.keyMap[key] = id
	s.dirty = true
	return nil
}

// Remove implements Store.
func (s *HNSWStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedErr()
	}
	if key, ok := s.idMap[id]; ok {
		delete(s.keyMap, key)
		delete(s.idMap, id)
		s.dirty = true
	}
	return nil
}

// Search implements Store. Orphaned nodes are over-fetched and skipped so
// deleted ids never surface.
func (s *HNSWStore) Search(ctx context.Context, query []float32, topK int, minSimilarity float64) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, closedErr()
	}
	if len(s.idMap) == 0 {
		return []Match{}, nil
	}
	if err := Validate(query, s.dims); err != nil {
		return nil, err
	}

	k := topK
	if k <= 0 || k > len(s.idMap) {
		k = len(s.idMap)
	}
	fetch := min(k+s.graph.Len()-len(s.idMap), s.graph.Len())

	q := normalized(query)
	nodes := s.graph.Search(q, fetch)

	matches := make([]Match, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		sim := dotUnit(q, node.Value)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, Match{ID: id, Similarity: sim})
	}
	sortMatches(matches)
	return truncate(matches, topK), nil
}

// Contains implements Store.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// IDs implements Store. The result is sorted.
func (s *HNSWStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dimensions implements Store.
func (s *HNSWStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Len implements Store.
func (s *HNSWStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Stats returns live and orphaned node counts.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return HNSWStats{}
	}
	nodes := s.graph.Len()
	return HNSWStats{Live: len(s.idMap), GraphNodes: nodes, Orphans: nodes - len(s.idMap)}
}

// Compact rebuilds the graph from live vectors, dropping orphans.
func (s *HNSWStore) Compact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.compactLocked()
	}
}

func (s *HNSWStore) compactLocked() {
	before := s.graph.Len()
	if before == len(s.idMap) {
		return
	}
	graph := newGraph(s.config)
	idMap := make(map[string]uint64, len(s.idMap))
	keyMap := make(map[uint64]string, len(s.idMap))
	var next uint64

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		vec, ok := s.graph.Lookup(s.idMap[id])
		if !ok {
			continue
		}
		graph.Add(hnsw.MakeNode(next, vec))
		idMap[id] = next
		keyMap[next] = id
		next++
	}

	s.graph, s.idMap, s.keyMap, s.nextKey = graph, idMap, keyMap, next
	s.dirty = true
	s.logger.Debug("hnsw_compacted", slog.Int("nodes_before", before), slog.Int("nodes_after", graph.Len()))
}

// Save implements Store. Heavily orphaned graphs are compacted first.
func (s *HNSWStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedErr()
	}
	return s.saveLocked()
}

func (s *HNSWStore) saveLocked() error {
	if s.path == "" || !s.dirty {
		return nil
	}
	if orphans := s.graph.Len() - len(s.idMap); orphans > len(s.idMap) {
		s.compactLocked()
	}

	err := writeAtomic(s.path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := s.graph.Export(w); err != nil {
			return fmt.Errorf("export graph: %w", err)
		}
		return w.Flush()
	})
	if err != nil {
		return fmt.Errorf("save hnsw graph: %w", err)
	}

	meta := hnswMetadata{
		Version:    hnswFormatVersion,
		IDMap:      s.idMap,
		NextKey:    s.nextKey,
		Dimensions: s.dims,
		Config:     s.config,
	}
	err = writeAtomic(s.path+".meta", func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	})
	if err != nil {
		return fmt.Errorf("save hnsw metadata: %w", err)
	}
	s.dirty = false
	return nil
}

// Close saves pending changes and releases the graph.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.saveLocked()
	s.closed = true
	s.graph = nil
	return err
}

var _ Store = (*HNSWStore)(nil)
