// Package vector stores one embedding per document and answers cosine
// nearest-neighbour queries.
//
// Two backends share the Store interface: ExactStore scans every vector and
// HNSWStore uses an approximate coder/hnsw graph. Both keep a fixed
// dimensionality and persist with temp file + rename.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendExact Backend = "exact"
	BackendHNSW  Backend = "hnsw"
)

// FileName returns the data-dir file name used by a backend.
func FileName(b Backend) string {
	if b == BackendHNSW {
		return "vectors.hnsw"
	}
	return "vectors.gob"
}

// Match is one search result.
type Match struct {
	ID string
	// Similarity is the cosine similarity in [-1, 1].
	Similarity float64
}

// Store holds at most one vector per document id.
type Store interface {
	// Upsert replaces the vector stored for id.
	Upsert(ctx context.Context, id string, vec []float32) error
	// Remove deletes id. Removing an absent id is a no-op.
	Remove(ctx context.Context, id string) error
	// Search returns up to topK matches with similarity >= minSimilarity,
	// most similar first, ties broken by id.
	Search(ctx context.Context, query []float32, topK int, minSimilarity float64) ([]Match, error)
	Contains(id string) bool
	IDs() []string
	// Dimensions is 0 until the first vector fixes it.
	Dimensions() int
	Len() int
	// Save persists the store if it was opened with a path.
	Save() error
	Close() error
}

// HNSWConfig tunes the approximate backend.
type HNSWConfig struct {
	M        int
	EfSearch int
}

// Options configures Open.
type Options struct {
	Backend Backend
	// Path of the persisted store. Empty keeps it in memory.
	Path string
	// Dimensions expected by the embedder. 0 adopts whatever is stored or
	// the first inserted vector.
	Dimensions int
	HNSW       HNSWConfig
	Logger     *slog.Logger
}

// Open creates or loads a store for the configured backend.
// A stored dimensionality that differs from opts.Dimensions yields an
// ErrCodeDimensionMismatch error; an unreadable file yields
// ErrCodeCorruptIndex.
func Open(opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch opts.Backend {
	case "", BackendExact:
		return OpenExact(opts.Path, opts.Dimensions, opts.Logger)
	case BackendHNSW:
		return OpenHNSW(opts.Path, opts.Dimensions, opts.HNSW, opts.Logger)
	default:
		return nil, rerrors.Newf(rerrors.ErrCodeConfigInvalid, "unknown vector backend %q", opts.Backend)
	}
}

// Clear removes a persisted store and its sidecar files.
func Clear(path string) error {
	for _, p := range []string{path, path + ".meta", path + ".tmp", path + ".meta.tmp"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return rerrors.New(rerrors.ErrCodeFilePermission, "failed to remove vector store", err).
				WithDetail("path", p)
		}
	}
	return nil
}

// ErrDimensionMismatch builds the error returned for a vector of the wrong size.
func ErrDimensionMismatch(expected, got int) error {
	return rerrors.Newf(rerrors.ErrCodeDimensionMismatch,
		"vector dimension mismatch: expected %d, got %d", expected, got).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got))
}

// Validate checks a vector against the expected dimensionality (0 accepts
// any length) and rejects zero, NaN and Inf vectors.
func Validate(vec []float32, dims int) error {
	if len(vec) == 0 {
		return rerrors.Newf(rerrors.ErrCodeDegenerateVector, "empty vector")
	}
	if dims > 0 && len(vec) != dims {
		return ErrDimensionMismatch(dims, len(vec))
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return rerrors.Newf(rerrors.ErrCodeDegenerateVector, "vector contains NaN or Inf")
		}
	}
	if norm(vec) == 0 {
		return rerrors.Newf(rerrors.ErrCodeDegenerateVector, "zero vector")
	}
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b clamped to [-1, 1].
// Zero vectors have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func clamp(s float64) float64 {
	switch {
	case math.IsNaN(s):
		return 0
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// normalized returns a unit-length copy of v.
func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	n := norm(v)
	if n == 0 {
		return out
	}
	inv := float32(1 / n)
	for i := range out {
		out[i] *= inv
	}
	return out
}

// dotUnit is the cosine of two unit vectors.
func dotUnit(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return clamp(dot)
}

func sortMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Similarity != ms[j].Similarity {
			return ms[i].Similarity > ms[j].Similarity
		}
		return ms[i].ID < ms[j].ID
	})
}

func truncate(ms []Match, topK int) []Match {
	if topK > 0 && len(ms) > topK {
		return ms[:topK]
	}
	return ms
}

// writeAtomic writes through a temp file and renames it over path.
func writeAtomic(path string, write func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func closedErr() error {
	return rerrors.Newf(rerrors.ErrCodeClosed, "vector store is closed")
}

func corrupt(path string, err error) error {
	return rerrors.New(rerrors.ErrCodeCorruptIndex, "vector store is unreadable", err).
		WithDetail("path", path).
		WithSuggestion("Run 'recall rebuild' to recreate the index")
}
