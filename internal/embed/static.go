package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/Aman-CERP/recall/internal/analysis"
)

// Weights for vector generation
const (
	termWeight  = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// StaticEmbedder generates embeddings by feature hashing.
// It works offline and is deterministic. Similar vocabulary gives similar
// vectors; there is no notion of synonyms.
type StaticEmbedder struct {
	analyzer *analysis.Analyzer

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a new static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{analyzer: analysis.Default()}
}

// Embed hashes the analyzed stems of text plus character trigrams into
// StaticDimensions buckets and normalizes the result.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, errClosed()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, StaticDimensions)
	var features int

	for _, term := range e.analyzer.Terms(text) {
		vector[hashToIndex("t:"+term, StaticDimensions)] += termWeight
		features++
	}
	for _, ngram := range extractNgrams(normalizeForNgrams(text), ngramSize) {
		vector[hashToIndex("g:"+ngram, StaticDimensions)] += ngramWeight
		features++
	}

	if features == 0 {
		return nil, ErrInvalidInput("text has no embeddable content", nil)
	}
	return normalizeVector(vector), nil
}

// normalizeForNgrams keeps lowercased letters and digits.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-rune sliding windows.
func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(runes)-n+1)
	for i := 0; i <= len(runes)-n; i++ {
		ngrams = append(ngrams, string(runes[i:i+n]))
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier, including the analysis chain
// so a changed chain invalidates stored vectors.
func (e *StaticEmbedder) ModelName() string {
	return "static-" + analysis.Version
}

// Available checks if the embedder is ready (always true until closed).
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
