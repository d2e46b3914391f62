// Package embed turns text into dense vectors.
//
// OllamaEmbedder talks to a local Ollama server. StaticEmbedder hashes
// analyzed terms and needs no service. CachedEmbedder and LimitedEmbedder
// wrap either one.
package embed

import (
	"context"
	"math"
	"time"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

const (
	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3

	// StaticDimensions is the vector size of StaticEmbedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns the embedding of text.
	// Errors carry ErrCodeRateLimited, ErrCodeNetworkUnavailable or
	// ErrCodeInvalidInput.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding size, or 0 if not yet known.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	Close() error
}

// ErrRateLimited reports that the service asked us to slow down.
func ErrRateLimited(msg string, cause error) *rerrors.Error {
	return rerrors.New(rerrors.ErrCodeRateLimited, msg, cause)
}

// ErrUnavailable reports that the service cannot be reached or failed.
func ErrUnavailable(msg string, cause error) *rerrors.Error {
	return rerrors.New(rerrors.ErrCodeNetworkUnavailable, msg, cause).
		WithSuggestion("Check that the embedding service is running, or set embeddings.provider to static")
}

// ErrInvalidInput reports text the service refused to embed.
func ErrInvalidInput(msg string, cause error) *rerrors.Error {
	return rerrors.New(rerrors.ErrCodeInvalidInput, msg, cause)
}

// IsUnavailable reports whether err means the service is down.
func IsUnavailable(err error) bool {
	return rerrors.HasCode(err, rerrors.ErrCodeNetworkUnavailable) ||
		rerrors.HasCode(err, rerrors.ErrCodeNetworkTimeout)
}

func errClosed() error {
	return rerrors.Newf(rerrors.ErrCodeClosed, "embedder is closed")
}

// normalizeVector returns a unit-length copy of v. Zero vectors are
// returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
