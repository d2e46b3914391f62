package embed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// LimitConfig bounds calls into an embedder.
type LimitConfig struct {
	// MaxConcurrent caps in-flight calls (default 4).
	MaxConcurrent int64
	// RequestsPerSecond caps the call rate; 0 means unlimited.
	RequestsPerSecond float64
	// BreakerFailures consecutive unavailability errors open the circuit (default 5).
	BreakerFailures int
	// BreakerReset is how long the circuit stays open (default 30s).
	BreakerReset time.Duration
	Logger       *slog.Logger
}

// LimitedEmbedder bounds concurrency and rate of an inner embedder and
// fails fast while the service is known to be down.
//
// Only unavailability and timeouts trip the breaker; invalid input and
// rate limiting say nothing about service health.
type LimitedEmbedder struct {
	inner   Embedder
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *rerrors.CircuitBreaker
	logger  *slog.Logger
}

var _ Embedder = (*LimitedEmbedder)(nil)

// NewLimitedEmbedder wraps inner.
func NewLimitedEmbedder(inner Embedder, cfg LimitConfig) *LimitedEmbedder {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &LimitedEmbedder{
		inner:   inner,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter: limiter,
		breaker: rerrors.NewCircuitBreaker("embeddings",
			rerrors.WithMaxFailures(cfg.BreakerFailures),
			rerrors.WithResetTimeout(cfg.BreakerReset)),
		logger: cfg.Logger,
	}
}

// Embed waits for a concurrency slot and a rate token, then calls the inner
// embedder through the circuit breaker.
func (l *LimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrRateLimited("embedding rate limit exceeds the request deadline", err)
	}

	var vec []float32
	var passErr error
	err := l.breaker.Execute(func() error {
		var err error
		vec, err = l.inner.Embed(ctx, text)
		if err != nil && !IsUnavailable(err) {
			// not a health signal; report it without tripping the breaker
			passErr = err
			return nil
		}
		return err
	})

	switch {
	case errors.Is(err, rerrors.ErrCircuitOpen):
		return nil, ErrUnavailable("embedding service circuit is open", err)
	case err != nil:
		if l.breaker.State() == rerrors.StateOpen {
			l.logger.Warn("embedding_circuit_open",
				slog.String("model", l.inner.ModelName()),
				slog.String("error", err.Error()))
		}
		return nil, err
	case passErr != nil:
		return nil, passErr
	}
	return vec, nil
}

// State returns the circuit breaker state.
func (l *LimitedEmbedder) State() rerrors.State {
	return l.breaker.State()
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (l *LimitedEmbedder) Dimensions() int {
	return l.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (l *LimitedEmbedder) ModelName() string {
	return l.inner.ModelName()
}

// Available reports false while the circuit is open.
func (l *LimitedEmbedder) Available(ctx context.Context) bool {
	if l.breaker.State() == rerrors.StateOpen {
		return false
	}
	return l.inner.Available(ctx)
}

// Close closes the inner embedder.
func (l *LimitedEmbedder) Close() error {
	return l.inner.Close()
}
