package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/panjf2000/ants/v2"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// DefaultPoolSize is the number of embedding workers when none is given.
const DefaultPoolSize = 4

// Future is the pending result of an asynchronous embedding.
type Future struct {
	done chan struct{}
	vec  []float32
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(vec []float32, err error) {
	f.vec, f.err = vec, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the embedding finishes or ctx is done. Giving up on
// the wait does not cancel the call; cancel the context passed to
// EmbedAsync for that.
func (f *Future) Wait(ctx context.Context) ([]float32, error) {
	select {
	case <-f.done:
		return f.vec, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pool runs embedding calls on a bounded ants worker pool, apart from the
// goroutines that write the index.
type Pool struct {
	e      Embedder
	pool   *ants.Pool
	logger *slog.Logger
}

// NewPool creates a pool of size workers over e; size <= 0 uses
// DefaultPoolSize. The pool does not own e.
func NewPool(e Embedder, size int, logger *slog.Logger) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	return &Pool{e: e, pool: p, logger: logger}, nil
}

// EmbedAsync schedules Embed on the pool. Submission blocks while all
// workers are busy.
func (p *Pool) EmbedAsync(ctx context.Context, text string) *Future {
	f := newFuture()
	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("embed_worker_panic", slog.Int("bytes", len(text)), slog.Any("panic", r))
				f.resolve(nil, rerrors.Newf(rerrors.ErrCodeEmbeddingFailed, "embedding panicked: %v", r))
			}
		}()
		if err := ctx.Err(); err != nil {
			f.resolve(nil, err)
			return
		}
		f.resolve(p.e.Embed(ctx, text))
	})
	if err != nil {
		f.resolve(nil, rerrors.New(rerrors.ErrCodeEmbeddingFailed, "embedding pool rejected task", err))
	}
	return f
}

// Embed runs an embedding on the pool and waits for it.
func (p *Pool) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.EmbedAsync(ctx, text).Wait(ctx)
}

// Running returns the number of busy workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Cap returns the pool size.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Release stops the pool. Pending futures still resolve.
func (p *Pool) Release() {
	p.pool.Release()
}
