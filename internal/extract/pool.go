package extract

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/panjf2000/ants/v2"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// Future is the pending result of an asynchronous extraction.
type Future struct {
	done chan struct{}
	text string
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(text string, err error) {
	f.text, f.err = text, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the extraction finishes or ctx is done. Giving up on
// the wait does not cancel the extraction; cancel the context passed to
// ExtractAsync for that.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.text, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pool runs extractions on a bounded ants worker pool so slow adapters
// (OCR in particular) never block the caller's goroutine.
type Pool struct {
	x      *Extractor
	pool   *ants.Pool
	logger *slog.Logger
}

// NewPool creates a pool of size workers; size <= 0 uses min(NumCPU, 8).
func NewPool(x *Extractor, size int, logger *slog.Logger) (*Pool, error) {
	if size <= 0 {
		size = min(runtime.NumCPU(), 8)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create extraction pool: %w", err)
	}
	return &Pool{x: x, pool: p, logger: logger}, nil
}

// ExtractAsync schedules Extract on the pool. Submission blocks while all
// workers are busy.
func (p *Pool) ExtractAsync(ctx context.Context, path, declared string) *Future {
	f := newFuture()
	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("extract_worker_panic", slog.String("path", path), slog.Any("panic", r))
				f.resolve("", rerrors.Newf(rerrors.ErrCodeInternal, "extraction panicked: %v", r))
			}
		}()
		if err := ctx.Err(); err != nil {
			f.resolve("", err)
			return
		}
		f.resolve(p.x.Extract(ctx, path, declared))
	})
	if err != nil {
		f.resolve("", rerrors.New(rerrors.ErrCodeInternal, "extraction pool rejected task", err))
	}
	return f
}

// Extract runs an extraction on the pool and waits for it.
func (p *Pool) Extract(ctx context.Context, path, declared string) (string, error) {
	return p.ExtractAsync(ctx, path, declared).Wait(ctx)
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
