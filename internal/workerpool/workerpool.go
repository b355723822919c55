// Package workerpool implements the shared worker pool that backs batch
// search, the asynchronous collection calls, and the background
// auto-vacuum dispatch. Multi-query search and HNSW insertion do not
// run on it.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of goroutines concurrently doing work on behalf
// of a Collection or Database, so a burst of batch calls cannot
// over-subscribe the host process.
type Pool struct {
	sem *semaphore.Weighted
	n   int64
}

// New creates a pool with the given size. A size <= 0 defaults to
// runtime.GOMAXPROCS(0), matching the "size = CPU count by default"
// scheduling model.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), n: int64(size)}
}

// Size returns the pool's configured concurrency.
func (p *Pool) Size() int { return int(p.n) }

// Go runs fn on the pool, blocking the caller until a slot is free or ctx
// is cancelled.
func (p *Pool) Go(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return ctx.Err()
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Map runs fn(ctx, i) for i in [0, n) across the pool and returns the
// first error encountered, cancelling the remaining work units. Index
// order of invocation is not guaranteed; callers write results into a
// pre-sized slice keyed by index to preserve order, matching "batch
// search... preserves input order".
func Map(ctx context.Context, pool *Pool, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		if err := pool.sem.Acquire(gctx, 1); err != nil {
			return gctx.Err()
		}
		g.Go(func() error {
			defer pool.sem.Release(1)
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// Cancelled reports whether ctx's deadline or explicit cancellation has
// fired; long operations check this between work units (per shard, per
// HNSW layer, per chunk of I/O) to honour cooperative cancellation.
func Cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
