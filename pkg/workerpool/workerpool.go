// Package workerpool runs CPU-bound batches of work — verifying a round's
// worth of DKG round-1 packages — with bounded concurrency and
// first-error cancellation, replacing the teacher's pkg/pool (no source
// present in the retrieval pack; see DESIGN.md) with a thin wrapper over
// golang.org/x/sync/errgroup.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool bounds how many tasks run concurrently. A zero-value Pool (or one
// built with a non-positive limit) runs every task with no cap.
type Pool struct {
	limit int
}

// New returns a Pool that runs at most limit tasks concurrently. limit <= 0
// means unbounded.
func New(limit int) *Pool {
	return &Pool{limit: limit}
}

// Run executes every task, returning the first non-nil error. A task
// observing ctx.Err() should return promptly once another task has failed.
func (p *Pool) Run(ctx context.Context, tasks []func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(gctx) })
	}
	return g.Wait()
}

// Map applies fn to every item with bounded concurrency, returning the
// results in input order or the first error encountered. Used by
// pkg/ciphersuite's verifyRound1Batch to verify a whole round's round-1
// packages in parallel
// instead of serially, per spec.md §5's "cryptographic operations run to
// completion without suspension" note — each verification still runs to
// completion uninterrupted, just alongside its siblings rather than after
// them.
func Map[T any, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	pool := New(limit)
	results := make([]R, len(items))
	tasks := make([]func(context.Context) error, len(items))
	for i, item := range items {
		i, item := i, item
		tasks[i] = func(ctx context.Context) error {
			r, err := fn(ctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		}
	}
	if err := pool.Run(ctx, tasks); err != nil {
		return nil, err
	}
	return results, nil
}
