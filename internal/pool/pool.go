// Package pool bounds how many oracle subprocesses run at once across the
// whole run, including nested fan-outs (bootstrap replicates that each
// resolve their own quartets).
package pool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Global budget of FORKS concurrent subprocesses. Goroutines are cheap, so
// fan-outs may start more of them than forks; only work wrapped in Do holds
// a slot.
type Pool struct {
	forks int
	sem   *semaphore.Weighted
}

func New(forks int) *Pool {
	if forks < 1 {
		panic(fmt.Sprintf("pool needs at least one fork (got %d)", forks))
	}
	return &Pool{forks: forks, sem: semaphore.NewWeighted(int64(forks))}
}

func (p *Pool) Forks() int {
	return p.forks
}

// Runs f while holding one of the pool's slots. Returns the context error
// if ctx is cancelled before a slot frees up.
func (p *Pool) Do(ctx context.Context, f func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return f(ctx)
}

// Runs task for i in [0, n) with at most p.Forks() tasks in flight from this
// call, and returns the results in index order regardless of completion
// order. The first error cancels the remaining tasks and is returned; if ctx
// is cancelled before every task has run, its error is returned.
func Map[T any](ctx context.Context, p *Pool, n int, task func(ctx context.Context, i int) (T, error)) ([]T, error) {
	parent := ctx
	results := make([]T, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.forks)
	started := 0
	for i := range n {
		if ctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := task(ctx, i)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if started < n {
		return nil, parent.Err()
	}
	return results, nil
}
