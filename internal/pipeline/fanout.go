package pipeline

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// FanOut runs fn for each index in [0, n) with at most sc.Concurrency items in
// flight. Before starting an item it takes a slot and then waits on the pause
// gate, so a pause or cancel stops new items while running ones finish. The
// first error cancels the remaining items and is returned. Progress is
// reported as the completed fraction.
func FanOut(ctx context.Context, sc *StageContext, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		sc.Report(100)
		return ctx.Err()
	}
	sem := semaphore.NewWeighted(int64(max(sc.Concurrency, 1)))
	g, gctx := errgroup.WithContext(ctx)
	var completed atomic.Int64

	for i := range n {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		if err := sc.Gate.Wait(gctx); err != nil {
			sem.Release(1)
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := fn(gctx, i); err != nil {
				return err
			}
			done := completed.Add(1)
			sc.Report(float64(done) * 100 / float64(n))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Map applies fn to every item through FanOut and returns results in input order.
func Map[In, Out any](ctx context.Context, sc *StageContext, items []In, fn func(ctx context.Context, item In) (Out, error)) ([]Out, error) {
	out := make([]Out, len(items))
	err := FanOut(ctx, sc, len(items), func(ctx context.Context, i int) error {
		value, err := fn(ctx, items[i])
		if err != nil {
			return err
		}
		out[i] = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
