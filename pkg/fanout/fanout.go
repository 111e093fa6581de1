// Package fanout runs independent tasks over a bounded worker pool.
//
// Results keep the order of the inputs regardless of completion order.
// The first task error cancels the tasks still running and is returned;
// tasks that want to tolerate failures encode them in their result and
// return a nil error.
//
// Example usage:
//
//	stories, err := fanout.Run(ctx, fanout.DefaultConfig(), ids,
//		func(ctx context.Context, id int) (result, error) {
//			return fetch(ctx, id), ctx.Err()
//		})
package fanout

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config holds worker pool configuration.
type Config struct {
	// MaxConcurrency is the maximum number of tasks in flight.
	MaxConcurrency int
}

// DefaultConfig returns two workers per available CPU.
func DefaultConfig() Config {
	return Config{MaxConcurrency: DefaultConcurrency()}
}

// DefaultConcurrency is two workers per available CPU.
func DefaultConcurrency() int {
	return 2 * runtime.NumCPU()
}

// Task processes a single input.
type Task[In, Out any] func(ctx context.Context, in In) (Out, error)

// Run calls task for every input with at most cfg.MaxConcurrency calls in
// flight. results[i] is the output for inputs[i].
//
// Run returns an error when a task fails or when ctx is done before every
// task completed; in both cases no results are returned.
func Run[In, Out any](ctx context.Context, cfg Config, inputs []In, task Task[In, Out]) ([]Out, error) {
	if len(inputs) == 0 {
		return nil, ctx.Err()
	}

	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = DefaultConcurrency()
	}
	if limit > len(inputs) {
		limit = len(inputs)
	}

	results := make([]Out, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, in := range inputs {
		// Go blocks while all workers are busy; stop handing out work once
		// the group is cancelled.
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := task(gctx, in)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
