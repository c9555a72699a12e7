// Package pool runs a fan-out of independent tasks with a fixed worker count
// and a per-task timeout.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrTaskTimeout is recorded for an item whose worker did not return within the per-task timeout.
var ErrTaskTimeout = errors.New("pool: task timed out")

// Worker processes a single item. It should honour ctx, but the pool does not rely on it.
type Worker[T any] func(ctx context.Context, item T) error

// ItemError pairs a failed item with its error.
type ItemError[T any] struct {
	Item T
	Err  error
}

// Result summarises one RunAll invocation.
type Result[T any] struct {
	Succeeded int
	Failed    int
	Errors    []ItemError[T]
	// Err is the context error when ctx ended before every item was started.
	// Items that never started are counted as failed with that error.
	Err error
}

// Total is the number of attempted items.
func (r Result[T]) Total() int {
	return r.Succeeded + r.Failed
}

// FailedItems returns the items that failed, in no particular order.
func (r Result[T]) FailedItems() []T {
	items := make([]T, 0, len(r.Errors))
	for _, e := range r.Errors {
		items = append(items, e.Item)
	}
	return items
}

// RunAll processes every item exactly once using min(concurrency, len(items)) workers
// pulling from a shared list. A timed-out task counts as a failure and does not
// hold up its worker; the abandoned call is left to finish on its own.
// RunAll never retries; callers wrap the worker with retry when they need it.
func RunAll[T any](ctx context.Context, items []T, worker Worker[T], concurrency int, perTaskTimeout time.Duration) Result[T] {
	var res Result[T]
	if len(items) == 0 {
		return res
	}

	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	work := make(chan int, len(items))
	for i := range items {
		work <- i
	}
	close(work)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)

	record := func(item T, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			res.Succeeded++
			return
		}
		res.Failed++
		res.Errors = append(res.Errors, ItemError[T]{Item: item, Err: err})
	}

	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			var skipped error
			for i := range work {
				item := items[i]
				if err := ctx.Err(); err != nil {
					record(item, err)
					skipped = err
					continue
				}
				record(item, runTask(ctx, item, worker, perTaskTimeout))
			}
			return skipped
		})
	}

	res.Err = g.Wait()
	return res
}

// runTask runs one worker call bounded by timeout.
func runTask[T any](ctx context.Context, item T, worker Worker[T], timeout time.Duration) error {
	if timeout <= 0 {
		return safeCall(ctx, item, worker)
	}

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned worker can still deliver its result and exit.
	done := make(chan error, 1)
	go func() {
		done <- safeCall(taskCtx, item, worker)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %v: %w", ErrTaskTimeout, timeout, err)
		}
		return err
	case <-taskCtx.Done():
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %v", ErrTaskTimeout, timeout)
		}
		return taskCtx.Err()
	}
}

// safeCall turns a panicking worker into a failed item.
func safeCall[T any](ctx context.Context, item T, worker Worker[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool: worker panic: %v", r)
		}
	}()
	return worker(ctx, item)
}
