package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Batch runs fn for every item with at most workers running at once. Each
// call gets its own timeout. A failing or panicking call does not stop the
// others; every error is returned in item order.
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, taskName string,
	logger *observability.Logger, fn func(context.Context, T) error) []error {

	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs = make([]error, len(items))
	)

	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			err := run(ctx, timeout, taskName, logger, func(ctx context.Context) error {
				return fn(ctx, item)
			})
			if err != nil {
				mu.Lock()
				errs[i] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// run calls fn with a timeout and turns a panic into an error
func run(parent context.Context, timeout time.Duration, taskName string, logger *observability.Logger,
	fn func(context.Context) error) (err error) {

	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"task":  taskName,
				"stack": string(debug.Stack()),
			}).Errorf("panic in background task: %v", r)
			err = fmt.Errorf("%s: panic: %v", taskName, r)
		}
	}()

	return fn(ctx)
}
