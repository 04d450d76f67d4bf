// Package async runs background work with bounded concurrency, per-task
// timeouts and panic recovery.
//
//	errs := async.Batch(ctx, urls, 4, 30*time.Second, "metadata refresh", logger,
//		func(ctx context.Context, url string) error {
//			return resolver.Refresh(ctx, url)
//		})
package async
