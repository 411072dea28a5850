package cmd

import (
	"context"
	"sync"
)

// runWorkers starts each worker in its own goroutine. The returned stop func
// cancels them and blocks until every worker has returned.
func runWorkers(parent context.Context, workers ...func(context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(parent)

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w func(context.Context)) {
			defer wg.Done()
			w(ctx)
		}(w)
	}

	return func() {
		cancel()
		wg.Wait()
	}
}
