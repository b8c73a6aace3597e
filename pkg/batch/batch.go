package batch

import (
	"context"
	"fmt"
	"sync"

	"worker-walkthrough/pkg/apperror"
)

// Result is the outcome of one unit of work. Err is set instead of Value when the unit failed.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

func (r Result[R]) OK() bool {
	return r.Err == nil
}

// ProgressFunc is called once per finished item. completed strictly increases from 1 to total.
type ProgressFunc[R any] func(completed, total int, result Result[R])

// Run processes items in chunks of size concurrency. Items inside a chunk run concurrently and
// the next chunk starts once the whole chunk has finished. A failing item never aborts the batch;
// the returned slice always has len(items) entries in input order.
func Run[T, R any](
	ctx context.Context,
	items []T,
	concurrency int,
	fn func(ctx context.Context, index int, item T) (R, error),
	onProgress ProgressFunc[R],
) []Result[R] {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Result[R], len(items))
	total := len(items)
	completed := 0
	var mu sync.Mutex

	report := func(res Result[R]) {
		mu.Lock()
		defer mu.Unlock()
		results[res.Index] = res
		completed++
		if onProgress != nil {
			onProgress(completed, total, res)
		}
	}

	for start := 0; start < total; start += concurrency {
		end := min(start+concurrency, total)

		if err := ctx.Err(); err != nil {
			for i := start; i < total; i++ {
				report(Result[R]{Index: i, Err: apperror.Wrap(apperror.CodeCancelled, "batch.Run", err)})
			}
			break
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				report(runOne(ctx, index, items[index], fn))
			}(i)
		}
		wg.Wait()
	}

	return results
}

func runOne[T, R any](ctx context.Context, index int, item T, fn func(context.Context, int, T) (R, error)) (res Result[R]) {
	res.Index = index
	defer func() {
		if p := recover(); p != nil {
			res.Err = apperror.New(apperror.CodeInternal, "batch.Run", fmt.Sprintf("panic in item %d: %v", index, p))
		}
	}()
	res.Value, res.Err = fn(ctx, index, item)
	return res
}

// Succeeded counts results without an error.
func Succeeded[R any](results []Result[R]) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}
