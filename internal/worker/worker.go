// Package worker provides a small fixed-width pool used to bound how many
// items hit the store at once.
package worker

import (
	"context"
	"sync"
)

type ProcessFunc[T any] func(ctx context.Context, job T)

type WorkerPool[T any] struct {
	numWorkers int
	jobs       chan T
	processor  ProcessFunc[T]
	wg         sync.WaitGroup
}

func NewWorkerPool[T any](numWorkers int, bufferSize int, processor ProcessFunc[T]) *WorkerPool[T] {
	return &WorkerPool[T]{
		numWorkers: max(numWorkers, 1),
		jobs:       make(chan T, bufferSize),
		processor:  processor,
	}
}

func (wp *WorkerPool[T]) Start(ctx context.Context) {
	for i := 1; i <= wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

// worker drains the queue until Stop closes it. Every submitted job reaches
// the processor, which is responsible for honouring ctx.
func (wp *WorkerPool[T]) worker(ctx context.Context) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		wp.processor(ctx, job)
	}
}

func (wp *WorkerPool[T]) Submit(job T) {
	wp.jobs <- job
}

func (wp *WorkerPool[T]) Stop() {
	close(wp.jobs)
	wp.wg.Wait()
}

// Run processes every item with at most numWorkers in flight and returns
// once all have finished.
func Run[T any](ctx context.Context, numWorkers int, items []T, processor ProcessFunc[T]) {
	if len(items) == 0 {
		return
	}
	pool := NewWorkerPool(min(numWorkers, len(items)), len(items), processor)
	pool.Start(ctx)
	for _, it := range items {
		pool.Submit(it)
	}
	pool.Stop()
}
