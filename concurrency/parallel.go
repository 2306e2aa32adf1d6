package concurrency

import "sync"

// ParallelExecutor runs a fixed batch of functions on a bounded set of workers.
type ParallelExecutor struct {
	maxWorkers int
}

// NewParallelExecutor creates an executor; maxWorkers <= 0 means one worker
// per function.
func NewParallelExecutor(maxWorkers int) *ParallelExecutor {
	return &ParallelExecutor{maxWorkers: maxWorkers}
}

// Execute runs fns and returns their errors in the same order. A panicking
// function is reported through its error slot.
func (p *ParallelExecutor) Execute(fns []func() error) []error {
	if len(fns) == 0 {
		return nil
	}

	workers := p.maxWorkers
	if workers <= 0 || len(fns) < workers {
		workers = len(fns)
	}

	queue := make(chan int, len(fns))
	results := make([]error, len(fns))
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range queue {
				results[index] = runRecovered(fns[index])
			}
		}()
	}

	for i := range fns {
		queue <- i
	}
	close(queue)

	wg.Wait()
	return results
}
