// Package parallel implements a named fan-out over a fixed set of thunks,
// run concurrently, with each task's failure isolated from its siblings.
package parallel

import (
	"sort"
	"sync"
)

// Task is a single unit of work submitted to Run, keyed by name.
type Task func() (any, error)

// Result pairs a task's outcome with its name, once Run has completed.
type Result struct {
	Value any
	Err   error
}

// Run executes every task in tasks concurrently and returns once all of
// them have finished. Unlike golang.org/x/sync/errgroup, one task's error
// never cancels its siblings: every task runs to completion and contributes
// its own result, so a partial-failure request can still assemble whatever
// succeeded. Total wall time is bounded by the slowest single task, not the
// sum of all tasks.
func Run(tasks map[string]Task) map[string]Result {
	results := make(map[string]Result, len(tasks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(len(tasks))
	for name, task := range tasks {
		go func(name string, task Task) {
			defer wg.Done()
			value, err := task()
			mu.Lock()
			results[name] = Result{Value: value, Err: err}
			mu.Unlock()
		}(name, task)
	}
	wg.Wait()

	return results
}

// Names returns the task names present in results sorted lexically, so
// callers that must process results deterministically (logging, tests) do
// not depend on goroutine completion order.
func Names(results map[string]Result) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
