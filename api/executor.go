// Package api
// Author: momentics
//
// Executor contract for task dispatch onto stack workers.

package api

// Executor abstracts task execution on a worker or group of workers.
type Executor interface {
	// Submit schedules task for execution.
	Submit(task func()) error

	// NumWorkers returns the number of workers tasks may land on.
	NumWorkers() int
}
