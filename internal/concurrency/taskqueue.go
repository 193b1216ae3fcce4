// File: internal/concurrency/taskqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unbounded multi-producer task queue drained by a single event loop.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// TaskFunc is a unit of non-IO work run on a stack worker.
type TaskFunc func()

type taskQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: queue.New()}
}

// push appends task; false once the queue is closed.
func (tq *taskQueue) push(task TaskFunc) bool {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if tq.closed {
		return false
	}
	tq.q.Add(task)
	return true
}

func (tq *taskQueue) pop() (TaskFunc, bool) {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if tq.q.Length() == 0 {
		return nil, false
	}
	return tq.q.Remove().(TaskFunc), true
}

func (tq *taskQueue) len() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.q.Length()
}

// close rejects further pushes and drops whatever is still queued.
func (tq *taskQueue) close() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if tq.closed {
		return 0
	}
	tq.closed = true
	dropped := tq.q.Length()
	tq.q = queue.New()
	return dropped
}
