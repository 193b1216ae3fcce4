// File: internal/concurrency/eventloop.go
// Package concurrency implements core-pinned stack event loops with adaptive backoff.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-fstack/affinity"
	"github.com/momentics/hioload-fstack/api"
	"github.com/momentics/hioload-fstack/control"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	// budgetCheckInterval is how many tasks run between deadline checks.
	budgetCheckInterval = 64

	minBackoff = time.Microsecond
	maxBackoff = time.Millisecond
)

var _ api.Executor = (*EventLoop)(nil)

// EventLoop drives one stack instance from a single pinned OS thread and
// runs submitted tasks between polls.
type EventLoop struct {
	desc     api.WorkerDescriptor
	newStack api.StackFactory
	pin      api.Pinner
	ioRatio  int
	metrics  control.Metrics

	tasks *taskQueue
	wake  chan struct{}

	ready    chan error
	stopCh   chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	executed atomic.Int64
	polled   atomic.Int64
}

func newEventLoop(desc api.WorkerDescriptor, o *groupOptions) *EventLoop {
	return &EventLoop{
		desc:     desc,
		newStack: o.newStack,
		pin:      o.pin,
		ioRatio:  o.ioRatio,
		metrics:  o.metrics,
		tasks:    newTaskQueue(),
		wake:     make(chan struct{}, 1),
		ready:    make(chan error, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Descriptor returns the core and role this loop was created with.
func (el *EventLoop) Descriptor() api.WorkerDescriptor {
	return el.desc
}

// Submit queues task to run on the loop's thread.
func (el *EventLoop) Submit(task func()) error {
	if task == nil {
		return errors.Annotate(api.ErrInvalidArgument, "nil task")
	}
	if !el.tasks.push(task) {
		return errors.Trace(api.ErrLoopClosed)
	}
	select {
	case el.wake <- struct{}{}:
	default:
	}
	return nil
}

// NumWorkers is always 1: a loop owns exactly one thread.
func (el *EventLoop) NumWorkers() int { return 1 }

// Pending returns the number of queued tasks.
func (el *EventLoop) Pending() int { return el.tasks.len() }

// Executed returns the number of tasks run so far.
func (el *EventLoop) Executed() int64 { return el.executed.Load() }

// Events returns the number of ready events reported by the stack so far.
func (el *EventLoop) Events() int64 { return el.polled.Load() }

// start launches the loop goroutine. The returned channel yields the stack
// init result exactly once.
func (el *EventLoop) start() <-chan error {
	if !el.started.CompareAndSwap(false, true) {
		ch := make(chan error, 1)
		ch <- errors.Annotatef(api.ErrGroupStarted, "loop %s", el.desc.Name())
		return ch
	}
	go el.run()
	return el.ready
}

// Stop rejects new tasks, waits for the loop to exit and closes its stack.
// It must not be called from a task running on the same loop.
func (el *EventLoop) Stop() {
	el.stopOnce.Do(func() {
		if dropped := el.tasks.close(); dropped > 0 {
			log.Warn("dropping queued tasks on stop",
				zap.String("worker", el.desc.Name()),
				zap.Int("dropped", dropped))
		}
		close(el.stopCh)
	})
	if el.started.Load() {
		<-el.done
	}
}

func (el *EventLoop) run() {
	defer close(el.done)
	role := el.desc.Role.String()
	// The goroutine exits while still locked, so the pinned thread is
	// discarded instead of going back to the scheduler with a narrowed mask.
	if err := affinity.LockAndPin(el.pin, el.desc.CoreID); err != nil {
		el.metrics.IncPinFailure(el.desc.CoreID)
		log.Warn("failed to pin stack worker",
			zap.String("worker", el.desc.Name()),
			zap.Int("core", el.desc.CoreID),
			zap.Error(err))
	}

	stack, err := el.initStack()
	if err != nil {
		el.metrics.IncStackInit(role, "error")
		log.Error("stack init failed",
			zap.String("worker", el.desc.Name()),
			zap.String("role", role),
			zap.Strings("args", api.StackArgs(el.desc)),
			zap.Error(err))
		el.ready <- err
		return
	}
	el.metrics.IncStackInit(role, "ok")
	log.Info("stack init success",
		zap.String("worker", el.desc.Name()),
		zap.String("role", role),
		zap.Strings("args", api.StackArgs(el.desc)))
	el.ready <- nil

	defer func() {
		if err := stack.Close(); err != nil {
			log.Warn("stack close failed", zap.String("worker", el.desc.Name()), zap.Error(err))
		}
		log.Info("stack worker stopped",
			zap.String("worker", el.desc.Name()),
			zap.Int64("tasks", el.executed.Load()),
			zap.Int64("events", el.polled.Load()))
	}()
	el.loop(stack)
}

func (el *EventLoop) initStack() (api.Stack, error) {
	stack, err := el.newStack(el.desc)
	if err == nil && stack == nil {
		err = errors.Annotate(api.ErrStackInit, "stack factory returned nil")
	}
	if err != nil {
		return nil, el.stackError(err)
	}
	if err := stack.Init(el.desc); err != nil {
		if cerr := stack.Close(); cerr != nil {
			log.Warn("stack close after failed init", zap.String("worker", el.desc.Name()), zap.Error(cerr))
		}
		return nil, el.stackError(err)
	}
	return stack, nil
}

func (el *EventLoop) stackError(err error) error {
	return api.WrapError(api.ErrCodeStackInit, err).
		WithContext("core", el.desc.CoreID).
		WithContext("role", el.desc.Role.String())
}

func (el *EventLoop) loop(stack api.Stack) {
	timer := time.NewTimer(maxBackoff)
	timer.Stop()
	defer timer.Stop()

	var backoff time.Duration
	for {
		select {
		case <-el.stopCh:
			return
		default:
		}

		n, err := stack.Poll(0)
		if err != nil {
			log.Warn("stack poll failed", zap.String("worker", el.desc.Name()), zap.Error(err))
			n = 0
		}

		// Tasks get (100-ioRatio)/ioRatio of the time spent processing ready
		// events. With nothing ready the budget is zero and a single batch of
		// budgetCheckInterval tasks runs before the next poll.
		var budget time.Duration
		if n > 0 {
			el.polled.Add(int64(n))
			ioStart := time.Now()
			if err := stack.ProcessReady(n); err != nil {
				log.Warn("stack process ready failed", zap.String("worker", el.desc.Name()), zap.Error(err))
			}
			budget = time.Since(ioStart) * time.Duration(100-el.ioRatio) / time.Duration(el.ioRatio)
		}
		ran := el.runTasks(budget)

		if n == 0 && ran == 0 {
			backoff = el.idle(timer, backoff)
		} else {
			backoff = 0
		}
	}
}

// runTasks runs the tasks queued when it was entered until budget is spent.
// The deadline is checked every budgetCheckInterval tasks, so a zero budget
// still runs one batch.
func (el *EventLoop) runTasks(budget time.Duration) int {
	limit := el.tasks.len()
	if limit == 0 {
		return 0
	}
	deadline := time.Now().Add(budget)
	ran := 0
	for ran < limit {
		task, ok := el.tasks.pop()
		if !ok {
			break
		}
		el.safeExecute(task)
		ran++
		if ran%budgetCheckInterval == 0 && !time.Now().Before(deadline) {
			break
		}
	}
	el.executed.Add(int64(ran))
	el.metrics.AddTasksExecuted(el.desc.CoreID, ran)
	return ran
}

func (el *EventLoop) safeExecute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked",
				zap.String("worker", el.desc.Name()),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	task()
}

// idle yields on the first empty round, then sleeps with exponential backoff
// until woken by Submit or Stop.
func (el *EventLoop) idle(timer *time.Timer, backoff time.Duration) time.Duration {
	if backoff < minBackoff {
		runtime.Gosched()
		return minBackoff
	}
	timer.Reset(backoff)
	select {
	case <-el.stopCh:
	case <-el.wake:
	case <-timer.C:
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	next := backoff * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
