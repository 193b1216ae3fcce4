// File: internal/concurrency/group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoopGroup builds a fixed set of stack event loops, one per worker
// descriptor, and starts them primary first.

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-fstack/affinity"
	"github.com/momentics/hioload-fstack/api"
	"github.com/momentics/hioload-fstack/control"
	"github.com/momentics/hioload-fstack/reactor"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// DefaultIORatio splits loop time evenly between IO and tasks.
const DefaultIORatio = 50

type groupOptions struct {
	newStack api.StackFactory
	pin      api.Pinner
	ioRatio  int
	metrics  control.Metrics
}

// Option customises an EventLoopGroup.
type Option func(*groupOptions)

// WithStackFactory sets how each worker's stack is built.
// The default is the kernel epoll stack from package reactor.
func WithStackFactory(f api.StackFactory) Option {
	return func(o *groupOptions) { o.newStack = f }
}

// WithPinner replaces affinity.SetAffinity as the core pinning function.
func WithPinner(p api.Pinner) Option {
	return func(o *groupOptions) { o.pin = p }
}

// WithIORatio sets the percentage of loop time given to IO, 1..100.
func WithIORatio(ratio int) Option {
	return func(o *groupOptions) { o.ioRatio = ratio }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m control.Metrics) Option {
	return func(o *groupOptions) { o.metrics = m }
}

var (
	_ api.Executor   = (*EventLoopGroup)(nil)
	_ control.Prober = (*EventLoopGroup)(nil)
)

// EventLoopGroup owns one EventLoop per configured worker.
type EventLoopGroup struct {
	cfg   api.PoolConfig
	loops []*EventLoop
	next  atomic.Uint64

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
}

// NewEventLoopGroup validates cfg and creates cfg.ThreadCount loops. Nothing
// is created when validation fails.
func NewEventLoopGroup(cfg api.PoolConfig, opts ...Option) (*EventLoopGroup, error) {
	if err := Validate(cfg); err != nil {
		return nil, api.WrapError(api.ErrCodeConfig, err).
			WithContext("thread-count", cfg.ThreadCount)
	}
	o := &groupOptions{
		newStack: reactor.NewKernelStack,
		pin:      affinity.SetAffinity,
		ioRatio:  DefaultIORatio,
		metrics:  control.Noop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.ioRatio <= 0 || o.ioRatio > 100 {
		return nil, api.WrapError(api.ErrCodeConfig, api.ErrInvalidIORatio).
			WithContext("io-ratio", o.ioRatio)
	}

	g := &EventLoopGroup{
		cfg:   cfg.Clone(),
		loops: make([]*EventLoop, 0, cfg.ThreadCount),
	}
	factory := NewWorkerFactory()
	for i := 0; i < g.cfg.ThreadCount; i++ {
		desc := factory.CreateNext(g.cfg)
		g.loops = append(g.loops, newEventLoop(desc, o))
		o.metrics.IncWorkerCreated(desc.Role.String())
		log.Info("stack worker created",
			zap.Int("index", desc.Index),
			zap.Int("core", desc.CoreID),
			zap.Stringer("role", desc.Role),
			zap.String("conf", desc.ConfigPath))
	}
	return g, nil
}

// Start launches the loops in creation order. Each loop's stack init is
// awaited before the next one starts, so the primary has set up the shared
// context before any secondary attaches. On failure every loop is stopped.
// A stopped group cannot be started.
func (g *EventLoopGroup) Start(ctx context.Context) error {
	if g.stopped.Load() {
		return errors.Annotate(api.ErrLoopClosed, "event loop group stopped")
	}
	if !g.started.CompareAndSwap(false, true) {
		return errors.Trace(api.ErrGroupStarted)
	}
	for _, el := range g.loops {
		select {
		case err := <-el.start():
			if err != nil {
				g.stopLoops()
				return errors.Annotatef(err, "start %s", el.desc.Name())
			}
		case <-ctx.Done():
			g.stopLoops()
			return errors.Trace(ctx.Err())
		}
	}
	if g.stopped.Load() {
		g.stopLoops()
		return errors.Annotate(api.ErrLoopClosed, "event loop group stopped while starting")
	}
	log.Info("event loop group started",
		zap.Int("workers", len(g.loops)),
		zap.String("cores", control.FormatCoreList(g.cfg.CoreIDs)),
		zap.Bool("primary", g.cfg.Primary))
	return nil
}

// Stop stops every loop and waits for them to exit. Safe to call more than once.
func (g *EventLoopGroup) Stop() {
	g.stopOnce.Do(func() {
		g.stopped.Store(true)
		g.stopLoops()
		log.Info("event loop group stopped", zap.Int("workers", len(g.loops)))
	})
}

func (g *EventLoopGroup) stopLoops() {
	var wg sync.WaitGroup
	for _, el := range g.loops {
		wg.Add(1)
		go func(el *EventLoop) {
			defer wg.Done()
			el.Stop()
		}(el)
	}
	wg.Wait()
}

// Next picks loops round-robin.
func (g *EventLoopGroup) Next() *EventLoop {
	i := g.next.Add(1) - 1
	return g.loops[i%uint64(len(g.loops))]
}

// Submit runs task on the next loop.
func (g *EventLoopGroup) Submit(task func()) error {
	return g.Next().Submit(task)
}

// NumWorkers returns the number of loops.
func (g *EventLoopGroup) NumWorkers() int { return len(g.loops) }

// Loops returns the loops in creation order.
func (g *EventLoopGroup) Loops() []*EventLoop {
	return append([]*EventLoop(nil), g.loops...)
}

// Descriptors returns the worker descriptors in creation order.
func (g *EventLoopGroup) Descriptors() []api.WorkerDescriptor {
	out := make([]api.WorkerDescriptor, len(g.loops))
	for i, el := range g.loops {
		out[i] = el.desc
	}
	return out
}

// RegisterProbes exposes the worker plan and per-loop counters.
func (g *EventLoopGroup) RegisterProbes(dp *control.DebugProbes) {
	dp.RegisterProbe("group.workers", func() any {
		return g.Descriptors()
	})
	dp.RegisterProbe("group.loops", func() any {
		stats := make(map[string]map[string]int64, len(g.loops))
		for _, el := range g.loops {
			stats[el.desc.Name()] = map[string]int64{
				"pending":  int64(el.Pending()),
				"executed": el.Executed(),
				"events":   el.Events(),
			}
		}
		return stats
	})
}
