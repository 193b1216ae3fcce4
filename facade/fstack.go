// File: facade/fstack.go
// Unified facade layer for hioload-fstack.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FStack wires configuration, metrics, debug probes and the stack event loop
// group behind one type. Plan exposes the worker assignment on its own so
// operators can check core and role placement without starting anything.

package facade

import (
	"context"

	"github.com/momentics/hioload-fstack/api"
	"github.com/momentics/hioload-fstack/control"
	"github.com/momentics/hioload-fstack/internal/concurrency"
	"github.com/pingcap/errors"
)

// Config holds parameters immutable per run.
type Config struct {
	Pool             api.PoolConfig
	IORatio          int              // Percentage of loop time spent on IO, 1..100
	CPUAffinity      bool             // Pin each worker to its core
	EnableMetrics    bool             // Register Prometheus collectors
	MetricsNamespace string           // Prometheus namespace
	StackFactory     api.StackFactory // nil selects the kernel epoll stack
}

// DefaultConfig returns default configuration values. Pool is left empty and
// must be filled in by the caller.
func DefaultConfig() *Config {
	return &Config{
		IORatio:          concurrency.DefaultIORatio,
		CPUAffinity:      true,
		EnableMetrics:    true,
		MetricsNamespace: control.DefaultMetricsNamespace,
	}
}

// FromFile converts a loaded file config.
func FromFile(fc *control.FileConfig) *Config {
	cfg := DefaultConfig()
	cfg.Pool = fc.PoolConfig()
	if fc.IORatio != 0 {
		cfg.IORatio = fc.IORatio
	}
	if fc.MetricsNamespace != "" {
		cfg.MetricsNamespace = fc.MetricsNamespace
	}
	return cfg
}

// FStack is the main facade type.
type FStack struct {
	cfg    *Config
	group  *concurrency.EventLoopGroup
	probes *control.DebugProbes
}

var _ api.GracefulShutdown = (*FStack)(nil)

// New validates cfg and builds every worker. Nothing is started.
func New(cfg *Config) (*FStack, error) {
	if cfg == nil {
		return nil, errors.Annotate(api.ErrInvalidArgument, "nil config")
	}
	opts := []concurrency.Option{concurrency.WithIORatio(cfg.IORatio)}
	if cfg.StackFactory != nil {
		opts = append(opts, concurrency.WithStackFactory(cfg.StackFactory))
	}
	if !cfg.CPUAffinity {
		opts = append(opts, concurrency.WithPinner(func(int) error { return nil }))
	}
	if cfg.EnableMetrics {
		opts = append(opts, concurrency.WithMetrics(control.NewProm(cfg.MetricsNamespace)))
	}

	group, err := concurrency.NewEventLoopGroup(cfg.Pool, opts...)
	if err != nil {
		return nil, err
	}
	probes := control.NewDebugProbes()
	group.RegisterProbes(probes)
	return &FStack{cfg: cfg, group: group, probes: probes}, nil
}

// Plan returns the descriptors a pool built from cfg would get, in creation
// order, without building any worker.
func Plan(cfg api.PoolConfig) ([]api.WorkerDescriptor, error) {
	if err := concurrency.Validate(cfg); err != nil {
		return nil, api.WrapError(api.ErrCodeConfig, err)
	}
	factory := concurrency.NewWorkerFactory()
	out := make([]api.WorkerDescriptor, cfg.ThreadCount)
	for i := range out {
		out[i] = factory.CreateNext(cfg)
	}
	return out, nil
}

// Start brings up every worker, primary first.
func (f *FStack) Start(ctx context.Context) error {
	return f.group.Start(ctx)
}

// Shutdown stops every worker and waits for them.
func (f *FStack) Shutdown() error {
	f.group.Stop()
	return nil
}

// Submit queues task on the next worker, round-robin.
func (f *FStack) Submit(task func()) error {
	return f.group.Submit(task)
}

// SubmitTo queues task on the worker with the given creation index.
func (f *FStack) SubmitTo(index int, task func()) error {
	loops := f.group.Loops()
	if index < 0 || index >= len(loops) {
		return errors.Annotatef(api.ErrInvalidArgument, "worker index %d out of range", index)
	}
	return loops[index].Submit(task)
}

// Descriptors returns the worker plan of the running pool.
func (f *FStack) Descriptors() []api.WorkerDescriptor {
	return f.group.Descriptors()
}

// Executor exposes the group as a plain task executor.
func (f *FStack) Executor() api.Executor {
	return f.group
}

// DebugState dumps every registered debug probe.
func (f *FStack) DebugState() map[string]any {
	return f.probes.DumpState()
}
