// File: internal/concurrency/factory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Role and core assignment for stack workers.

package concurrency

import (
	"github.com/momentics/hioload-fstack/api"
	"github.com/pingcap/errors"
)

// Validate reports whether cfg can build a pool. It must pass before any
// worker is created.
func Validate(cfg api.PoolConfig) error {
	if len(cfg.CoreIDs) == 0 {
		return errors.Trace(api.ErrEmptyCoreList)
	}
	if cfg.ThreadCount <= 0 {
		return errors.Annotatef(api.ErrInvalidThreadCount, "got %d", cfg.ThreadCount)
	}
	return nil
}

// Assign maps creation index i to its worker descriptor. Only the worker
// created first may be primary, whichever core that lands on.
func Assign(cfg api.PoolConfig, i int) api.WorkerDescriptor {
	role := api.RoleSecondary
	if cfg.Primary && i == 0 {
		role = api.RolePrimary
	}
	return api.WorkerDescriptor{
		Index:      i,
		CoreID:     cfg.CoreIDs[i%len(cfg.CoreIDs)],
		Role:       role,
		ConfigPath: cfg.ConfigPath,
	}
}

// WorkerFactory hands out descriptors in creation order.
//
// It is not safe for concurrent use: the group bootstrap path is its only caller.
type WorkerFactory struct {
	next int
}

// NewWorkerFactory returns a factory whose first descriptor has index 0.
func NewWorkerFactory() *WorkerFactory {
	return &WorkerFactory{}
}

// CreateNext returns the descriptor for the next worker and advances the
// creation index. cfg must have passed Validate.
func (f *WorkerFactory) CreateNext(cfg api.PoolConfig) api.WorkerDescriptor {
	desc := Assign(cfg, f.next)
	f.next++
	return desc
}
