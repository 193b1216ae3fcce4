// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations for stack worker pools.

package api

import "strconv"

// Role tells a stack worker whether it bootstraps the shared stack context
// or attaches to one that is already initialized.
type Role int

const (
	RoleSecondary Role = iota
	RolePrimary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	default:
		return "secondary"
	}
}

// PoolConfig is supplied once when a pool is built and never changes afterwards.
type PoolConfig struct {
	// ThreadCount is the number of stack workers, must be > 0.
	ThreadCount int
	// ConfigPath identifies the stack configuration file. Passed through unexamined.
	ConfigPath string
	// Primary allows the first created worker to take the primary role.
	Primary bool
	// CoreIDs lists the CPU cores workers are pinned to, in rotation order.
	CoreIDs []int
}

// Clone returns a copy that shares no memory with c.
func (c PoolConfig) Clone() PoolConfig {
	out := c
	out.CoreIDs = append([]int(nil), c.CoreIDs...)
	return out
}

// WorkerDescriptor is everything a stack worker needs to know about itself.
type WorkerDescriptor struct {
	Index      int // zero-based creation index
	CoreID     int
	Role       Role
	ConfigPath string
}

// Name returns a stable label such as "fstack-0/core-2".
func (d WorkerDescriptor) Name() string {
	return "fstack-" + strconv.Itoa(d.Index) + "/core-" + strconv.Itoa(d.CoreID)
}
