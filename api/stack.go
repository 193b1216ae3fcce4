// Package api
// Author: momentics <momentics@gmail.com>
//
// Contract between stack workers and the networking stack instance they drive.

package api

import "strconv"

// Stack is one instance of a networking stack driven by a single worker.
// Implementations are not required to be goroutine safe: every call is made
// from the worker's own pinned OS thread.
type Stack interface {
	// Init performs stack start-up for the given worker. A primary worker sets
	// up the shared context; a secondary attaches to it.
	Init(desc WorkerDescriptor) error
	// Poll waits for readiness and returns how many events are ready.
	// timeoutMs == 0 never blocks.
	Poll(timeoutMs int) (int, error)
	// ProcessReady dispatches the n events reported by the last Poll.
	ProcessReady(n int) error
	// Close releases the stack instance.
	Close() error
}

// StackFactory builds the stack for one worker.
type StackFactory func(desc WorkerDescriptor) (Stack, error)

// StackArgs renders the argv a user-space stack expects at init time.
func StackArgs(desc WorkerDescriptor) []string {
	return []string{
		"--conf", desc.ConfigPath,
		"--proc-id=" + strconv.Itoa(desc.CoreID),
		"--proc-type=" + desc.Role.String(),
	}
}
