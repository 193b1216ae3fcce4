// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface for IO readiness polling.

package reactor

// FDEventType is a bit set of readiness conditions.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

// EventReactor defines basic reactor operations across OS platforms.
type EventReactor interface {
	// Register adds fd for the given readiness conditions.
	Register(fd uintptr, events FDEventType) error

	// Unregister removes fd.
	Unregister(fd uintptr) error

	// Wait fills events with ready descriptors and returns how many.
	// timeoutMs == 0 returns immediately, < 0 blocks until something is ready.
	// Interrupted waits are retried until the timeout elapses.
	Wait(events []Event, timeoutMs int) (n int, err error)

	// Close cleans up resources (epfd).
	Close() error
}

// Event contains event information returned by Wait call.
type Event struct {
	Fd     uintptr
	Events FDEventType
}
