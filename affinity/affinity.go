// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_windows.go, etc.) guarded by build tags.

package affinity

import (
	"runtime"

	"github.com/momentics/hioload-fstack/api"
)

// SetAffinity pins current OS thread to a given logical CPU/core on supported platforms.
// On unsupported platforms returns an error wrapping api.ErrNotSupported.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// LockAndPin locks the calling goroutine to its OS thread and pins that thread
// to cpuID with pin, or SetAffinity when pin is nil. The goroutine stays
// locked even when pinning fails.
func LockAndPin(pin api.Pinner, cpuID int) error {
	runtime.LockOSThread()
	if pin == nil {
		pin = SetAffinity
	}
	return pin(cpuID)
}

// Allowed returns the CPUs the calling thread may currently run on.
func Allowed() ([]int, error) {
	return allowedPlatform()
}

var _ api.Pinner = SetAffinity
