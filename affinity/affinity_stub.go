//go:build !linux && !windows
// +build !linux,!windows

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.
// Returns error to indicate unavailability.

package affinity

import (
	"github.com/momentics/hioload-fstack/api"
	"github.com/pingcap/errors"
)

// setAffinityPlatform is a stub for platforms where CPU affinity is not supported.
func setAffinityPlatform(cpuID int) error {
	return errors.Annotate(api.ErrNotSupported, "affinity")
}

func allowedPlatform() ([]int, error) {
	return nil, errors.Annotate(api.ErrNotSupported, "affinity")
}
