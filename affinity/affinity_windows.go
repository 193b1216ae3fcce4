//go:build windows
// +build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows-specific implementation for setting thread CPU affinity.

package affinity

import (
	"runtime"

	"github.com/momentics/hioload-fstack/api"
	"github.com/pingcap/errors"
	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadAffinityMask = kernel32.NewProc("SetThreadAffinityMask")
)

// setAffinityPlatform sets thread affinity to a given CPU for Windows.
func setAffinityPlatform(cpuID int) error {
	if cpuID < 0 || cpuID >= 64 {
		return errors.Errorf("affinity: invalid cpu %d", cpuID)
	}
	mask := uintptr(1) << cpuID
	ret, _, err := procSetThreadAffinityMask.Call(uintptr(windows.CurrentThread()), mask)
	if ret == 0 {
		return errors.Annotatef(err, "affinity: SetThreadAffinityMask cpu %d", cpuID)
	}
	return nil
}

// allowedPlatform is not tracked per thread on Windows; report every logical CPU.
func allowedPlatform() ([]int, error) {
	n := runtime.NumCPU()
	if n <= 0 {
		return nil, errors.Annotate(api.ErrNotSupported, "affinity")
	}
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus, nil
}
