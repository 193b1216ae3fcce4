//go:build linux

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPinToAllowedCPU(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	before, err := Allowed()
	require.NoError(t, err)
	require.NotEmpty(t, before)

	target := before[len(before)-1]
	require.NoError(t, SetAffinity(target))

	after, err := Allowed()
	require.NoError(t, err)
	require.Equal(t, []int{target}, after)

	// Restore the original mask so the thread goes back to the pool cleanly.
	var set unix.CPUSet
	set.Zero()
	for _, c := range before {
		set.Set(c)
	}
	require.NoError(t, unix.SchedSetaffinity(0, &set))
}

func TestSetAffinityRejectsNegative(t *testing.T) {
	require.Error(t, SetAffinity(-1))
}
