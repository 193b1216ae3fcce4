// Package api
// Author: momentics@gmail.com
//
// CPU affinity and thread pinning definitions.

package api

// Pinner binds the calling OS thread to one CPU core.
// Callers must hold runtime.LockOSThread for the pin to stay meaningful.
type Pinner func(coreID int) error
