// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown stops a component and waits for its workers to exit.
type GracefulShutdown interface {
	Shutdown() error
}
