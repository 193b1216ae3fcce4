// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection for stack worker pools.
//
// Provides:
//   - File based pool configuration (YAML or TOML) and cpulist parsing
//   - Global structured logger setup
//   - Prometheus metrics for worker creation, stack init and task execution
//   - Named debug probes for state dumps
package control
