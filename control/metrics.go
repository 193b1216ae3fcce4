// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics for stack worker pools.

package control

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics receives pool lifecycle events.
type Metrics interface {
	IncWorkerCreated(role string)
	IncStackInit(role, status string)
	AddTasksExecuted(coreID int, n int)
	IncPinFailure(coreID int)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncWorkerCreated(string)     {}
func (Noop) IncStackInit(string, string) {}
func (Noop) AddTasksExecuted(int, int)   {}
func (Noop) IncPinFailure(int)           {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	workersCreated *prometheus.CounterVec
	stackInit      *prometheus.CounterVec
	tasksExecuted  *prometheus.CounterVec
	pinFailures    *prometheus.CounterVec
}

// NewProm builds the collectors and registers them with the default
// registerer. Collectors already registered under the same namespace are
// reused, so every Prom for a namespace feeds the same series.
func NewProm(namespace string) *Prom {
	p := &Prom{
		workersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_created_total",
			Help:      "Stack workers created by role",
		}, []string{"role"}),
		stackInit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stack_init_total",
			Help:      "Stack init attempts by role and status",
		}, []string{"role", "status"}),
		tasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_executed_total",
			Help:      "Non-IO tasks run by stack workers per core",
		}, []string{"core"}),
		pinFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pin_failures_total",
			Help:      "Failed attempts to pin a stack worker to its core",
		}, []string{"core"}),
	}
	p.workersCreated = registerCounterVec(p.workersCreated)
	p.stackInit = registerCounterVec(p.stackInit)
	p.tasksExecuted = registerCounterVec(p.tasksExecuted)
	p.pinFailures = registerCounterVec(p.pinFailures)
	return p
}

func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (p *Prom) IncWorkerCreated(role string) {
	p.workersCreated.WithLabelValues(role).Inc()
}

func (p *Prom) IncStackInit(role, status string) {
	p.stackInit.WithLabelValues(role, status).Inc()
}

func (p *Prom) AddTasksExecuted(coreID int, n int) {
	if n <= 0 {
		return
	}
	p.tasksExecuted.WithLabelValues(strconv.Itoa(coreID)).Add(float64(n))
}

func (p *Prom) IncPinFailure(coreID int) {
	p.pinFailures.WithLabelValues(strconv.Itoa(coreID)).Inc()
}

// Handler exposes the default gatherer over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}
