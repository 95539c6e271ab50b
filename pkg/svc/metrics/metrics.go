// Package metrics exports reconciliation records as Prometheus metrics and
// serves them over HTTP.
package metrics

import (
	"sync"

	"github.com/cheap-k8s/stageflow/pkg/svc/driver"
	"github.com/cheap-k8s/stageflow/pkg/svc/planner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "stageflow"

var healthStates = []driver.Health{
	driver.HealthPending,
	driver.HealthProgressing,
	driver.HealthReady,
	driver.HealthFailed,
}

var stageLabels = []string{"repository", "target", "stage"}

// Collector implements driver.Observer by updating Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	health              *prometheus.GaugeVec
	attempts            *prometheus.CounterVec
	failures            *prometheus.CounterVec
	consecutiveFailures *prometheus.GaugeVec
	transitions         *prometheus.CounterVec

	mu        sync.Mutex
	attempted map[planner.ID]int
	last      map[planner.ID]driver.Health
}

// NewCollector creates a collector with its own registry, which also carries
// the Go runtime and process collectors.
func NewCollector() *Collector {
	collector := &Collector{
		registry: prometheus.NewRegistry(),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "health",
			Help:      "Current health of a stage, 1 for the active state.",
		}, append(append([]string(nil), stageLabels...), "health")),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "attempts_total",
			Help:      "Reconciliation attempts per stage.",
		}, stageLabels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "failures_total",
			Help:      "Failed reconciliation attempts per stage.",
		}, stageLabels),
		consecutiveFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "consecutive_failures",
			Help:      "Failures since the last successful attempt.",
		}, stageLabels),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "transitions_total",
			Help:      "Health transitions per stage and target state.",
		}, append(append([]string(nil), stageLabels...), "health")),
		attempted: map[planner.ID]int{},
		last:      map[planner.ID]driver.Health{},
	}

	collector.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collector.health,
		collector.attempts,
		collector.failures,
		collector.consecutiveFailures,
		collector.transitions,
	)

	return collector
}

// Registry returns the registry holding the collector metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Observe implements driver.Observer.
func (c *Collector) Observe(record driver.Record) {
	labels := stageLabelValues(record.ID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if record.Retired {
		c.forget(record.ID, labels)

		return
	}

	if delta := record.Attempts - c.attempted[record.ID]; delta > 0 {
		c.attempts.WithLabelValues(labels...).Add(float64(delta))
	}

	c.attempted[record.ID] = record.Attempts

	previous, seen := c.last[record.ID]
	if !seen || previous != record.Health {
		c.transitions.WithLabelValues(append(labels, string(record.Health))...).Inc()

		if record.Health == driver.HealthFailed {
			c.failures.WithLabelValues(labels...).Inc()
		}
	}

	c.last[record.ID] = record.Health

	for _, state := range healthStates {
		value := 0.0
		if state == record.Health {
			value = 1
		}

		c.health.WithLabelValues(append(labels, string(state))...).Set(value)
	}

	c.consecutiveFailures.WithLabelValues(labels...).Set(float64(record.ConsecutiveFailures))
}

func (c *Collector) forget(id planner.ID, labels []string) {
	delete(c.attempted, id)
	delete(c.last, id)

	match := prometheus.Labels{"repository": labels[0], "target": labels[1], "stage": labels[2]}

	c.health.DeletePartialMatch(match)
	c.attempts.DeletePartialMatch(match)
	c.failures.DeletePartialMatch(match)
	c.consecutiveFailures.DeletePartialMatch(match)
	c.transitions.DeletePartialMatch(match)
}

func stageLabelValues(id planner.ID) []string {
	stage := string(id.Kind)
	if id.Name != "" {
		stage += "-" + id.Name
	}

	return []string{id.Repository, id.Target, stage}
}
