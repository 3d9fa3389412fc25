// Package metrics provides Prometheus instrumentation for the entry manager
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/crud"
)

// Metrics holds the Prometheus metrics of manager operations
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	NotFoundTotal     *prometheus.CounterVec
}

// New creates the metrics on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entrymap_operations_total",
				Help: "Total number of entry manager operations",
			},
			[]string{"operation", "type", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entrymap_operation_duration_seconds",
				Help:    "Duration of entry manager operations in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		NotFoundTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entrymap_not_found_total",
				Help: "Total number of operations that found no entry",
			},
			[]string{"operation"},
		),
	}
}

// ObserveOperation implements crud.Observer
func (m *Metrics) ObserveOperation(op crud.Operation, entryType string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(op.String(), entryType, status).Inc()
	m.OperationDuration.WithLabelValues(op.String()).Observe(duration.Seconds())
	if backend.IsNotFound(err) {
		m.NotFoundTotal.WithLabelValues(op.String()).Inc()
	}
}

// Registry returns the registry holding the metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ crud.Observer = (*Metrics)(nil)
