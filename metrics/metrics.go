// Package metrics exposes the pipeline's Prometheus instruments. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imageresize"

type Collector struct {
	registry *prometheus.Registry

	TriggersTotal       *prometheus.CounterVec
	TriggersInFlight    prometheus.Gauge
	VariantsTotal       *prometheus.CounterVec
	VariantDuration     *prometheus.HistogramVec
	StorageWritesTotal  *prometheus.CounterVec
	StorageWriteSeconds *prometheus.HistogramVec
	SourceErrorsTotal   *prometheus.CounterVec
	ScanRunsTotal       prometheus.Counter
}

// NewCollector registers every instrument on a fresh registry together with
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		TriggersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "triggers_total",
				Help:      "Originals handled, by trigger source and outcome",
			},
			[]string{"source", "outcome"},
		),
		TriggersInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "triggers_in_flight",
				Help:      "Originals currently being processed",
			},
		),
		VariantsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "variants_total",
				Help:      "Variants produced, by category, size tag and outcome",
			},
			[]string{"category", "tag", "outcome"},
		),
		VariantDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "variant_duration_seconds",
				Help:      "Time to decode, resize, encode and write one variant",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"tag"},
		),
		StorageWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_writes_total",
				Help:      "Object store uploads, by store and outcome",
			},
			[]string{"store", "outcome"},
		),
		StorageWriteSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_write_duration_seconds",
				Help:      "Object store upload duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store"},
		),
		SourceErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Errors raised by trigger sources",
			},
			[]string{"source"},
		),
		ScanRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_runs_total",
				Help:      "Completed reconciliation scans",
			},
		),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) ObserveTrigger(source string, err error) {
	if c == nil {
		return
	}
	c.TriggersTotal.WithLabelValues(source, outcome(err)).Inc()
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (c *Collector) TrackInFlight() func() {
	if c == nil {
		return func() {}
	}
	c.TriggersInFlight.Inc()
	return c.TriggersInFlight.Dec
}

func (c *Collector) ObserveVariant(category, tag string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.VariantsTotal.WithLabelValues(category, tag, outcome(err)).Inc()
	c.VariantDuration.WithLabelValues(tag).Observe(d.Seconds())
}

func (c *Collector) ObserveWrite(store string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.StorageWritesTotal.WithLabelValues(store, outcome(err)).Inc()
	c.StorageWriteSeconds.WithLabelValues(store).Observe(d.Seconds())
}

func (c *Collector) SourceError(source string) {
	if c == nil {
		return
	}
	c.SourceErrorsTotal.WithLabelValues(source).Inc()
}

func (c *Collector) ScanCompleted() {
	if c == nil {
		return
	}
	c.ScanRunsTotal.Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
