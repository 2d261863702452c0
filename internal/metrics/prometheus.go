// Package metrics exposes deploy run outcomes in Prometheus format.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records deploy outcomes. Metrics are registered in a dedicated
// registry so they do not interfere with the default global registry.
type Collector struct {
	registry *prometheus.Registry

	deployed       prometheus.Counter
	skipped        *prometheus.CounterVec
	failures       *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	lastRun        prometheus.Gauge
}

// NewCollector creates a Collector
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	deployed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "smelter",
		Name:      "contracts_deployed_total",
		Help:      "Total number of contracts deployed with a transaction.",
	})

	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smelter",
		Name:      "contracts_skipped_total",
		Help:      "Total number of contracts skipped, by reason.",
	}, []string{"reason"})

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smelter",
		Name:      "deploy_failures_total",
		Help:      "Total number of failed deploy runs, by error kind.",
	}, []string{"kind"})

	deployDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "smelter",
		Name:      "contract_deploy_duration_seconds",
		Help:      "Time from sending a contract creation to its confirmation.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"contract"})

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smelter",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last recorded outcome.",
	})

	reg.MustRegister(deployed)
	reg.MustRegister(skipped)
	reg.MustRegister(failures)
	reg.MustRegister(deployDuration)
	reg.MustRegister(lastRun)

	return &Collector{
		registry:       reg,
		deployed:       deployed,
		skipped:        skipped,
		failures:       failures,
		deployDuration: deployDuration,
		lastRun:        lastRun,
	}
}

// Registry returns the Prometheus registry used by this collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Deployed records a contract sent and confirmed
func (c *Collector) Deployed(name string, elapsed time.Duration) {
	c.deployed.Inc()
	c.deployDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	c.lastRun.SetToCurrentTime()
}

// Skipped records a contract that needed no transaction
func (c *Collector) Skipped(_ string, reason string) {
	c.skipped.WithLabelValues(reason).Inc()
	c.lastRun.SetToCurrentTime()
}

// Failed records a failed run
func (c *Collector) Failed(kind string) {
	c.failures.WithLabelValues(kind).Inc()
	c.lastRun.SetToCurrentTime()
}

// WriteTextfile writes the current metrics in the text exposition format,
// for the node exporter textfile collector
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// Handler returns an http.Handler serving the metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
