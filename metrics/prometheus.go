package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector adapts a Registry into a prometheus.Collector, so the
// engine's own Counter/Gauge/Histogram primitives can be scraped
// by a standard Prometheus exporter without duplicating bookkeeping in two
// places. Metric names are snapshotted, not fixed at construction, so a
// counter created after the collector is registered still shows up on the
// next scrape.
type PrometheusCollector struct {
	registry  *Registry
	subsystem string
}

// NewPrometheusCollector wraps registry for export under the given
// subsystem label (e.g. "engine", "trie").
func NewPrometheusCollector(registry *Registry, subsystem string) *PrometheusCollector {
	return &PrometheusCollector{registry: registry, subsystem: subsystem}
}

// Describe satisfies prometheus.Collector. The set of metric names is
// dynamic, so no fixed descriptors are sent; Collect sends fully-formed
// metrics with their own descriptors instead (valid per the Collector
// contract for dynamically-named metrics).
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {}

// Collect snapshots every counter, gauge, and histogram in the registry and
// emits it as a prometheus metric.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range p.registry.Snapshot() {
		desc := prometheus.NewDesc(
			prometheus.BuildFQName("wasmstate", p.subsystem, name),
			"engine metric "+name,
			nil, nil,
		)
		switch val := v.(type) {
		case int64:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(val))
		case map[string]interface{}:
			sumDesc := prometheus.NewDesc(
				prometheus.BuildFQName("wasmstate", p.subsystem, name+"_sum"),
				"engine histogram sum "+name,
				nil, nil,
			)
			countDesc := prometheus.NewDesc(
				prometheus.BuildFQName("wasmstate", p.subsystem, name+"_count"),
				"engine histogram count "+name,
				nil, nil,
			)
			ch <- prometheus.MustNewConstMetric(sumDesc, prometheus.CounterValue, val["sum"].(float64))
			ch <- prometheus.MustNewConstMetric(countDesc, prometheus.CounterValue, float64(val["count"].(int64)))
		}
	}
}
