package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is a prometheus.Collector that also implements engine.Metrics:
// the loop increments its counters inline as it processes packets, and
// Collect reads them back at scrape time. Unlike a scrape-time query
// against a store, these counts are cumulative process totals, so the
// fields are atomics rather than values fetched fresh from a provider.
type Collector struct {
	innovative      atomic.Int64
	nonInnovative   atomic.Int64
	malformed       atomic.Int64
	encodedSent     atomic.Int64
	sourceDelivered atomic.Int64
	activeFlows     atomic.Int64

	startTime time.Time

	innovativeDesc      *prometheus.Desc
	nonInnovativeDesc   *prometheus.Desc
	malformedDesc       *prometheus.Desc
	encodedSentDesc     *prometheus.Desc
	sourceDeliveredDesc *prometheus.Desc
	activeFlowsDesc     *prometheus.Desc
	uptimeDesc          *prometheus.Desc
}

// NewCollector creates a metrics collector with all counters at zero.
func NewCollector(startTime time.Time) *Collector {
	return &Collector{
		startTime: startTime,

		innovativeDesc: prometheus.NewDesc(
			"rlnctun_innovative_packets_total",
			"Total encoded packets accepted as innovative (increased a pool's rank)",
			nil, nil,
		),
		nonInnovativeDesc: prometheus.NewDesc(
			"rlnctun_non_innovative_packets_total",
			"Total encoded packets discarded as linearly dependent on an existing pool",
			nil, nil,
		),
		malformedDesc: prometheus.NewDesc(
			"rlnctun_malformed_datagrams_total",
			"Total inbound datagrams rejected with an error (bad header or body, or a decoder error)",
			nil, nil,
		),
		encodedSentDesc: prometheus.NewDesc(
			"rlnctun_encoded_packets_sent_total",
			"Total encoded packets transmitted across all flows",
			nil, nil,
		),
		sourceDeliveredDesc: prometheus.NewDesc(
			"rlnctun_source_packets_delivered_total",
			"Total source packets recovered and handed to the tunnel device",
			nil, nil,
		),
		activeFlowsDesc: prometheus.NewDesc(
			"rlnctun_active_flows",
			"Number of flows currently tracked in the mux table",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"rlnctun_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// IncInnovative implements engine.Metrics.
func (c *Collector) IncInnovative() { c.innovative.Add(1) }

// IncNonInnovative implements engine.Metrics.
func (c *Collector) IncNonInnovative() { c.nonInnovative.Add(1) }

// IncMalformed implements engine.Metrics.
func (c *Collector) IncMalformed() { c.malformed.Add(1) }

// IncEncodedSent implements engine.Metrics.
func (c *Collector) IncEncodedSent() { c.encodedSent.Add(1) }

// IncSourceDelivered implements engine.Metrics.
func (c *Collector) IncSourceDelivered() { c.sourceDelivered.Add(1) }

// SetActiveFlows implements engine.Metrics.
func (c *Collector) SetActiveFlows(n int) { c.activeFlows.Store(int64(n)) }

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.innovativeDesc
	ch <- c.nonInnovativeDesc
	ch <- c.malformedDesc
	ch <- c.encodedSentDesc
	ch <- c.sourceDeliveredDesc
	ch <- c.activeFlowsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.innovativeDesc, prometheus.CounterValue, float64(c.innovative.Load()))
	ch <- prometheus.MustNewConstMetric(c.nonInnovativeDesc, prometheus.CounterValue, float64(c.nonInnovative.Load()))
	ch <- prometheus.MustNewConstMetric(c.malformedDesc, prometheus.CounterValue, float64(c.malformed.Load()))
	ch <- prometheus.MustNewConstMetric(c.encodedSentDesc, prometheus.CounterValue, float64(c.encodedSent.Load()))
	ch <- prometheus.MustNewConstMetric(c.sourceDeliveredDesc, prometheus.CounterValue, float64(c.sourceDelivered.Load()))
	ch <- prometheus.MustNewConstMetric(c.activeFlowsDesc, prometheus.GaugeValue, float64(c.activeFlows.Load()))
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
