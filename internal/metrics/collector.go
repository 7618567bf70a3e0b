// Package metrics exposes engine statistics in prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/1ureka/webudp/internal/engine"
)

const namespace = "webudp"

// StatsSource is anything that can snapshot engine counters. *host.Host
// satisfies it.
type StatsSource interface {
	Stats() engine.Stats
}

// states are reported with an explicit zero so gauges never disappear.
var states = []engine.State{
	engine.StatePendingRemoval,
	engine.StateHandshake,
	engine.StateTransportEstablished,
	engine.StateDataChannelOpen,
}

// Collector reads a fresh snapshot on every scrape.
type Collector struct {
	source StatsSource

	clients      *prometheus.Desc
	datagrams    *prometheus.Desc
	bytes        *prometheus.Desc
	dropped      *prometheus.Desc
	joins        *prometheus.Desc
	leaves       *prometheus.Desc
	sdp          *prometheus.Desc
	arenaUsed    *prometheus.Desc
	queuedEvents *prometheus.Desc
}

// NewCollector creates a collector over source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		clients: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "clients"),
			"Live clients by state.",
			[]string{"state"}, nil,
		),
		datagrams: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "datagrams_total"),
			"UDP datagrams handled.",
			[]string{"direction"}, nil,
		),
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "bytes_total"),
			"UDP payload bytes handled.",
			[]string{"direction"}, nil,
		),
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "dropped_total"),
			"Inbound packets dropped as malformed, unknown or unroutable.",
			nil, nil,
		),
		joins: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "joins_total"),
			"Data channels opened.",
			nil, nil,
		),
		leaves: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "leaves_total"),
			"Clients removed.",
			nil, nil,
		),
		sdp: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "sdp_exchanges_total"),
			"SDP offers by outcome.",
			[]string{"status"}, nil,
		),
		arenaUsed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "arena_used_bytes"),
			"Arena bytes in use since the last tick.",
			nil, nil,
		),
		queuedEvents: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "queued_events"),
			"Events waiting to be polled.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.clients
	ch <- c.datagrams
	ch <- c.bytes
	ch <- c.dropped
	ch <- c.joins
	ch <- c.leaves
	ch <- c.sdp
	ch <- c.arenaUsed
	ch <- c.queuedEvents
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	for _, st := range states {
		ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(s.Clients[st]), st.String())
	}

	ch <- prometheus.MustNewConstMetric(c.datagrams, prometheus.CounterValue, float64(s.DatagramsIn), "in")
	ch <- prometheus.MustNewConstMetric(c.datagrams, prometheus.CounterValue, float64(s.DatagramsOut), "out")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.BytesIn), "in")
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(s.BytesOut), "out")
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.joins, prometheus.CounterValue, float64(s.Joins))
	ch <- prometheus.MustNewConstMetric(c.leaves, prometheus.CounterValue, float64(s.Leaves))

	ch <- prometheus.MustNewConstMetric(c.sdp, prometheus.CounterValue, float64(s.SDPAccepted), engine.SDPSuccess.String())
	ch <- prometheus.MustNewConstMetric(c.sdp, prometheus.CounterValue, float64(s.SDPInvalid), engine.SDPInvalid.String())
	ch <- prometheus.MustNewConstMetric(c.sdp, prometheus.CounterValue, float64(s.SDPMaxClients), engine.SDPMaxClients.String())
	ch <- prometheus.MustNewConstMetric(c.sdp, prometheus.CounterValue, float64(s.SDPErrors), engine.SDPError.String())

	ch <- prometheus.MustNewConstMetric(c.arenaUsed, prometheus.GaugeValue, float64(s.ArenaUsed))
	ch <- prometheus.MustNewConstMetric(c.queuedEvents, prometheus.GaugeValue, float64(s.Queued))
}
