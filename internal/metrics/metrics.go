// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes Prometheus instrumentation for the proxy's
// group/source state and control-message traffic.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector the proxy updates.
type Metrics struct {
	Groups             *prometheus.GaugeVec
	Sources            *prometheus.GaugeVec
	QueriesSent        *prometheus.CounterVec
	ReportsReceived    *prometheus.CounterVec
	KernelErrors       *prometheus.CounterVec
	UpstreamMembership *prometheus.GaugeVec
	QuerierElections   prometheus.Counter
}

// New constructs an unregistered Metrics instance.
func New() *Metrics {
	return &Metrics{
		Groups: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "igmpproxy_groups",
			Help: "Number of multicast groups with active membership, per interface.",
		}, []string{"interface"}),

		Sources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "igmpproxy_sources",
			Help: "Number of sources with active membership, per interface and group.",
		}, []string{"interface", "group"}),

		QueriesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igmpproxy_queries_sent_total",
			Help: "Total number of IGMP queries transmitted, by interface and query type.",
		}, []string{"interface", "type"}),

		ReportsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igmpproxy_reports_received_total",
			Help: "Total number of IGMP membership reports accepted, by interface and version.",
		}, []string{"interface", "version"}),

		KernelErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "igmpproxy_kernel_errors_total",
			Help: "Total number of failed kernel multicast routing calls, by operation.",
		}, []string{"op"}),

		UpstreamMembership: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "igmpproxy_upstream_membership",
			Help: "Whether the upstream interface currently has membership for a group (1) or not (0).",
		}, []string{"group"}),

		QuerierElections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "igmpproxy_querier_elections_total",
			Help: "Total number of times this proxy ceded the querier role on a downstream interface to a lower-addressed router.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Groups.Describe(ch)
	m.Sources.Describe(ch)
	m.QueriesSent.Describe(ch)
	m.ReportsReceived.Describe(ch)
	m.KernelErrors.Describe(ch)
	m.UpstreamMembership.Describe(ch)
	m.QuerierElections.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Groups.Collect(ch)
	m.Sources.Collect(ch)
	m.QueriesSent.Collect(ch)
	m.ReportsReceived.Collect(ch)
	m.KernelErrors.Collect(ch)
	m.UpstreamMembership.Collect(ch)
	m.QuerierElections.Collect(ch)
}

// Register registers m with the default Prometheus registry.
func (m *Metrics) Register() {
	prometheus.MustRegister(m)
}
