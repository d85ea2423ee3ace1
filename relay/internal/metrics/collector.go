package metrics

import "github.com/prometheus/client_golang/prometheus"

// sessionCollector reads live session counts at scrape time.
type sessionCollector struct {
	stats   StatsSource
	active  *prometheus.Desc
	sources *prometheus.Desc
	targets *prometheus.Desc
}

func newSessionCollector(stats StatsSource) *sessionCollector {
	return &sessionCollector{
		stats: stats,
		active: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sessions", "active"),
			"Live pairing sessions.", nil, nil),
		sources: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sessions", "sources"),
			"Sessions with a source attached.", nil, nil),
		targets: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sessions", "targets"),
			"Targets attached across all sessions.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.sources
	ch <- c.targets
}

// Collect implements prometheus.Collector.
func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	sessions, sources, targets := c.stats.Stats()
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(sessions))
	ch <- prometheus.MustNewConstMetric(c.sources, prometheus.GaugeValue, float64(sources))
	ch <- prometheus.MustNewConstMetric(c.targets, prometheus.GaugeValue, float64(targets))
}
