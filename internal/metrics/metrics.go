// internal/metrics/metrics.go
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matchmaker"

// StatsFunc reports the live queue view for one side: open lobbies and the
// side's queue length.
type StatsFunc func(ctx context.Context) (openLobbies, queueLength int, err error)

// Metrics owns a private registry so tests can create as many as they like.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	admissions *prometheus.CounterVec
	kills      *prometheus.CounterVec
	enqueued   *prometheus.CounterVec
	purged     prometheus.Counter
}

// New builds the collectors and registers them together with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Admission attempts against open lobbies by outcome.",
		}, []string{"outcome"}),
		kills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lobbies_killed_total",
			Help:      "Lobbies moved to the archive by reason.",
		}, []string{"reason"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "New queue entries by side.",
		}, []string{"side"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_purged_total",
			Help:      "Archived lobbies deleted after the grace window.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.admissions, m.kills, m.enqueued, m.purged,
	)
	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

func (m *Metrics) Admission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Killed(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.kills.WithLabelValues(reason).Inc()
}

func (m *Metrics) Enqueued(side string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(side).Inc()
}

func (m *Metrics) ArchivesPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.Add(float64(n))
}

// WatchQueue registers gauges for one side that call stats at scrape time.
func (m *Metrics) WatchQueue(side string, stats StatsFunc) error {
	if m == nil {
		return nil
	}
	c := &queueCollector{
		stats: stats,
		open: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "open_lobbies"),
			"Open lobbies as seen by the queue.",
			nil, prometheus.Labels{"side": side},
		),
		length: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_length"),
			"Entries currently waiting in the queue.",
			nil, prometheus.Labels{"side": side},
		),
	}
	return m.registry.Register(c)
}

type queueCollector struct {
	stats  StatsFunc
	open   *prometheus.Desc
	length *prometheus.Desc
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.open
	ch <- c.length
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	open, length, err := c.stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.open, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(open))
	ch <- prometheus.MustNewConstMetric(c.length, prometheus.GaugeValue, float64(length))
}
