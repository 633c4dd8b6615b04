package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trunov/heroproxy/internal/cache"
)

const namespace = "heroproxy"

type CacheSource interface {
	Stats() cache.Stats
}

type QueueSource interface {
	Queued() int64
	QueueCapacity() int
}

// Collector reads the cache and queue counters at scrape time, so the
// exported values are never behind the ones served on /stats.
type Collector struct {
	cache CacheSource
	queue QueueSource

	hits        *prometheus.Desc
	misses      *prometheus.Desc
	evictions   *prometheus.Desc
	expirations *prometheus.Desc
	used        *prometheus.Desc
	capacity    *prometheus.Desc
	entries     *prometheus.Desc
	hitRatio    *prometheus.Desc
	queued      *prometheus.Desc
	queueCap    *prometheus.Desc
}

func NewCollector(c CacheSource, q QueueSource) *Collector {
	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
	}

	return &Collector{
		cache:       c,
		queue:       q,
		hits:        desc("cache", "hits_total", "Requests served from the cache."),
		misses:      desc("cache", "misses_total", "Requests that went through the worker pool."),
		evictions:   desc("cache", "evictions_total", "Entries evicted to make room."),
		expirations: desc("cache", "expirations_total", "Entries dropped after their idle or live time ran out."),
		used:        desc("cache", "used_bytes", "Bytes held by cached images."),
		capacity:    desc("cache", "capacity_bytes", "Configured cache capacity in bytes."),
		entries:     desc("cache", "entries", "Number of cached images."),
		hitRatio:    desc("cache", "hit_ratio", "Hits divided by hits plus misses."),
		queued:      desc("queue", "jobs", "Submitted jobs not yet finished."),
		queueCap:    desc("queue", "capacity", "Maximum number of queued jobs."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.hits, c.misses, c.evictions, c.expirations,
		c.used, c.capacity, c.entries, c.hitRatio,
		c.queued, c.queueCap,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.cache.Stats()

	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(st.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(st.Evictions))
	ch <- prometheus.MustNewConstMetric(c.expirations, prometheus.CounterValue, float64(st.Expirations))
	ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(st.UsedBytes))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.CapacityBytes))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.Entries))
	ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, st.HitRatio())
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(c.queue.Queued()))
	ch <- prometheus.MustNewConstMetric(c.queueCap, prometheus.GaugeValue, float64(c.queue.QueueCapacity()))
}

// Metrics owns the registry served on /metrics.
type Metrics struct {
	Registry *prometheus.Registry
	requests *prometheus.HistogramVec
}

func New(c CacheSource, q QueueSource) *Metrics {
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time spent serving HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"code", "method"})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		NewCollector(c, q),
		requests,
	)

	return &Metrics{Registry: reg, requests: requests}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Instrument records the duration of every request passing through next.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(m.requests, next)
}
