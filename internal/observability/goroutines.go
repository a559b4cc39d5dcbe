package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	rtsup "tame/internal/runtime/supervisor"
)

// GoroutineSource reports supervised goroutine stats.
type GoroutineSource interface {
	Counters() rtsup.Counters
	Snapshot() []rtsup.GoroutineStats
}

// goroutineCollector reads a supervisor at scrape time. The source is set
// late because the app supervisor only exists after Start.
type goroutineCollector struct {
	mu  sync.RWMutex
	src GoroutineSource

	active   *prometheus.Desc
	started  *prometheus.Desc
	restarts *prometheus.Desc
	panics   *prometheus.Desc
}

func newGoroutineCollector() *goroutineCollector {
	return &goroutineCollector{
		active: prometheus.NewDesc(prometheus.BuildFQName(namespace, "supervisor", "active_goroutines"),
			"Supervised goroutines currently running, by name.", []string{"name"}, nil),
		started: prometheus.NewDesc(prometheus.BuildFQName(namespace, "supervisor", "started_total"),
			"Supervised goroutines started since launch.", nil, nil),
		restarts: prometheus.NewDesc(prometheus.BuildFQName(namespace, "supervisor", "restarts_total"),
			"Supervised goroutine restarts, by name.", []string{"name"}, nil),
		panics: prometheus.NewDesc(prometheus.BuildFQName(namespace, "supervisor", "panics_total"),
			"Recovered panics in supervised goroutines, by name.", []string{"name"}, nil),
	}
}

func (c *goroutineCollector) set(src GoroutineSource) {
	c.mu.Lock()
	c.src = src
	c.mu.Unlock()
}

func (c *goroutineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.started
	ch <- c.restarts
	ch <- c.panics
}

func (c *goroutineCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	src := c.src
	c.mu.RUnlock()
	if src == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.started, prometheus.CounterValue, float64(src.Counters().Started))
	for _, st := range src.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(st.Active), st.Name)
		ch <- prometheus.MustNewConstMetric(c.restarts, prometheus.CounterValue, float64(st.Restarts), st.Name)
		ch <- prometheus.MustNewConstMetric(c.panics, prometheus.CounterValue, float64(st.Panics), st.Name)
	}
}
