package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tame/internal/eventbus"
	"tame/internal/notification"
	logx "tame/pkg/logx"
)

const namespace = "tame"

// Metrics owns a private registry so tests and multiple instances never
// collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	linesScanned  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	suppressed    *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	goroutines    *goroutineCollector
}

// NewMetrics registers the collectors. busDropped, when non-nil, is
// exported as a gauge.
func NewMetrics(busDropped func() uint64) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		linesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_scanned_total",
			Help:      "Output lines classified, by matched category (none when unmatched).",
		}, []string{"category"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications recorded, by kind.",
		}, []string{"kind"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_suppressed_total",
			Help:      "Notifications recorded but not delivered, by reason.",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound channel deliveries, by channel and result.",
		}, []string{"channel", "result"}),
		goroutines: newGoroutineCollector(),
	}
	m.reg.MustRegister(
		m.linesScanned, m.notifications, m.suppressed, m.deliveries, m.goroutines,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if busDropped != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_dropped_events",
			Help:      "Events lost to full event bus subscribers.",
		}, func() float64 { return float64(busDropped()) }))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WatchSupervisor exports src's goroutine stats on every scrape.
func (m *Metrics) WatchSupervisor(src GoroutineSource) { m.goroutines.set(src) }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe updates counters from one bus event. Unknown topics are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TopicLineScanned:
		if d, ok := e.Data.(eventbus.Scanned); ok {
			cat := d.Category
			if cat == "" {
				cat = "none"
			}
			m.linesScanned.WithLabelValues(cat).Inc()
		}
	case eventbus.TopicNotificationRecorded:
		if ev, ok := e.Data.(notification.Event); ok {
			m.notifications.WithLabelValues(ev.Kind.String()).Inc()
		}
	case eventbus.TopicNotificationSuppressed:
		if d, ok := e.Data.(eventbus.Suppressed); ok {
			m.suppressed.WithLabelValues(d.Reason).Inc()
		}
	case eventbus.TopicDeliveryQueued, eventbus.TopicDeliverySent,
		eventbus.TopicDeliveryFailed, eventbus.TopicDeliveryDropped:
		if d, ok := e.Data.(eventbus.Delivery); ok {
			result := e.Type[len("delivery."):]
			m.deliveries.WithLabelValues(d.Channel, result).Inc()
		}
	}
}

// Run feeds bus events into the counters until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus, log logx.Logger) error {
	ch, unsubscribe := bus.Subscribe(1024, "line.", "notification.", "delivery.")
	defer unsubscribe()
	log.Debug("metrics collector started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
