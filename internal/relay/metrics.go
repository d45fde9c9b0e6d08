package relay

import "github.com/prometheus/client_golang/prometheus"

const (
	dropMalformed   = "malformed"
	dropRateLimited = "rate_limited"
	dropQueueFull   = "queue_full"
)

type metrics struct {
	relayed prometheus.Counter
	misses  prometheus.Counter
	dropped *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warpcall",
			Subsystem: "relay",
			Name:      "relayed_total",
			Help:      "messages delivered to a room peer",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warpcall",
			Subsystem: "relay",
			Name:      "delivery_miss_total",
			Help:      "messages sent to a room with no other member",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warpcall",
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "messages dropped by reason",
		}, []string{"reason"}),
	}
}

func (m *metrics) drop(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func registerMetrics(reg prometheus.Registerer, m *metrics, h *Hub) {
	reg.MustRegister(
		m.relayed,
		m.misses,
		m.dropped,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "warpcall",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "count of non-empty rooms",
		}, func() float64 {
			return float64(h.registry.Rooms())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "warpcall",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "count of connected clients",
		}, func() float64 {
			return float64(h.Connections())
		}),
	)
}
