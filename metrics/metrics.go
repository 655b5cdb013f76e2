package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Message results.
const (
	Accepted  = "accepted"
	Malformed = "malformed"
	Unmatched = "unmatched"
)

type Metrics struct {
	MessagesTotal   *prometheus.CounterVec
	Series          prometheus.Gauge
	HiddenSeries    prometheus.Gauge
	TransportUp     *prometheus.GaugeVec
	ReconnectsTotal *prometheus.CounterVec
	FeedSubscribers prometheus.Gauge
}

// New creates the collectors and registers them with registerer. A nil registerer leaves them unregistered,
// which is handy in tests.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livechart",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Inbound readings by result.",
		}, []string{"driver", "result"}),
		Series: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livechart",
			Subsystem: "store",
			Name:      "series",
			Help:      "Units with a buffered series.",
		}),
		HiddenSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livechart",
			Subsystem: "store",
			Name:      "hidden_series",
			Help:      "Units currently hidden from display.",
		}),
		TransportUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "livechart",
			Subsystem: "transport",
			Name:      "connected",
			Help:      "1 while the driver is connected and subscribed.",
		}, []string{"driver"}),
		ReconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livechart",
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Connections established after the first one.",
		}, []string{"driver"}),
		FeedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livechart",
			Subsystem: "web",
			Name:      "feed_subscribers",
			Help:      "Open websocket point feeds.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			m.MessagesTotal,
			m.Series,
			m.HiddenSeries,
			m.TransportUp,
			m.ReconnectsTotal,
			m.FeedSubscribers,
		)
	}
	return m
}
