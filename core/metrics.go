package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one or more connections. Create
// it once per registry and share it through WithMetrics.
type Metrics struct {
	events          *prometheus.CounterVec
	msgsIn          prometheus.Counter
	bytesIn         prometheus.Counter
	msgsOut         prometheus.Counter
	bytesOut        prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	const ns = "natsclient"

	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_total",
			Help:      "Decode outcomes by event kind",
		}, []string{"kind"}),
		msgsIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_received_total",
			Help:      "MSG frames received",
		}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "payload_bytes_received_total",
			Help:      "Payload bytes of received MSG frames",
		}),
		msgsOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_published_total",
			Help:      "PUB frames written",
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "payload_bytes_published_total",
			Help:      "Payload bytes of written PUB frames",
		}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "request_duration_seconds",
			Help:      "Request round trip time by result",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"result"}),
	}
}

func (m *Metrics) observeEvent(ev Event) {
	m.events.WithLabelValues(ev.Kind().String()).Inc()
	if msg, ok := ev.(*Msg); ok {
		m.msgsIn.Inc()
		m.bytesIn.Add(float64(len(msg.Data)))
	}
}

func (m *Metrics) observePublish(n int) {
	m.msgsOut.Inc()
	m.bytesOut.Add(float64(n))
}
