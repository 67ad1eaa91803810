package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the self-instrumentation counters for the ingest pipeline
// and the streaming hub. Exposed over /metrics.
type Set struct {
	IngestRequests prometheus.Counter
	IngestFailures prometheus.Counter
	RecordsStored  *prometheus.CounterVec
	PublishTotal   prometheus.Counter
	DroppedEvents  prometheus.Counter
	Subscribers    prometheus.Gauge
}

// New registers the metric set against reg.
func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		IngestRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "ingest_requests_total",
			Help:      "Ingest payloads received.",
		}),
		IngestFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "ingest_failures_total",
			Help:      "Ingest payloads rejected at the transport layer.",
		}),
		RecordsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "records_stored_total",
			Help:      "Records written to ring buffers, by kind.",
		}, []string{"kind"}),
		PublishTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "publish_total",
			Help:      "Change notifications fanned out to subscribers.",
		}),
		DroppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "stream_dropped_events_total",
			Help:      "Events dropped for slow stream subscribers.",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "stream_subscribers",
			Help:      "Currently registered stream subscribers.",
		}),
	}
}
