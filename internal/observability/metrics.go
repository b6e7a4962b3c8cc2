package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "disaster_notify"

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	ReadingsRecorded *prometheus.CounterVec // labels: band
	ReadingsRejected *prometheus.CounterVec // labels: reason={not_found,out_of_range,store}
	AlertsEmitted    *prometheus.CounterVec // labels: source, severity

	DeliveriesCreated *prometheus.CounterVec   // labels: channel, outcome={accepted,rejected}
	DeliveryAttempts  *prometheus.CounterVec   // labels: channel, outcome={sent,transient,permanent,exhausted}
	SendDuration      *prometheus.HistogramVec // labels: channel
	StatusCallbacks   *prometheus.CounterVec   // labels: outcome={applied,duplicate,stale,anomaly}
	RetriesDue        prometheus.Counter

	DialogTurns *prometheus.CounterVec // labels: channel

	HubConnections     prometheus.Gauge
	HubEventsPublished *prometheus.CounterVec // labels: event
	HubEventsDropped   prometheus.Counter

	SweepDuration *prometheus.HistogramVec // labels: task
	SweepErrors   *prometheus.CounterVec   // labels: task

	StreamPublished *prometheus.CounterVec // labels: outcome={ok,error}
	IngestMessages  *prometheus.CounterVec // labels: source={mqtt,feed}, outcome={ok,malformed,rejected}

	HTTPRequests *prometheus.CounterVec // labels: route, code
}

func newMetrics() *Metrics {
	return &Metrics{
		ReadingsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_recorded_total",
			Help:      "Sensor readings accepted, by classified band.",
		}, []string{"band"}),
		ReadingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Sensor readings rejected, by reason.",
		}, []string{"reason"}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Alerts raised, by source and severity.",
		}, []string{"source", "severity"}),
		DeliveriesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_created_total",
			Help:      "Delivery records created by dispatch, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		DeliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Channel send attempts, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		SendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Channel adapter send latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		StatusCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_callbacks_total",
			Help:      "Provider status callbacks, by outcome.",
		}, []string{"outcome"}),
		RetriesDue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_due_total",
			Help:      "Delivery records picked up by the retry sweep.",
		}),
		DialogTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialog_turns_total",
			Help:      "Interactive menu turns processed, by channel.",
		}, []string{"channel"}),
		HubConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_connections",
			Help:      "Live connections registered with the broadcast hub.",
		}),
		HubEventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_events_published_total",
			Help:      "Events published to the broadcast hub, by event name.",
		}, []string{"event"}),
		HubEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_events_dropped_total",
			Help:      "Events dropped because a connection's queue was full.",
		}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of periodic sweeps, by task.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"task"}),
		SweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Periodic sweep failures, by task.",
		}, []string{"task"}),
		StreamPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_stream_published_total",
			Help:      "Alerts written to the event stream, by outcome.",
		}, []string{"outcome"}),
		IngestMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Readings received from ingestion sources, by source and outcome.",
		}, []string{"source", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReadingsRecorded,
		m.ReadingsRejected,
		m.AlertsEmitted,
		m.DeliveriesCreated,
		m.DeliveryAttempts,
		m.SendDuration,
		m.StatusCallbacks,
		m.RetriesDue,
		m.DialogTurns,
		m.HubConnections,
		m.HubEventsPublished,
		m.HubEventsDropped,
		m.SweepDuration,
		m.SweepErrors,
		m.StreamPublished,
		m.IngestMessages,
		m.HTTPRequests,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
