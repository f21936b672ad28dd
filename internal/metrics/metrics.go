package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event bus metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_events_published_total",
			Help: "Events published on the bus by type and result",
		},
		[]string{"type", "result"},
	)

	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_events_received_total",
			Help: "Events delivered to a local listener by type",
		},
		[]string{"type"},
	)

	EventsMalformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_events_malformed_total",
			Help: "Bus payloads discarded because they could not be decoded",
		},
	)

	// Fan-out metrics
	FanoutJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_fanout_jobs_total",
			Help: "Fan-out and removal jobs by kind, strategy and outcome",
		},
		[]string{"kind", "strategy", "outcome"},
	)

	FanoutTimelineWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_fanout_timeline_writes_total",
			Help: "Timeline cache entries written or removed by fan-out",
		},
		[]string{"op"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_job_duration_seconds",
			Help:    "Background job attempt duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	JobAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_job_attempts_total",
			Help: "Background job attempts by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Read path metrics
	TimelineReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_timeline_reads_total",
			Help: "Timeline page reads by serving source",
		},
		[]string{"source"},
	)

	CacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_cache_errors_total",
			Help: "Shared cache operation failures by operation",
		},
		[]string{"op"},
	)

	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_ratelimit_decisions_total",
			Help: "Rate limit decisions by operation and decision",
		},
		[]string{"op", "decision"},
	)

	// Gateway metrics
	GatewayConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nebula_gateway_connections",
			Help: "Open client connections on this gateway instance",
		},
	)

	GatewayHandshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_gateway_handshakes_total",
			Help: "Socket handshakes by result",
		},
		[]string{"result"},
	)

	GatewayEmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_gateway_emits_total",
			Help: "Frames written to local connections by event name",
		},
		[]string{"event"},
	)

	AdapterMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_gateway_adapter_messages_total",
			Help: "Cross-instance adapter packets by direction",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsReceived)
	prometheus.MustRegister(EventsMalformed)
	prometheus.MustRegister(FanoutJobs)
	prometheus.MustRegister(FanoutTimelineWrites)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(JobAttempts)
	prometheus.MustRegister(TimelineReads)
	prometheus.MustRegister(CacheErrors)
	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(GatewayConnections)
	prometheus.MustRegister(GatewayHandshakes)
	prometheus.MustRegister(GatewayEmits)
	prometheus.MustRegister(AdapterMessages)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation and reports it to a histogram
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
