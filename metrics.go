package gobayeux

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments updated by a transport. A nil
// *Metrics records nothing.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestErrors      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ResponseBytes      prometheus.Histogram
	InFlightRequests   prometheus.Gauge
	Reconnects         prometheus.Counter
	MessagesDispatched *prometheus.CounterVec
	State              prometheus.Gauge
}

// NewMetrics creates and registers the transport metrics with reg
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "gobayeux"
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of Bayeux requests sent, by meta channel or channel type",
			},
			[]string{"channel"},
		),
		RequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_errors_total",
				Help:      "Total number of failed exchanges, by error kind",
			},
			[]string{"kind"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of Bayeux exchanges",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"channel"},
		),
		ResponseBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_bytes",
				Help:      "Size of assembled response frames",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
		),
		InFlightRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_requests",
				Help:      "Number of outstanding HTTP exchanges",
			},
		),
		Reconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Total number of reconnect attempts",
			},
		),
		MessagesDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dispatched_total",
				Help:      "Total number of messages delivered to subscribers, by channel type",
			},
			[]string{"type"},
		),
		State: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Current transport state (0 idle, 1 handshaking, 2 connected, 3 reconnecting, 4 cancelled)",
			},
		),
	}
}

func (m *Metrics) requestStarted(channel Channel) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(channelLabel(channel)).Inc()
	m.InFlightRequests.Inc()
}

func (m *Metrics) requestFinished(channel Channel, started time.Time, size int, err error) {
	if m == nil {
		return
	}
	m.InFlightRequests.Dec()
	m.RequestDuration.WithLabelValues(channelLabel(channel)).Observe(time.Since(started).Seconds())
	if err != nil {
		m.RequestErrors.WithLabelValues(string(KindOf(err))).Inc()
		return
	}
	m.ResponseBytes.Observe(float64(size))
}

func (m *Metrics) reconnecting() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) dispatched(channel Channel, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MessagesDispatched.WithLabelValues(string(channel.Type())).Add(float64(n))
}

func (m *Metrics) stateChanged(state TransportState) {
	if m == nil {
		return
	}
	m.State.Set(float64(state))
}

// channelLabel keeps label cardinality bounded: meta channels are reported
// by name, everything else by channel type
func channelLabel(channel Channel) string {
	if channel.Type() == MetaChannel {
		return string(channel)
	}
	return string(channel.Type())
}
