package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements duco.Observer and controller.PollObserver.
type Metrics struct {
	queued     prometheus.Gauge
	inFlight   prometheus.Gauge
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	polls      *prometheus.CounterVec
	tracked    prometheus.Gauge
	discovered *prometheus.CounterVec
}

func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duco_gateway_queued_reads",
			Help: "Read requests waiting for a free slot.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duco_gateway_in_flight_reads",
			Help: "Read requests currently sent to the device.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duco_gateway_requests_total",
			Help: "Requests sent to the device by kind and result.",
		}, []string{"kind", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "duco_gateway_request_duration_seconds",
			Help:    "Request duration including time spent queued.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11),
		}, []string{"kind"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duco_controller_polls_total",
			Help: "Controller polls by node and outcome.",
		}, []string{"host", "node", "outcome"}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duco_tracked_devices",
			Help: "Devices currently tracked by a controller.",
		}),
		discovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duco_discovery_nodes_total",
			Help: "Nodes seen during discovery by outcome.",
		}, []string{"outcome"}),
	}

	registerer.MustRegister(m.queued, m.inFlight, m.requests, m.latency, m.polls, m.tracked, m.discovered)

	return m
}

func (m *Metrics) ObserveQueue(queued, inFlight int) {
	m.queued.Set(float64(queued))
	m.inFlight.Set(float64(inFlight))
}

func (m *Metrics) ObserveRequest(kind string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}

	m.requests.WithLabelValues(kind, result).Inc()
	m.latency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) ObservePoll(host string, node int, outcome string) {
	m.polls.WithLabelValues(host, strconv.Itoa(node), outcome).Inc()
}

func (m *Metrics) SetTracked(count int) {
	m.tracked.Set(float64(count))
}

func (m *Metrics) ObserveDiscoveredNode(outcome string) {
	m.discovered.WithLabelValues(outcome).Inc()
}
