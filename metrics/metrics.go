// Package metrics exports dispatch statistics of a jsonrpc.Server to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnehpets/linerpc/jsonrpc"
)

const namespace = "linerpc"

// unknownMethod labels requests for procedures that are not registered.
const unknownMethod = "unknown"

// Metrics implements jsonrpc.Observer.
type Metrics struct {
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	transportErrors prometheus.Counter
}

var _ jsonrpc.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "JSON-RPC requests handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent dispatching a JSON-RPC request.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"method"}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Responses that could not be encoded or written.",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.transportErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveDispatch(method string, outcome jsonrpc.Outcome, elapsed time.Duration) {
	switch outcome {
	case jsonrpc.OutcomeMethodNotFound:
		method = unknownMethod
	case jsonrpc.OutcomeInvalidRequest, jsonrpc.OutcomeParseError:
		method = ""
	}
	m.requests.WithLabelValues(method, string(outcome)).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTransportError(error) {
	m.transportErrors.Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
