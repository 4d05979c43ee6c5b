package processor

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registerer is the subset of prometheus.Registerer the dispatcher needs.
type Registerer = prometheus.Registerer

type metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newMetrics builds the dispatcher collectors and registers them with reg when
// it is non-nil. Collectors already registered by an earlier dispatcher are
// reused.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_gateway_requests_total",
			Help: "Gateway requests by gateway, operation and canonical status.",
		}, []string{"gateway", "operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Time spent dispatching a gateway request, including all upstream calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"gateway", "operation"}),
	}
	if reg == nil {
		return m
	}
	m.requests = register(reg, m.requests)
	m.duration = register(reg, m.duration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) observe(gateway, operation, status string, elapsed time.Duration) {
	m.requests.WithLabelValues(gateway, operation, status).Inc()
	m.duration.WithLabelValues(gateway, operation).Observe(elapsed.Seconds())
}
