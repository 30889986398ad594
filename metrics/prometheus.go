package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports transport metrics through a Prometheus registry.
type PrometheusRecorder struct {
	dispatchTimeSeconds *prometheus.HistogramVec
	deliveryTimeSeconds *prometheus.HistogramVec
	connectionStates    *prometheus.CounterVec
	errorsTotal         *prometheus.CounterVec
}

// NewPrometheusRecorder registers the transport's collectors with the given
// registerer. A nil registerer means the default Prometheus registry.
// Re-registration of identical collectors is tolerated so several endpoints
// can share one registry.
func NewPrometheusRecorder(registerer prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	r := &PrometheusRecorder{}
	var err error

	dispatch := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "dispatch_time_seconds",
			Help:      "The time a dispatch attempt (confirmed or not) took in seconds",
		},
		[]string{"exchange", "outcome"},
	)
	if r.dispatchTimeSeconds, err = registerHistogramVec(registerer, dispatch); err != nil {
		return nil, fmt.Errorf("could not register dispatch time metric: %w", err)
	}

	delivery := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "delivery_time_seconds",
			Help:      "The time from receipt to settlement of a consumed message in seconds",
		},
		[]string{"queue", "outcome"},
	)
	if r.deliveryTimeSeconds, err = registerHistogramVec(registerer, delivery); err != nil {
		return nil, fmt.Errorf("could not register delivery time metric: %w", err)
	}

	states := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connection_state_transitions_total",
			Help:      "The number of connection state transitions by resulting state",
		},
		[]string{"state"},
	)
	if r.connectionStates, err = registerCounterVec(registerer, states); err != nil {
		return nil, fmt.Errorf("could not register connection state metric: %w", err)
	}

	errs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "The number of transport errors by component and type",
		},
		[]string{"component", "type"},
	)
	if r.errorsTotal, err = registerCounterVec(registerer, errs); err != nil {
		return nil, fmt.Errorf("could not register error metric: %w", err)
	}

	return r, nil
}

// RecordDispatch records one publish attempt and its outcome
func (r *PrometheusRecorder) RecordDispatch(exchange string, outcome string, duration time.Duration) {
	r.dispatchTimeSeconds.WithLabelValues(exchange, outcome).Observe(duration.Seconds())
}

// RecordDelivery records one consumed message and how it was settled
func (r *PrometheusRecorder) RecordDelivery(queue string, outcome string, duration time.Duration) {
	r.deliveryTimeSeconds.WithLabelValues(queue, outcome).Observe(duration.Seconds())
}

// RecordConnectionState records a connection state transition
func (r *PrometheusRecorder) RecordConnectionState(state string) {
	r.connectionStates.WithLabelValues(state).Inc()
}

// RecordError records a transport-level error
func (r *PrometheusRecorder) RecordError(component string, errorType string) {
	r.errorsTotal.WithLabelValues(component, errorType).Inc()
}

func register(registerer prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	err := registerer.Register(c)
	if err == nil {
		return c, nil
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return are.ExistingCollector, nil
	}
	return nil, err
}

func registerHistogramVec(registerer prometheus.Registerer, h *prometheus.HistogramVec) (*prometheus.HistogramVec, error) {
	col, err := register(registerer, h)
	if err != nil {
		return nil, err
	}
	return col.(*prometheus.HistogramVec), nil
}

func registerCounterVec(registerer prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	col, err := register(registerer, c)
	if err != nil {
		return nil, err
	}
	return col.(*prometheus.CounterVec), nil
}
