package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	PhoneSignals    *prometheus.CounterVec
	CallEvents      *prometheus.CounterVec
	Evaluations     *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	SMSOutcomes     *prometheus.CounterVec
	SMSSegments     prometheus.Histogram
	SMSSendDuration prometheus.Histogram
	GatewayRequests *prometheus.CounterVec
	Errors          *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			PhoneSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phone_signals_total",
				Help:      "Total phone-state signals received by state.",
			}, []string{"state"}),
			CallEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_events_total",
				Help:      "Total completed call events by direction.",
			}, []string{"direction"}),
			Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_evaluations_total",
				Help:      "Total rule evaluations by verdict.",
			}, []string{"verdict"}),
			Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_rejections_total",
				Help:      "Total rejected evaluations grouped by reason.",
			}, []string{"reason"}),
			SMSOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sms_outcomes_total",
				Help:      "Total logical SMS sends by outcome.",
			}, []string{"outcome"}),
			SMSSegments: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sms_segments_per_send",
				Help:      "Distribution of segment counts per logical send.",
				Buckets:   []float64{1, 2, 3, 4, 6, 8, 10},
			}),
			SMSSendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sms_send_duration_seconds",
				Help:      "Time from gateway submit to final delivery outcome.",
				Buckets:   prometheus.DefBuckets,
			}),
			GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total SMS gateway API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.PhoneSignals,
			metricsInstance.CallEvents,
			metricsInstance.Evaluations,
			metricsInstance.Rejections,
			metricsInstance.SMSOutcomes,
			metricsInstance.SMSSegments,
			metricsInstance.SMSSendDuration,
			metricsInstance.GatewayRequests,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
