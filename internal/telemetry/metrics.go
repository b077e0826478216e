package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	AdmissionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{Name: "conversions_admitted_total", Help: "Conversions that passed admission and were queued"})
	AdmissionsRejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "conversions_rejected_total", Help: "Admission rejections (limit, cooldown, funds)"})
	Delivered          = prometheus.NewCounter(prometheus.CounterOpts{Name: "conversions_delivered_total", Help: "Artifacts handed off successfully"})
	Refunded           = prometheus.NewCounter(prometheus.CounterOpts{Name: "conversions_refunded_total", Help: "Conversions refunded after delivery failure"})
	Failed             = prometheus.NewCounter(prometheus.CounterOpts{Name: "conversions_failed_total", Help: "Conversions whose production failed"})
	DoubleFaults       = prometheus.NewCounter(prometheus.CounterOpts{Name: "refund_double_faults_total", Help: "Refunds that themselves failed; operator attention required"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "api_rate_limit_rejects_total", Help: "Ops API requests rejected by the token bucket"})
	RunningGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "conversions_running", Help: "Conversions currently holding a gate slot"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "owner_queue_depth", Help: "Queued conversions across all owner queues"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			AdmissionsAccepted,
			AdmissionsRejected,
			Delivered,
			Refunded,
			Failed,
			DoubleFaults,
			RateLimitRejects,
			RunningGauge,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
