package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	DispatchedCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "outbound_jobs_dispatched_total", Help: "Claimed jobs handed to the provider client"})
	CompletedCounter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "outbound_jobs_completed_total", Help: "Jobs completed successfully"})
	RetriedCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "outbound_jobs_retried_total", Help: "Failed attempts that were rescheduled"})
	DeadLetterCounter = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "outbound_jobs_dead_letter_total", Help: "Jobs moved to the DLQ"}, []string{"category"})
	AlertCounter      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "system_alerts_total", Help: "Operator alerts raised"}, []string{"type"})
	PendingDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "outbound_jobs_pending", Help: "Jobs due for claim"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "outbound_jobs_inflight", Help: "Jobs currently processing"})
	CooldownGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "accounts_cooling_down", Help: "Accounts excluded by an active rate-limit cool-down"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			DispatchedCounter,
			CompletedCounter,
			RetriedCounter,
			DeadLetterCounter,
			AlertCounter,
			PendingDepthGauge,
			InFlightGauge,
			CooldownGauge,
		)
	})
	return promhttp.Handler()
}
