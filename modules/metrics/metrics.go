// Package metrics exposes Prometheus collectors for pipeline runs, stage
// invocations, watch notifications and reload broadcasts.
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autumn"

type Recorder struct {
	reg           *prom.Registry
	runDuration   prom.Histogram
	runOutcomes   *prom.CounterVec
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	notifications *prom.CounterVec
	reloads       prom.Counter
	reloadClients prom.Gauge
	requests      *prom.CounterVec
	requestTime   *prom.HistogramVec
}

// New registers the collectors on reg, or on a fresh registry when reg is nil.
func New(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full pipeline run",
			Buckets:   prom.DefBuckets,
		}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"outcome"}),
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual stage invocations",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage invocations by result",
		}, []string{"stage", "result"}),
		notifications: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "watch_notifications_total",
			Help:      "File change notifications seen by the debounce gate",
		}, []string{"result"}),
		reloads: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reload_broadcasts_total",
			Help:      "Browser reload signals broadcast",
		}),
		reloadClients: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "reload_clients",
			Help:      "Connected live-reload clients",
		}),
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Requests served by the reload server by method and status class",
		}, []string{"method", "code"}),
		requestTime: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of requests served by the reload server",
			Buckets:   prom.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(r.runDuration, r.runOutcomes, r.stageDuration, r.stageResults,
		r.notifications, r.reloads, r.reloadClients, r.requests, r.requestTime)
	return r
}

// ObserveStage records one stage invocation. result is "ok" or an error kind.
func (r *Recorder) ObserveStage(stage, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	r.stageResults.WithLabelValues(stage, result).Inc()
}

func (r *Recorder) ObserveRun(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.runDuration.Observe(d.Seconds())
	r.runOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveNotification counts a gate decision.
func (r *Recorder) ObserveNotification(fired bool) {
	if r == nil {
		return
	}
	result := "swallowed"
	if fired {
		result = "fired"
	}
	r.notifications.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveReload() {
	if r == nil {
		return
	}
	r.reloads.Inc()
}

func (r *Recorder) SetReloadClients(n int) {
	if r == nil {
		return
	}
	r.reloadClients.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}
