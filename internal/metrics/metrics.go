// Package metrics exposes the gateway's Prometheus instrumentation —
// SPEC_FULL.md §2 item 17 / §6 GET /api/metrics. Not part of the
// original spec's scope, but the teacher's own pkg/job.Metrics shows the
// ambient habit of tracking heap size, queue depth, and error counters as
// first-class values; this package expresses the same habit through
// github.com/prometheus/client_golang, the ecosystem's standard exposition
// format, rather than the teacher's atomic-counter structs (which have no
// scrape endpoint of their own).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shridarpatil/wagateway/internal/supervisor"
)

// Registry holds every gauge/counter the gateway exports.
type Registry struct {
	reg *prometheus.Registry

	instancesRunning prometheus.Gauge
	queueDepth       *prometheus.GaugeVec
	webhookAttempts  prometheus.Counter
	webhookSuccesses prometheus.Counter
	webhookFailures  prometheus.Counter
	healthRestarts   prometheus.Counter
}

// New constructs a Registry with every metric pre-registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		instancesRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wagateway_instances_running",
			Help: "Number of worker processes currently tracked as running.",
		}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wagateway_queue_depth",
			Help: "Pending job count for a given instance's send queue.",
		}, []string{"instance"}),
		webhookAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "wagateway_webhook_attempts_total",
			Help: "Total webhook delivery attempts.",
		}),
		webhookSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "wagateway_webhook_successes_total",
			Help: "Total webhook deliveries that succeeded.",
		}),
		webhookFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "wagateway_webhook_failures_total",
			Help: "Total webhook deliveries that exhausted their retries.",
		}),
		healthRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "wagateway_health_check_deaths_total",
			Help: "Total worker processes found dead by the health-check loop.",
		}),
	}
}

// Handler returns the /api/metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) SetInstancesRunning(n int) { r.instancesRunning.Set(float64(n)) }

func (r *Registry) SetQueueDepth(instance string, n int) {
	r.queueDepth.WithLabelValues(instance).Set(float64(n))
}

func (r *Registry) RecordWebhookAttempt()  { r.webhookAttempts.Inc() }
func (r *Registry) RecordWebhookSuccess()  { r.webhookSuccesses.Inc() }
func (r *Registry) RecordWebhookFailure()  { r.webhookFailures.Inc() }
func (r *Registry) RecordHealthCheckDeath() { r.healthRestarts.Inc() }

// sink adapts Registry to supervisor.EventSink so health-check deaths are
// tracked without the supervisor importing this package directly.
type sink struct {
	r    *Registry
	next supervisor.EventSink
}

// WrapSink composes an existing EventSink with metrics recording.
func WrapSink(r *Registry, next supervisor.EventSink) supervisor.EventSink {
	return &sink{r: r, next: next}
}

func (s *sink) WorkerStarted(hash string, port int) { s.next.WorkerStarted(hash, port) }
func (s *sink) WorkerStopped(hash string)            { s.next.WorkerStopped(hash) }
func (s *sink) ProcessDied(hash string) {
	s.r.RecordHealthCheckDeath()
	s.next.ProcessDied(hash)
}
