// Package metrics exposes the control plane's Prometheus collectors:
// pending queue depth, per-worker load, and webhook delivery outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds studiocore's own collectors, separate from the
	// default global registerer so tests can construct scratch
	// registries without colliding with package-level state.
	Registry = prometheus.NewRegistry()

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "studiocore",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Number of jobs in the pending queue as of the last scheduler tick.",
	})

	workerLoad = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "studiocore",
		Subsystem: "scheduler",
		Name:      "worker_active_jobs",
		Help:      "Active job count per online render worker as of the last scheduler tick.",
	}, []string{"worker_id", "worker_name"})

	webhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studiocore",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook delivery attempts by outcome (delivered, retrying, failed).",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		queueDepth,
		workerLoad,
		webhookDeliveries,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetQueueDepth records the pending queue length observed this tick.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetWorkerLoad replaces the worker_active_jobs gauge with the given
// snapshot, resetting stale series for workers that dropped offline.
func SetWorkerLoad(loads map[string]WorkerLoad) {
	workerLoad.Reset()
	for id, l := range loads {
		workerLoad.WithLabelValues(id, l.Name).Set(float64(l.ActiveJobs))
	}
}

// WorkerLoad is one worker's active-job count as of the last tick.
type WorkerLoad struct {
	Name       string
	ActiveJobs int
}

// RecordWebhookDelivery increments the delivery counter for outcome,
// one of "delivered", "retrying", or "failed".
func RecordWebhookDelivery(outcome string) {
	webhookDeliveries.WithLabelValues(outcome).Inc()
}
