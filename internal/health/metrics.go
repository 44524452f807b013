package health

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements the scheduler's Observer over a private Prometheus
// registry, plus gauges sampled from the queue on scrape.
type Metrics struct {
	reg *prometheus.Registry

	envelopesConsumed  prometheus.Counter
	envelopesCommitted prometheus.Counter
	envelopesMirrored  prometheus.Counter
	tasksEnqueued      prometheus.Counter
	tasksCompleted     prometheus.Counter
	tasksFailed        prometheus.Counter
	workersBusy        prometheus.Gauge
}

// NewMetrics builds and registers the collector set.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		envelopesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_envelopes_consumed_total",
			Help: "Envelopes pulled from the log.",
		}),
		envelopesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_envelopes_committed_total",
			Help: "Envelopes acknowledged back to the log.",
		}),
		envelopesMirrored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_envelopes_mirrored_total",
			Help: "Envelopes mirrored to the error channel.",
		}),
		tasksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_tasks_enqueued_total",
			Help: "Tasks accepted by the ordered queue.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_tasks_completed_total",
			Help: "Tasks acknowledged after full success.",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_tasks_failed_total",
			Help: "Task attempts that ended in failure.",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conveyor_workers_busy",
			Help: "Task workers currently processing.",
		}),
	}
	m.reg.MustRegister(
		m.envelopesConsumed, m.envelopesCommitted, m.envelopesMirrored,
		m.tasksEnqueued, m.tasksCompleted, m.tasksFailed, m.workersBusy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveQueue registers scrape-time gauges backed by queue counters.
func (m *Metrics) ObserveQueue(depth, inFlight, deadLetters func() float64) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "conveyor_queue_depth",
			Help: "Leasable tasks waiting in the ordered queue.",
		}, depth),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "conveyor_queue_in_flight",
			Help: "Tasks under an active visibility lease.",
		}, inFlight),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "conveyor_queue_dead_letters",
			Help: "Tasks parked on the dead-letter channel.",
		}, deadLetters),
	)
}

// ObserveBuffered registers a gauge over the scheduler's bounded queue.
func (m *Metrics) ObserveBuffered(buffered func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "conveyor_scheduler_buffered",
		Help: "Envelopes waiting in the scheduler's bounded queue.",
	}, buffered))
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) EnvelopeConsumed()  { m.envelopesConsumed.Inc() }
func (m *Metrics) EnvelopeCommitted() { m.envelopesCommitted.Inc() }
func (m *Metrics) EnvelopeMirrored()  { m.envelopesMirrored.Inc() }
func (m *Metrics) TasksEnqueued(n int) {
	m.tasksEnqueued.Add(float64(n))
}
func (m *Metrics) TaskCompleted() { m.tasksCompleted.Inc() }
func (m *Metrics) TaskFailed()    { m.tasksFailed.Inc() }
func (m *Metrics) WorkerBusy(delta int) {
	m.workersBusy.Add(float64(delta))
}
