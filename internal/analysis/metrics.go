package analysis

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the analysis subsystem.
type Metrics struct {
	SubmitsTotal         *prometheus.CounterVec
	MutationsTotal       *prometheus.CounterVec
	InvocationsTotal     *prometheus.CounterVec
	InvocationDuration   *prometheus.HistogramVec
	TriageSkippedTotal   *prometheus.CounterVec
	TriageDiscardedTotal *prometheus.CounterVec
	NotifyFailuresTotal  prometheus.Counter
}

// NewMetrics registers and returns analysis metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_submits_total",
			Help: "Total object submissions by result.",
		}, []string{"type", "result"}),
		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_task_mutations_total",
			Help: "Total analysis task mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		InvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_analyzer_runs_total",
			Help: "Total analyzer runs by service and outcome.",
		}, []string{"service", "outcome"}),
		InvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_analyzer_run_duration_seconds",
			Help:    "Duration of analyzer runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		}, []string{"service"}),
		TriageSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_triage_skipped_total",
			Help: "Triage runs skipped because no context could be built.",
		}, []string{"type"}),
		TriageDiscardedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_triage_discarded_failures_total",
			Help: "Triage service failures absorbed by the dispatcher.",
		}, []string{"service"}),
		NotifyFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_notify_failures_total",
			Help: "Task-finished notifications that could not be delivered.",
		}),
	}

	reg.MustRegister(
		m.SubmitsTotal,
		m.MutationsTotal,
		m.InvocationsTotal,
		m.InvocationDuration,
		m.TriageSkippedTotal,
		m.TriageDiscardedTotal,
		m.NotifyFailuresTotal,
	)

	return m
}

// InvokeHooks returns registry hooks that record analyzer runs.
func (m *Metrics) InvokeHooks() InvokeHooks {
	return InvokeHooks{
		OnInvoke: func(service, outcome string, duration float64) {
			m.InvocationsTotal.WithLabelValues(service, outcome).Inc()
			m.InvocationDuration.WithLabelValues(service).Observe(duration)
		},
	}
}

// DispatchHooks returns dispatcher hooks that count skipped and discarded work.
func (m *Metrics) DispatchHooks() DispatchHooks {
	return DispatchHooks{
		OnContextFailed: func(objectType string) {
			m.TriageSkippedTotal.WithLabelValues(objectType).Inc()
		},
		OnDiscarded: func(service string) {
			m.TriageDiscardedTotal.WithLabelValues(service).Inc()
		},
	}
}

func (m *Metrics) mutation(op string, out Outcome) {
	if m == nil {
		return
	}
	outcome := "success"
	if !out.Success {
		outcome = "failure"
	}
	m.MutationsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) submit(typ, result string) {
	if m == nil {
		return
	}
	m.SubmitsTotal.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) notifyFailed() {
	if m == nil {
		return
	}
	m.NotifyFailuresTotal.Inc()
}
