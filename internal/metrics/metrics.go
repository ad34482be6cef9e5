// Package metrics exposes ledger health signals to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
)

const namespace = "flockledger"

// Metrics groups the collectors used by the services.
type Metrics struct {
	mutations     *prometheus.CounterVec
	retries       *prometheus.CounterVec
	auditPending  prometheus.Gauge
	auditFailures *prometheus.CounterVec
	drift         prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Ledger mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_retries_total",
			Help:      "Retried storage writes by operation.",
		}, []string{"op"}),
		auditPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_pending",
			Help:      "Audit entries waiting to be persisted.",
		}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit appends that failed, by stage.",
		}, []string{"stage"}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_drift",
			Help:      "Guard counters that disagree with the allocation table at the last reconciliation.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.mutations, m.retries, m.auditPending, m.auditFailures, m.drift)
	}
	return m
}

// ObserveMutation counts a finished mutation; the outcome is the error kind or "ok".
func (m *Metrics) ObserveMutation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	m.mutations.WithLabelValues(op, outcome).Inc()
}

// Retry returns a hook counting retried writes for op.
func (m *Metrics) Retry(op string) func(error) {
	return func(error) {
		if m == nil {
			return
		}
		m.retries.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SetAuditPending(n int) {
	if m == nil {
		return
	}
	m.auditPending.Set(float64(n))
}

func (m *Metrics) AuditFailure(stage string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) SetDrift(n int) {
	if m == nil {
		return
	}
	m.drift.Set(float64(n))
}
