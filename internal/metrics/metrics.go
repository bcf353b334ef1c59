// Package metrics exposes Prometheus collectors for the attendance store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Store records attendance store outcomes. It satisfies attendance.Observer.
type Store struct {
	ops       *prometheus.CounterVec
	failures  *prometheus.CounterVec
	rollbacks prometheus.Counter
	imported  prometheus.Counter
}

// NewStore creates the collectors and registers them on reg.
func NewStore(reg prometheus.Registerer) *Store {
	m := &Store{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "store_operations_total",
			Help:      "Attendance store operations by name.",
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "store_remote_failures_total",
			Help:      "Operations whose remote write or fetch failed.",
		}, []string{"op"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "attendance_rollbacks_total",
			Help:      "Optimistic attendance toggles undone after a failed write.",
		}),
		imported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "students_imported_total",
			Help:      "Students created through bulk import.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.failures, m.rollbacks, m.imported)
	}
	return m
}

func (m *Store) ObserveOp(op string, err error) {
	m.ops.WithLabelValues(op).Inc()
	if err != nil {
		m.failures.WithLabelValues(op).Inc()
	}
}

func (m *Store) ObserveRollback() { m.rollbacks.Inc() }

func (m *Store) ObserveImported(n int) { m.imported.Add(float64(n)) }

// Forwarder counts spreadsheet forwarding results in the worker.
type Forwarder struct {
	rows *prometheus.CounterVec
}

// NewForwarder creates the worker collectors and registers them on reg.
func NewForwarder(reg prometheus.Registerer) *Forwarder {
	f := &Forwarder{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroll",
			Name:      "sheet_rows_total",
			Help:      "Attendance changes handled by the sheet forwarder by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(f.rows)
	}
	return f
}

// Forwarded counts one handled message.
func (f *Forwarder) Forwarded(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	f.rows.WithLabelValues(result).Inc()
}
