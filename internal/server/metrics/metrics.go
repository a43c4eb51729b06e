// Package metrics exposes Prometheus instruments for hierarchy operations.
package metrics

import (
	"time"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the synchronizer instruments. A nil *Metrics records nothing.
type Metrics struct {
	operations        *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	compensations     *prometheus.CounterVec
	consistencyFaults *prometheus.CounterVec
	cascadeSize       prometheus.Histogram
	uploadedBytes     prometheus.Counter
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdrive_operations_total",
				Help: "Hierarchy operations by operation and result kind",
			},
			[]string{"op", "result"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vdrive_operation_duration_seconds",
				Help:    "Duration of hierarchy operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"op"},
		),
		compensations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdrive_compensations_total",
				Help: "Compensating physical actions after a metadata failure",
			},
			[]string{"op", "result"},
		),
		consistencyFaults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdrive_consistency_faults_total",
				Help: "Failures that left disk and metadata out of sync",
			},
			[]string{"op"},
		),
		cascadeSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vdrive_cascade_records",
				Help:    "Records rewritten by one folder rename or move",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		uploadedBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "vdrive_uploaded_bytes_total",
				Help: "Bytes written by uploads",
			},
		),
	}
}

// RecordOperation counts op with the kind of err and observes its duration.
func (m *Metrics) RecordOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, common.KindName(err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordCompensation counts a compensating action and whether it succeeded.
func (m *Metrics) RecordCompensation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.compensations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) RecordConsistencyFault(op string) {
	if m == nil {
		return
	}
	m.consistencyFaults.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordCascade(records int) {
	if m == nil {
		return
	}
	m.cascadeSize.Observe(float64(records))
}

func (m *Metrics) RecordUpload(bytes int64) {
	if m == nil {
		return
	}
	m.uploadedBytes.Add(float64(bytes))
}
