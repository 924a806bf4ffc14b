/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics holds Prometheus metrics for dbsync runs, field-for-field
// following the shape of CompactionMetrics.
type SyncMetrics struct {
	// RunDurationSeconds tracks the total duration of a sync run, labeled
	// by kind (test/full/incremental).
	RunDurationSeconds *prometheus.HistogramVec
	// RowsSyncedTotal counts rows written to the analytics store.
	RowsSyncedTotal *prometheus.CounterVec
	// BatchesProcessedTotal counts batches processed.
	BatchesProcessedTotal *prometheus.CounterVec
	// RetriesTotal counts retried operations by name.
	RetriesTotal *prometheus.CounterVec
	// ErrorsTotal counts terminal failures by error kind.
	ErrorsTotal *prometheus.CounterVec
	// LockBusyTotal counts SyncLock.Acquire calls that observed LockBusy.
	LockBusyTotal prometheus.Counter
	// LastRunTimestamp records the timestamp of the last completed run per table.
	LastRunTimestamp *prometheus.GaugeVec
}

// NewSyncMetrics creates and registers sync metrics against the default
// Prometheus registry.
func NewSyncMetrics() *SyncMetrics {
	return &SyncMetrics{
		RunDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbsync_run_duration_seconds",
			Help:    "Duration of a sync run in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"kind"}),
		RowsSyncedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dbsync_rows_synced_total",
			Help: "Total number of rows written to the analytics store",
		}, []string{"table"}),
		BatchesProcessedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dbsync_batches_processed_total",
			Help: "Total number of batches processed",
		}, []string{"table"}),
		RetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dbsync_retries_total",
			Help: "Total number of retried operations",
		}, []string{"operation"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dbsync_errors_total",
			Help: "Total number of terminal sync failures by error kind",
		}, []string{"kind"}),
		LockBusyTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dbsync_lock_busy_total",
			Help: "Total number of sync attempts that observed the lock already held",
		}),
		LastRunTimestamp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dbsync_last_run_timestamp",
			Help: "Unix timestamp of the last completed sync run, per table",
		}, []string{"table"}),
	}
}

// NewSyncMetricsWithRegistry creates sync metrics registered against reg
// instead of the default registry. Use this for tests or per-process
// isolated metrics.
func NewSyncMetricsWithRegistry(reg *prometheus.Registry) *SyncMetrics {
	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dbsync_run_duration_seconds",
		Help:    "Duration of a sync run in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"kind"})
	rowsSynced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dbsync_rows_synced_total",
		Help: "Total number of rows written to the analytics store",
	}, []string{"table"})
	batchesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dbsync_batches_processed_total",
		Help: "Total number of batches processed",
	}, []string{"table"})
	retriesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dbsync_retries_total",
		Help: "Total number of retried operations",
	}, []string{"operation"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dbsync_errors_total",
		Help: "Total number of terminal sync failures by error kind",
	}, []string{"kind"})
	lockBusy := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dbsync_lock_busy_total",
		Help: "Total number of sync attempts that observed the lock already held",
	})
	lastRun := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dbsync_last_run_timestamp",
		Help: "Unix timestamp of the last completed sync run, per table",
	}, []string{"table"})

	reg.MustRegister(runDuration, rowsSynced, batchesProcessed, retriesTotal, errorsTotal, lockBusy, lastRun)

	return &SyncMetrics{
		RunDurationSeconds:    runDuration,
		RowsSyncedTotal:       rowsSynced,
		BatchesProcessedTotal: batchesProcessed,
		RetriesTotal:          retriesTotal,
		ErrorsTotal:           errorsTotal,
		LockBusyTotal:         lockBusy,
		LastRunTimestamp:      lastRun,
	}
}

// RecordRun observes a completed run's duration and records the last-run
// timestamp for table.
func (m *SyncMetrics) RecordRun(kind string, table string, d time.Duration) {
	m.RunDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
	m.LastRunTimestamp.WithLabelValues(table).SetToCurrentTime()
}

// RecordBatch records one processed batch of n rows for table.
func (m *SyncMetrics) RecordBatch(table string, n int64) {
	m.RowsSyncedTotal.WithLabelValues(table).Add(float64(n))
	m.BatchesProcessedTotal.WithLabelValues(table).Inc()
}

// RecordRetry increments the retry counter for operation.
func (m *SyncMetrics) RecordRetry(operation string) {
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// RecordError increments the error counter for the given error kind.
func (m *SyncMetrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordLockBusy increments the lock-contention counter.
func (m *SyncMetrics) RecordLockBusy() {
	m.LockBusyTotal.Inc()
}
