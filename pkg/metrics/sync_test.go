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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewSyncMetricsWithRegistry_RecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSyncMetricsWithRegistry(reg)

	m.RecordRun("incremental", "events", 2*time.Second)
	m.RecordBatch("events", 500)
	m.RecordRetry("insert_batch")
	m.RecordError("SourceReadError")
	m.RecordLockBusy()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather returned unexpected error: %v", err)
	}

	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}

	if _, ok := byName["dbsync_rows_synced_total"]; !ok {
		t.Error("expected dbsync_rows_synced_total to be registered")
	}
	if _, ok := byName["dbsync_lock_busy_total"]; !ok {
		t.Error("expected dbsync_lock_busy_total to be registered")
	}

	rows := byName["dbsync_rows_synced_total"]
	if got := rows.GetMetric()[0].GetCounter().GetValue(); got != 500 {
		t.Errorf("dbsync_rows_synced_total = %v, want 500", got)
	}

	lockBusy := byName["dbsync_lock_busy_total"]
	if got := lockBusy.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("dbsync_lock_busy_total = %v, want 1", got)
	}
}
