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

package dbsync

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	s, err := NewStateStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStateStore returned unexpected error: %v", err)
	}
	return s
}

func TestStateStore_LoadState_MissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadState("events")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadState on missing table = %v, want ErrNotFound", err)
	}
}

func TestStateStore_SaveAndLoadState_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	watermark := "2026-01-01T00:00:00Z"

	want := &SyncState{
		LastSyncAt:     &now,
		LastWatermark:  &watermark,
		LastBatchCount: 500,
		TotalRows:      1500,
		MappingVersion: 1,
		Status:         StatusCompleted,
	}
	if err := s.SaveState("events", want); err != nil {
		t.Fatalf("SaveState returned unexpected error: %v", err)
	}

	got, err := s.LoadState("events")
	if err != nil {
		t.Fatalf("LoadState returned unexpected error: %v", err)
	}
	if got.TotalRows != want.TotalRows || got.Status != want.Status || *got.LastWatermark != watermark {
		t.Errorf("LoadState = %+v, want %+v", got, want)
	}
}

func TestStateStore_SaveMapping_PreservesVersionWhenUnchanged(t *testing.T) {
	s := newTestStore(t)
	cols := []ColumnSpec{{Name: "id", TargetType: TargetInteger}}

	first, err := s.SaveMapping("events", &SchemaMapping{Version: 1, Columns: cols})
	if err != nil {
		t.Fatalf("first SaveMapping returned unexpected error: %v", err)
	}
	if first.Version != 1 {
		t.Fatalf("first.Version = %d, want 1", first.Version)
	}

	second, err := s.SaveMapping("events", &SchemaMapping{Version: 99, Columns: cols})
	if err != nil {
		t.Fatalf("second SaveMapping returned unexpected error: %v", err)
	}
	if second.Version != 1 {
		t.Errorf("second.Version = %d, want 1 (unchanged column set keeps stored version)", second.Version)
	}
}

func TestStateStore_SaveMapping_BumpsVersionOnTypeDrift(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SaveMapping("events", &SchemaMapping{
		Version: 1,
		Columns: []ColumnSpec{{Name: "v", TargetType: TargetDecimal}},
	}); err != nil {
		t.Fatalf("first SaveMapping returned unexpected error: %v", err)
	}

	drifted, err := s.SaveMapping("events", &SchemaMapping{
		Version: 1,
		Columns: []ColumnSpec{{Name: "v", TargetType: TargetVarChar}},
	})
	if err != nil {
		t.Fatalf("second SaveMapping returned unexpected error: %v", err)
	}
	if drifted.Version != 2 {
		t.Errorf("drifted.Version = %d, want 2", drifted.Version)
	}
}

func TestStateStore_Checkpoint_WriteLoadClear(t *testing.T) {
	s := newTestStore(t)
	cp := &ProgressCheckpoint{
		RunID: "run-1", TargetTable: "events", RowsDone: 500,
		StartedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}

	if err := s.WriteCheckpoint(cp); err != nil {
		t.Fatalf("WriteCheckpoint returned unexpected error: %v", err)
	}

	loaded, err := s.LoadCheckpoint("events")
	if err != nil {
		t.Fatalf("LoadCheckpoint returned unexpected error: %v", err)
	}
	if loaded.RunID != "run-1" || loaded.RowsDone != 500 {
		t.Errorf("LoadCheckpoint = %+v, want RunID=run-1 RowsDone=500", loaded)
	}

	if err := s.ClearCheckpoint("events"); err != nil {
		t.Fatalf("ClearCheckpoint returned unexpected error: %v", err)
	}
	if _, err := s.LoadCheckpoint("events"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadCheckpoint after clear = %v, want ErrNotFound", err)
	}

	// Clearing an already-absent checkpoint must not error.
	if err := s.ClearCheckpoint("events"); err != nil {
		t.Errorf("ClearCheckpoint on absent checkpoint returned error: %v", err)
	}
}

func TestStateStore_SaveState_OverwritesPreviousRecord(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveState("events", &SyncState{TotalRows: 100, Status: StatusRunning}); err != nil {
		t.Fatalf("first SaveState returned unexpected error: %v", err)
	}
	if err := s.SaveState("events", &SyncState{TotalRows: 200, Status: StatusCompleted}); err != nil {
		t.Fatalf("second SaveState returned unexpected error: %v", err)
	}

	got, err := s.LoadState("events")
	if err != nil {
		t.Fatalf("LoadState returned unexpected error: %v", err)
	}
	if got.TotalRows != 200 || got.Status != StatusCompleted {
		t.Errorf("LoadState = %+v, want TotalRows=200 Status=completed", got)
	}
}
