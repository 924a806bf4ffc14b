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

// Package dbsync mirrors time-series and history tables from a remote
// transactional source database into an embedded analytics store, with
// crash-safe resumption, live progress reporting, and scheduled execution.
package dbsync

import (
	"strconv"
	"time"
)

// TargetType is an analytics-store column type. These are the only types
// the analytics writer is required to support.
type TargetType string

const (
	TargetInteger   TargetType = "integer"
	TargetDecimal   TargetType = "decimal"
	TargetDouble    TargetType = "double"
	TargetVarChar   TargetType = "varchar"
	TargetTimestamp TargetType = "timestamp"
)

// ColumnSpec describes one column as it is mapped from the source schema
// into the analytics store.
type ColumnSpec struct {
	Name         string
	SourceType   string
	TargetType   TargetType
	Nullable     bool
	IsPrimaryKey bool
	IsTemporal   bool
}

// TableBinding configures one source-to-target table sync.
type TableBinding struct {
	SourceSchema string
	SourceTable  string
	TargetTable  string
	PrimaryKey   []string
	// TemporalKey orders incremental syncs. The first element is the
	// analytics-side ordering key. Composite keys order rows
	// lexicographically over the tuple; the incremental predicate and
	// the watermark use only the first element.
	TemporalKey []string
	BatchSize   int
}

// Validate checks invariants that hold regardless of sync kind.
func (b *TableBinding) Validate() error {
	if b.SourceTable == "" {
		return newError(ErrConfigInvalid, false, "table binding: sourceTable is required", nil)
	}
	if b.TargetTable == "" {
		return newError(ErrConfigInvalid, false, "table binding: targetTable is required", nil)
	}
	if b.BatchSize < 1 {
		return newError(ErrConfigInvalid, false, "table binding: batchSize must be >= 1", nil)
	}
	for _, ident := range append([]string{b.SourceSchema, b.SourceTable, b.TargetTable}, append(b.PrimaryKey, b.TemporalKey...)...) {
		if ident != "" && !validIdent(ident) {
			return newError(ErrConfigInvalid, false, "table binding: invalid identifier "+strconv.Quote(ident), nil)
		}
	}
	return nil
}

// RequireIncremental returns an error if this binding cannot support
// incremental sync (empty temporalKey).
func (b *TableBinding) RequireIncremental() error {
	if len(b.TemporalKey) == 0 {
		return newError(ErrConfigInvalid, false,
			"table binding "+b.TargetTable+": incremental sync requires a non-empty temporalKey", nil)
	}
	return nil
}

// SchemaMapping is the versioned, deterministic mapping from a source
// table's columns to analytics ColumnSpecs. Version is bumped only when
// the column set or a mapped type changes.
type SchemaMapping struct {
	Version   int
	Columns   []ColumnSpec
	CreatedAt time.Time
}

// SameColumnSet reports whether two mappings name the same columns in the
// same order. Target types are not compared; TypeDrift covers those.
func (m *SchemaMapping) SameColumnSet(other *SchemaMapping) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.Columns) != len(other.Columns) {
		return false
	}
	for i := range m.Columns {
		if m.Columns[i].Name != other.Columns[i].Name {
			return false
		}
	}
	return true
}

// TypeDrift reports whether any shared column changed its mapped target
// type between two mappings with an identical column set.
func (m *SchemaMapping) TypeDrift(other *SchemaMapping) bool {
	if m == nil || other == nil || len(m.Columns) != len(other.Columns) {
		return false
	}
	for i := range m.Columns {
		if m.Columns[i].TargetType != other.Columns[i].TargetType {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a per-table sync or an active worker.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
)

// SyncState is the durable per-target-table sync progress record.
type SyncState struct {
	LastSyncAt     *time.Time
	LastWatermark  *string
	LastBatchCount int
	TotalRows      int64
	MappingVersion int
	Status         Status
}

// ProgressCheckpoint is the ephemeral per-run record written after every
// batch and cleared on successful finalize. Its presence on restart is the
// sole resumption signal for a crashed incremental run.
type ProgressCheckpoint struct {
	RunID              string
	TargetTable        string
	RowsDone           int64
	RowsTotal          *int64
	LastBatchWatermark *string
	StartedAt          time.Time
	UpdatedAt          time.Time
}

// LockRecord is the JSON contents of the sync lock file.
type LockRecord struct {
	HolderID   string
	AcquiredAt time.Time
	PID        int
}

// RunKind distinguishes the three Sync Engine entry points.
type RunKind string

const (
	RunTest        RunKind = "test"
	RunFull        RunKind = "full"
	RunIncremental RunKind = "incremental"
)

// Phase marks which stage of the pipeline emitted a Progress event.
type Phase string

const (
	PhaseSchema   Phase = "schema"
	PhaseDDL      Phase = "ddl"
	PhaseCopy     Phase = "copy"
	PhaseFinalize Phase = "finalize"
)

// EventType discriminates the SyncEvent tagged union on the wire.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventLog       EventType = "log"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
	EventStopped   EventType = "stopped"
	EventFailed    EventType = "failed"
	EventCompleted EventType = "completed"
)

// SyncEvent is the wire format streamed from the Sync Worker to callers.
// Exactly one field set is populated per Type; JSON marshaling keeps every
// field on one flat struct (the teacher's Snowflake SyncResult uses the
// same flat-struct-over-union shape for a comparable wire payload).
type SyncEvent struct {
	Type EventType `json:"type"`

	RunID string  `json:"runId"`
	Kind  RunKind `json:"kind,omitempty"`
	Table string  `json:"table,omitempty"`

	RowsDone      int64    `json:"rowsDone,omitempty"`
	RowsTotal     *int64   `json:"rowsTotal,omitempty"`
	ETASeconds    *float64 `json:"etaSeconds,omitempty"`
	Phase         Phase    `json:"phase,omitempty"`
	DroppedEvents int64    `json:"droppedEvents,omitempty"`

	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	Reason string `json:"reason,omitempty"`

	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`

	RowsLoaded      int64   `json:"rowsLoaded,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}
