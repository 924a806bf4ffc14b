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
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jwleepro/oracle-duckdb-sync/pkg/metrics"
)

// EngineConfig tunes the Sync Engine, following the shape of the teacher's
// compaction.Config: a plain struct with a DefaultEngineConfig constructor.
type EngineConfig struct {
	MaxDuration   time.Duration
	MaxIterations int
	PauseInterval time.Duration
	Retry         RetryPolicy
}

// DefaultEngineConfig matches spec §6 defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxDuration:   time.Hour,
		MaxIterations: 100_000,
		PauseInterval: 250 * time.Millisecond,
		Retry:         DefaultRetryPolicy(),
	}
}

// ProgressFunc receives every SyncEvent the engine emits. The Sync Worker
// (C7) supplies an implementation that forwards to its bounded channel
// with selective backpressure: Progress events are dropped when the
// channel is full, while every other event waits for room, so the engine
// can block on a slow consumer only when emitting a non-Progress event.
type ProgressFunc func(SyncEvent)

// PauseGate is consulted by the engine between batches. Implementations
// block while paused and return ctx.Err() if cancelled while waiting;
// when not paused they return nil immediately.
type PauseGate func(ctx context.Context) error

// StopReasonFunc returns the reason a run's context was cancelled, as
// supplied by whoever called Stop. Returns "" if no caller-supplied
// reason is available (e.g. cancellation came from outside the Sync
// Worker), in which case the engine falls back to a generic reason.
type StopReasonFunc func() string

// Engine orchestrates full, test, and incremental syncs, grounded on the
// teacher's compaction.Engine: batched loop, withRetry, zap logging, and
// Prometheus metrics, generalized from one retention cycle to three run
// kinds sharing a common pipeline.
type Engine struct {
	source SourceReader
	writer AnalyticsWriter
	state  *StateStore
	cfg    EngineConfig
	m      *metrics.SyncMetrics
	log    *zap.SugaredLogger
}

// NewEngine constructs a Sync Engine.
func NewEngine(source SourceReader, writer AnalyticsWriter, state *StateStore, cfg EngineConfig, m *metrics.SyncMetrics, log *zap.SugaredLogger) *Engine {
	return &Engine{source: source, writer: writer, state: state, cfg: cfg, m: m, log: log}
}

// RunSpec names one sync invocation.
type RunSpec struct {
	RunID   string
	Kind    RunKind
	Binding *TableBinding
	MaxRows int // only consulted for RunTest
}

// Run executes spec's pipeline to completion (or failure, or cancellation)
// and returns the terminal SyncEvent. It never returns a bare error for
// conditions the spec models as events (Failed, Stopped) — those are
// reported through emit and reflected in the returned event's Type; Run's
// error return is reserved for programming-time misuse (e.g. validation).
func (e *Engine) Run(ctx context.Context, spec RunSpec, emit ProgressFunc, gate PauseGate, reasonFn StopReasonFunc) (SyncEvent, error) {
	if err := spec.Binding.Validate(); err != nil {
		return SyncEvent{}, err
	}
	if spec.Kind == RunIncremental {
		if err := spec.Binding.RequireIncremental(); err != nil {
			return SyncEvent{}, err
		}
	}
	if gate == nil {
		gate = func(context.Context) error { return nil }
	}

	start := time.Now()
	table := spec.Binding.TargetTable
	if spec.Kind == RunTest {
		table = table + "_test"
	}

	emit(SyncEvent{Type: EventStarted, RunID: spec.RunID, Kind: spec.Kind, Table: table})

	run := &runState{
		engine: e, spec: spec, table: table, emit: emit, gate: gate, reasonFn: reasonFn,
		start: start, deadline: start.Add(e.cfg.MaxDuration),
	}

	terminal, err := run.execute(ctx)
	if e.m != nil {
		e.m.RecordRun(string(spec.Kind), table, time.Since(start))
		if terminal.Type == EventFailed {
			e.m.RecordError(string(terminal.ErrorKind))
		}
	}
	return terminal, err
}

// runState carries the mutable state of one Run invocation through its
// phases; it exists so execute's helper methods don't need a long
// parameter list repeated at every call site.
type runState struct {
	engine   *Engine
	spec     RunSpec
	table    string
	emit     ProgressFunc
	gate     PauseGate
	reasonFn StopReasonFunc
	start    time.Time
	deadline time.Time

	rowsDone         int64
	watermark        string
	lastWrittenBatch int64
}

func (r *runState) execute(ctx context.Context) (SyncEvent, error) {
	mapping, preErr := r.schemaPhase(ctx)
	if preErr != nil {
		return r.fail(preErr), nil
	}

	if err := r.ddlPhase(ctx, mapping); err != nil {
		return r.fail(err), nil
	}

	cursor, openErr := r.openCursor(ctx)
	if openErr != nil {
		return r.fail(openErr), nil
	}
	defer cursor.Close()

	stopped, copyErr := r.copyPhase(ctx, cursor)
	if stopped {
		reason := "cancelled"
		if r.reasonFn != nil {
			if rr := r.reasonFn(); rr != "" {
				reason = rr
			}
		}
		ev := SyncEvent{Type: EventStopped, RunID: r.spec.RunID, Reason: reason}
		r.emit(ev)
		return ev, nil
	}
	if copyErr != nil {
		return r.fail(copyErr), nil
	}

	completed, err := r.finalizePhase(ctx)
	if err != nil {
		return r.fail(err), nil
	}
	return completed, nil
}

func (r *runState) fail(err error) SyncEvent {
	kind := KindOf(err)
	retryable := IsRetryable(err)
	ev := SyncEvent{
		Type: EventFailed, RunID: r.spec.RunID,
		ErrorKind: kind, Retryable: retryable, Message: err.Error(),
	}
	r.emit(ev)
	if r.engine.log != nil {
		r.engine.log.Errorw("sync run failed", "runID", r.spec.RunID, "table", r.table, "kind", kind, "error", err)
	}
	return ev
}

// schemaPhase implements spec §4.6 step 1.
func (r *runState) schemaPhase(ctx context.Context) (*SchemaMapping, error) {
	r.emit(SyncEvent{Type: EventProgress, RunID: r.spec.RunID, Phase: PhaseSchema})

	cols, err := r.engine.source.Describe(ctx, r.spec.Binding)
	if err != nil {
		return nil, err
	}
	candidate, err := BuildMapping(cols, 1, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if r.spec.Kind == RunIncremental {
		stored, err := r.engine.state.LoadMapping(r.spec.Binding.TargetTable)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if stored != nil && !stored.SameColumnSet(candidate) {
			return nil, newError(ErrSchemaDrift, false, "column set changed for "+r.table+"; run a full sync", nil)
		}
		return r.engine.state.SaveMapping(r.spec.Binding.TargetTable, candidate)
	}

	// Full and test syncs always re-derive the schema from scratch.
	if err := r.engine.state.ResetMapping(r.spec.Binding.TargetTable, candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

// ddlPhase implements spec §4.6 step 2.
func (r *runState) ddlPhase(ctx context.Context, mapping *SchemaMapping) error {
	r.emit(SyncEvent{Type: EventProgress, RunID: r.spec.RunID, Phase: PhaseDDL})

	exists, err := r.engine.writer.TableExists(ctx, r.table)
	if err != nil {
		return err
	}

	switch r.spec.Kind {
	case RunFull:
		if exists {
			if err := r.engine.writer.DropTable(ctx, r.table); err != nil {
				return err
			}
		}
		return r.engine.writer.CreateTable(ctx, r.table, mapping.Columns, r.spec.Binding.PrimaryKey)
	case RunTest:
		if exists {
			if err := r.engine.writer.DropTable(ctx, r.table); err != nil {
				return err
			}
		}
		return r.engine.writer.CreateTable(ctx, r.table, mapping.Columns, nil)
	case RunIncremental:
		if !exists {
			return newError(ErrSchemaUnknown, false, "incremental sync requires an existing target table "+r.table, nil)
		}
		return nil
	default:
		return newError(ErrConfigInvalid, false, "unknown run kind", nil)
	}
}

func (r *runState) openCursor(ctx context.Context) (Cursor, error) {
	switch r.spec.Kind {
	case RunFull:
		return r.engine.source.OpenFull(ctx, r.spec.Binding)
	case RunTest:
		maxRows := r.spec.MaxRows
		if maxRows <= 0 {
			maxRows = 1000
		}
		return r.engine.source.OpenLimited(ctx, r.spec.Binding, maxRows)
	case RunIncremental:
		watermark, err := r.resumeWatermark()
		if err != nil {
			return nil, err
		}
		r.watermark = watermark
		return r.engine.source.OpenIncremental(ctx, r.spec.Binding, watermark)
	default:
		return nil, newError(ErrConfigInvalid, false, "unknown run kind", nil)
	}
}

// resumeWatermark implements spec §4.6's resumption rule: a checkpoint
// with rowsDone > 0 takes precedence over the persisted state watermark,
// because it reflects the last batch actually acknowledged by the writer
// — possibly more recent than state.lastWatermark if the process crashed
// after insertBatch but before saveState.
func (r *runState) resumeWatermark() (string, error) {
	table := r.spec.Binding.TargetTable

	if cp, err := r.engine.state.LoadCheckpoint(table); err == nil && cp.RowsDone > 0 {
		r.rowsDone = cp.RowsDone
		if cp.LastBatchWatermark != nil {
			if r.engine.log != nil {
				r.engine.log.Infow("resuming incremental sync from checkpoint",
					"table", table, "rowsDone", cp.RowsDone, "watermark", *cp.LastBatchWatermark)
			}
			return *cp.LastBatchWatermark, nil
		}
		return "", nil
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	st, err := r.engine.state.LoadState(table)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if st.LastWatermark == nil {
		return "", nil
	}
	return *st.LastWatermark, nil
}

// copyPhase implements spec §4.6 step 3 and the cancellation/guard rules
// of §5. It returns stopped=true if cooperative cancellation ended the
// loop (not an error condition).
func (r *runState) copyPhase(ctx context.Context, cursor Cursor) (bool, error) {
	r.emit(SyncEvent{Type: EventProgress, RunID: r.spec.RunID, Phase: PhaseCopy, RowsDone: r.rowsDone})

	cfg := r.engine.cfg
	iterations := 0
	for {
		if ctx.Err() != nil {
			return true, nil
		}
		if time.Now().After(r.deadline) {
			return false, newError(ErrTimeout, false, "sync exceeded max duration for "+r.table, nil)
		}
		if iterations >= cfg.MaxIterations {
			return false, newError(ErrIterationCap, false, "sync exceeded max iterations for "+r.table, nil)
		}

		if err := r.gate(ctx); err != nil {
			return true, nil
		}

		var batch *Batch
		err := withRetry(ctx, r.engine.log, cfg.Retry, "read_batch", func() error {
			b, err := cursor.NextBatch(ctx, r.spec.Binding.BatchSize)
			if err != nil {
				return err
			}
			batch = b
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			if r.engine.m != nil {
				r.engine.m.RecordRetry("read_batch")
			}
			return false, err
		}
		if batch.Empty() {
			break
		}

		var written int64
		err = withRetry(ctx, r.engine.log, cfg.Retry, "insert_batch", func() error {
			w, err := r.engine.writer.InsertBatch(ctx, r.table, batch)
			if err != nil {
				return err
			}
			written = w
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			if r.engine.m != nil {
				r.engine.m.RecordRetry("insert_batch")
			}
			return false, err
		}

		r.rowsDone += written
		r.lastWrittenBatch = written
		if batch.MaxTemporal != "" {
			r.watermark = batch.MaxTemporal
		}
		iterations++
		if r.engine.m != nil {
			r.engine.m.RecordBatch(r.table, written)
		}

		if r.spec.Kind != RunTest {
			if err := r.engine.state.WriteCheckpoint(&ProgressCheckpoint{
				RunID: r.spec.RunID, TargetTable: r.spec.Binding.TargetTable,
				RowsDone: r.rowsDone, LastBatchWatermark: nonEmptyPtr(r.watermark),
				StartedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
			}); err != nil {
				return false, err
			}
		}

		r.emit(SyncEvent{Type: EventProgress, RunID: r.spec.RunID, Phase: PhaseCopy, RowsDone: r.rowsDone})

		if r.spec.Kind == RunTest && r.rowsDone >= int64(r.spec.MaxRows) && r.spec.MaxRows > 0 {
			break
		}
	}
	return false, nil
}

// finalizePhase implements spec §4.6 step 4.
func (r *runState) finalizePhase(ctx context.Context) (SyncEvent, error) {
	r.emit(SyncEvent{Type: EventProgress, RunID: r.spec.RunID, Phase: PhaseFinalize})

	switch r.spec.Kind {
	case RunTest:
		if err := r.engine.writer.DropTable(ctx, r.table); err != nil {
			return SyncEvent{}, err
		}
	default:
		mapping, err := r.engine.state.LoadMapping(r.spec.Binding.TargetTable)
		version := 1
		if err == nil {
			version = mapping.Version
		}

		// totalRows is cumulative since the last full sync: a full sync
		// reloads the table from scratch, so it resets the count; an
		// incremental sync adds its rows onto whatever was already stored.
		totalRows := r.rowsDone
		if r.spec.Kind == RunIncremental {
			prior, err := r.engine.state.LoadState(r.spec.Binding.TargetTable)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return SyncEvent{}, err
			}
			if prior != nil {
				totalRows += prior.TotalRows
			}
		}

		if err := r.engine.state.SaveState(r.spec.Binding.TargetTable, &SyncState{
			LastSyncAt:     ptrTime(time.Now().UTC()),
			LastWatermark:  nonEmptyPtr(r.watermark),
			LastBatchCount: int(r.lastWrittenBatch),
			TotalRows:      totalRows,
			MappingVersion: version,
			Status:         StatusCompleted,
		}); err != nil {
			return SyncEvent{}, err
		}
		if err := r.engine.state.ClearCheckpoint(r.spec.Binding.TargetTable); err != nil {
			return SyncEvent{}, err
		}
	}

	ev := SyncEvent{
		Type: EventCompleted, RunID: r.spec.RunID,
		RowsLoaded: r.rowsDone, DurationSeconds: time.Since(r.start).Seconds(),
	}
	r.emit(ev)
	return ev, nil
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ptrTime(t time.Time) *time.Time { return &t }
