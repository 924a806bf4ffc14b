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
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultEventChannelCapacity is the buffered size of a Worker's event
// stream. Once full, Progress events are dropped (and counted); Started,
// Paused, Resumed, Stopped, Failed and Completed are never dropped.
const DefaultEventChannelCapacity = 1000

// DefaultPausePollInterval is how often the pause gate is consulted
// between batches while a run is paused.
const DefaultPausePollInterval = 250 * time.Millisecond

// Worker runs exactly one sync at a time in the background, grounded on
// the teacher's EvalWorker.Start(ctx)-blocks-until-cancelled shape: here
// Start spawns its own goroutine so the caller is never blocked, and
// progress streams out over a bounded channel instead of Redis.
type Worker struct {
	engine *Engine
	log    *zap.SugaredLogger

	capacity     int
	pausePoll    time.Duration
	events       chan SyncEvent
	droppedTotal int64

	mu         sync.Mutex
	running    bool
	paused     bool
	cancel     context.CancelFunc
	status     Status
	runID      string
	table      string
	stopReason string

	rowsDone  int64
	rowsTotal *int64
}

// NewWorker constructs a Worker around engine. capacity <= 0 selects
// DefaultEventChannelCapacity.
func NewWorker(engine *Engine, capacity int, log *zap.SugaredLogger) *Worker {
	if capacity <= 0 {
		capacity = DefaultEventChannelCapacity
	}
	return &Worker{
		engine:    engine,
		log:       log,
		capacity:  capacity,
		pausePoll: DefaultPausePollInterval,
		events:    make(chan SyncEvent, capacity),
		status:    StatusIdle,
	}
}

// Start spawns a goroutine running spec and returns immediately with the
// run's id. Returns ErrBusy if a run is already active — a Worker
// executes at most one run at a time.
func (w *Worker) Start(ctx context.Context, spec RunSpec) (string, error) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return "", ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.paused = false
	w.status = StatusRunning
	w.cancel = cancel
	w.runID = spec.RunID
	w.table = spec.Binding.TargetTable
	w.rowsDone = 0
	w.rowsTotal = nil
	w.stopReason = ""
	w.mu.Unlock()

	go w.run(runCtx, spec)

	return spec.RunID, nil
}

func (w *Worker) run(ctx context.Context, spec RunSpec) {
	ev, err := w.engine.Run(ctx, spec, w.deliver, w.gate, w.readStopReason)

	w.mu.Lock()
	w.running = false
	w.paused = false
	switch {
	case err != nil:
		w.status = StatusFailed
	case ev.Type == EventStopped:
		w.status = StatusStopped
	case ev.Type == EventFailed:
		w.status = StatusFailed
	default:
		w.status = StatusCompleted
	}
	w.cancel = nil
	w.mu.Unlock()

	if w.log != nil {
		w.log.Infow("sync run finished", "runId", spec.RunID, "table", w.table, "status", w.status, "error", err)
	}
}

// deliver is the engine's ProgressFunc. It tracks rows-done/rows-total
// for Status snapshots and pushes onto the bounded channel, dropping
// Progress events (and only Progress events) when the channel is full.
func (w *Worker) deliver(ev SyncEvent) {
	if ev.Type == EventProgress || ev.Type == EventCompleted {
		w.mu.Lock()
		w.rowsDone = ev.RowsDone
		if ev.Type == EventCompleted {
			w.rowsDone = ev.RowsLoaded
		}
		if ev.RowsTotal != nil {
			w.rowsTotal = ev.RowsTotal
		}
		w.mu.Unlock()
	}

	if ev.Type != EventProgress {
		w.events <- ev
		return
	}

	w.mu.Lock()
	if w.droppedTotal > 0 {
		ev.DroppedEvents = w.droppedTotal
	}
	w.mu.Unlock()

	select {
	case w.events <- ev:
	default:
		w.mu.Lock()
		w.droppedTotal++
		w.mu.Unlock()
		if w.log != nil {
			w.log.Warnw("dropping progress event, channel full", "runId", ev.RunID, "table", ev.Table)
		}
	}
}

// gate is the engine's PauseGate. It blocks the copy loop while paused,
// polling at pausePoll, and emits exactly one Paused event on entry and
// one Resumed event on release.
func (w *Worker) gate(ctx context.Context) error {
	w.mu.Lock()
	paused := w.paused
	runID, table := w.runID, w.table
	w.mu.Unlock()
	if !paused {
		return nil
	}

	w.events <- SyncEvent{Type: EventPaused, RunID: runID, Table: table}

	ticker := time.NewTicker(w.pausePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.mu.Lock()
			stillPaused := w.paused
			w.mu.Unlock()
			if !stillPaused {
				w.events <- SyncEvent{Type: EventResumed, RunID: runID, Table: table}
				return nil
			}
		}
	}
}

// Pause requests that the active run suspend between batches. A no-op
// if no run is active or it is already paused.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.paused = true
		w.status = StatusPaused
	}
}

// Resume releases a paused run. A no-op if no run is active or it is
// not paused.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running && w.paused {
		w.paused = false
		w.status = StatusRunning
	}
}

// Stop raises the cancellation signal for the active run, if any. The
// run itself is responsible for emitting the resulting Stopped event,
// using reason; Stop only requests cancellation and does not block for
// it.
func (w *Worker) Stop(reason string) {
	w.mu.Lock()
	w.stopReason = reason
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// readStopReason is the Engine's StopReasonFunc for this worker.
func (w *Worker) readStopReason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopReason
}

// Events returns the worker's event stream. Callers should keep reading
// until the channel reports a terminal event (Stopped, Failed,
// Completed); the channel itself is never closed.
func (w *Worker) Events() <-chan SyncEvent {
	return w.events
}

// WorkerStatus is a point-in-time snapshot of a Worker's active (or
// most recently finished) run, enriched with the dropped-event counter
// the same way queue.JobProgress enriches raw work-item counts.
type WorkerStatus struct {
	Status        Status
	RunID         string
	Table         string
	RowsDone      int64
	RowsTotal     *int64
	DroppedEvents int64
}

// Status returns a snapshot of the worker's current state.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStatus{
		Status:        w.status,
		RunID:         w.runID,
		Table:         w.table,
		RowsDone:      w.rowsDone,
		RowsTotal:     w.rowsTotal,
		DroppedEvents: w.droppedTotal,
	}
}
