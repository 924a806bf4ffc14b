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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jwleepro/oracle-duckdb-sync/pkg/metrics"
)

// JobOptions configures one recurring registration.
type JobOptions struct {
	// Kind pins every fire of this job to a specific RunKind. Leave it
	// empty to auto-detect per fire: incremental by default, or full if
	// the target table doesn't exist yet (spec's "incremental by
	// default; full if the table is missing").
	Kind RunKind
	// LockTimeout bounds how long a fire waits for the sync lock before
	// treating the overlap as a skip rather than a failure. Zero means
	// "don't wait" — an overlapping previous run skips this fire
	// immediately.
	LockTimeout time.Duration
}

// JobInfo describes one registered recurring job, enriched with the
// cron entry's next scheduled fire time.
type JobInfo struct {
	Name     string
	Schedule string
	Table    string
	Next     time.Time
}

// job is the scheduler's internal bookkeeping for one registration.
type job struct {
	name     string
	schedule string
	binding  *TableBinding
	opts     JobOptions
	entryID  cron.EntryID
}

// Scheduler fires recurring sync runs on cron schedules, grounded on
// robfig/cron's standard Cron runtime. Each fire acquires the sync lock
// before running — a fire that finds the lock already held (a prior fire
// still in flight, or a manually triggered run) logs and skips instead
// of queuing, since cron fires are idempotent catch-up points, not a
// work queue.
type Scheduler struct {
	cron   *cron.Cron
	worker *Worker
	lock   *SyncLock
	state  *StateStore
	writer AnalyticsWriter
	m      *metrics.SyncMetrics
	log    *zap.SugaredLogger

	mu      sync.Mutex
	jobs    map[string]*job
	started bool
}

// NewScheduler builds a Scheduler that drives worker's runs, serialized
// against lock. writer backs each fire's missing-table auto-detection.
func NewScheduler(worker *Worker, lock *SyncLock, state *StateStore, writer AnalyticsWriter, m *metrics.SyncMetrics, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
		worker: worker,
		lock:   lock,
		state:  state,
		writer: writer,
		m:      m,
		log:    log,
		jobs:   make(map[string]*job),
	}
}

// RegisterRecurring adds a cron-scheduled sync for binding under name.
// opts.Kind, if set, pins every fire; left empty, each fire auto-detects
// incremental vs full. Returns an error if name is already registered or
// schedule fails to parse.
func (s *Scheduler) RegisterRecurring(name, schedule string, binding *TableBinding, opts JobOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return newError(ErrConfigInvalid, false, "scheduler: job "+name+" already registered", nil)
	}

	j := &job{name: name, schedule: schedule, binding: binding, opts: opts}
	entryID, err := s.cron.AddFunc(schedule, func() { s.fire(j) })
	if err != nil {
		return newError(ErrConfigInvalid, false, "scheduler: invalid schedule for "+name, err)
	}
	j.entryID = entryID
	s.jobs[name] = j
	return nil
}

// Cancel removes a registered job. Idempotent: cancelling an unknown
// name is a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, name)
}

// List returns every registered job, enriched with its next scheduled
// fire time from the underlying cron entry.
func (s *Scheduler) List() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		entry := s.cron.Entry(j.entryID)
		out = append(out, JobInfo{
			Name:     j.name,
			Schedule: j.schedule,
			Table:    j.binding.TargetTable,
			Next:     entry.Next,
		})
	}
	return out
}

// Start begins firing registered jobs. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts future fires and waits up to timeout for any in-flight fire
// to finish. Idempotent.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(timeout):
		if s.log != nil {
			s.log.Warnw("scheduler stop timed out waiting for in-flight fire", "timeout", timeout)
		}
	}
}

// fire runs one scheduled invocation of j: acquire the sync lock,
// start the worker, wait for a terminal event, release the lock.
func (s *Scheduler) fire(j *job) {
	holderID := "scheduler:" + j.name
	handle, err := s.lock.Acquire(holderID, j.opts.LockTimeout)
	if err != nil {
		if err == ErrBusy {
			if s.m != nil {
				s.m.RecordLockBusy()
			}
			if s.log != nil {
				s.log.Infow("skipping scheduled fire, lock busy", "job", j.name, "table", j.binding.TargetTable, "reason", "overlap")
			}
			return
		}
		if s.log != nil {
			s.log.Errorw("scheduler failed to acquire lock", "job", j.name, "error", err)
		}
		return
	}
	defer s.lock.Release(handle)

	kind := j.opts.Kind
	if kind == "" {
		kind = RunIncremental
		if s.writer != nil {
			exists, err := s.writer.TableExists(context.Background(), j.binding.TargetTable)
			if err != nil {
				if s.log != nil {
					s.log.Errorw("scheduler failed to check target table", "job", j.name, "error", err)
				}
				return
			}
			if !exists {
				kind = RunFull
			}
		}
	}

	runID := fmt.Sprintf("%s-%s", j.name, newRunSuffix())
	spec := RunSpec{RunID: runID, Kind: kind, Binding: j.binding}

	if _, err := s.worker.Start(context.Background(), spec); err != nil {
		if s.log != nil {
			s.log.Errorw("scheduler failed to start worker", "job", j.name, "error", err)
		}
		return
	}

	for ev := range s.worker.Events() {
		switch ev.Type {
		case EventCompleted, EventFailed, EventStopped:
			return
		}
	}
}

// newRunSuffix generates the unique portion of a scheduled run's id.
func newRunSuffix() string {
	return uuid.NewString()
}
