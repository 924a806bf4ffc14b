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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	internalconfig "github.com/jwleepro/oracle-duckdb-sync/internal/config"
	"github.com/jwleepro/oracle-duckdb-sync/internal/dbsync"
	"github.com/jwleepro/oracle-duckdb-sync/pkg/metrics"
)

// flags groups all CLI flags for the sync binary.
type flags struct {
	mode        string // test | full | incremental | serve
	metricsAddr string

	sourceHost     string
	sourcePort     int
	sourceService  string
	sourceUser     string
	sourcePassword string

	analyticsPath     string
	analyticsDatabase string
	stateDir          string

	sourceSchema string
	sourceTable  string
	targetTable  string
	primaryKey   string
	temporalKey  string
	batchSize    int
	maxRows      int

	cronSchedule string
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.mode, "mode", "incremental", "Run mode: test, full, incremental, serve")
	flag.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "Metrics address")

	flag.StringVar(&f.sourceHost, "source-host", "", "Oracle host")
	flag.IntVar(&f.sourcePort, "source-port", 1521, "Oracle port")
	flag.StringVar(&f.sourceService, "source-service", "", "Oracle service name")
	flag.StringVar(&f.sourceUser, "source-user", "", "Oracle user")
	flag.StringVar(&f.sourcePassword, "source-password", "", "Oracle password")

	flag.StringVar(&f.analyticsPath, "analytics-path", "", "DuckDB file path")
	flag.StringVar(&f.analyticsDatabase, "analytics-database", "", "Logical database name")
	flag.StringVar(&f.stateDir, "state-dir", "", "State directory")

	flag.StringVar(&f.sourceSchema, "source-schema", "", "Oracle schema owning the source table")
	flag.StringVar(&f.sourceTable, "source-table", "", "Oracle source table")
	flag.StringVar(&f.targetTable, "target-table", "", "Analytics target table")
	flag.StringVar(&f.primaryKey, "primary-key", "", "Comma-separated primary key columns")
	flag.StringVar(&f.temporalKey, "temporal-key", "", "Comma-separated temporal key columns")
	flag.IntVar(&f.batchSize, "batch-size", 0, "Rows per batch")
	flag.IntVar(&f.maxRows, "max-rows", 100, "Row cap for test mode")

	flag.StringVar(&f.cronSchedule, "schedule", "", "Cron schedule for serve mode (standard 5-field)")
	flag.Parse()

	if f.sourceHost == "" {
		f.sourceHost = os.Getenv("SOURCE_HOST")
	}
	if f.sourceUser == "" {
		f.sourceUser = os.Getenv("SOURCE_USER")
	}
	if f.sourcePassword == "" {
		f.sourcePassword = os.Getenv("SOURCE_PASSWORD")
	}
	if f.analyticsPath == "" {
		f.analyticsPath = os.Getenv("ANALYTICS_PATH")
	}
	if f.stateDir == "" {
		f.stateDir = os.Getenv("STATE_DIR")
	}
	return f
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	syncMetrics := metrics.NewSyncMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: f.metricsAddr, Handler: mux}
	go func() {
		log.Infow("starting metrics server", "addr", f.metricsAddr)
		if srvErr := srv.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Errorw("metrics server error", "error", srvErr)
		}
	}()
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
	}()

	cfg := internalconfig.Config{
		Source: internalconfig.SourceConfig{
			Host: f.sourceHost, Port: f.sourcePort, Service: f.sourceService,
			User: f.sourceUser, Password: f.sourcePassword,
		},
		Analytics: internalconfig.AnalyticsConfig{Path: f.analyticsPath, Database: f.analyticsDatabase},
		StateDir:  f.stateDir,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	binding := &dbsync.TableBinding{
		SourceSchema: f.sourceSchema,
		SourceTable:  f.sourceTable,
		TargetTable:  f.targetTable,
		PrimaryKey:   splitCSV(f.primaryKey),
		TemporalKey:  splitCSV(f.temporalKey),
		BatchSize:    orDefault(f.batchSize, cfg.BatchSize),
	}
	if err := binding.Validate(); err != nil {
		return fmt.Errorf("invalid table binding: %w", err)
	}

	source := dbsync.NewOracleReader(&dbsync.OracleConfig{
		Host: cfg.Source.Host, Port: cfg.Source.Port, Service: cfg.Source.Service,
		User: cfg.Source.User, Password: cfg.Source.Password,
	}, log)
	defer source.Close()

	writer, err := dbsync.NewDuckDBWriter(cfg.Analytics.Path, cfg.Analytics.Database, log)
	if err != nil {
		return fmt.Errorf("opening analytics store: %w", err)
	}
	defer writer.Close()

	state, err := dbsync.NewStateStore(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	lock := dbsync.NewSyncLock(state.LockPath(), time.Duration(cfg.LockStaleSeconds)*time.Second, log)

	engineCfg := dbsync.EngineConfig{
		MaxDuration:   time.Duration(cfg.MaxDurationSeconds) * time.Second,
		MaxIterations: cfg.MaxIterations,
		PauseInterval: dbsync.DefaultPausePollInterval,
		Retry: dbsync.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseMs) * time.Millisecond,
			CapDelay:    time.Duration(cfg.Retry.CapMs) * time.Millisecond,
			Jitter:      cfg.Retry.Jitter,
		},
	}
	engine := dbsync.NewEngine(source, writer, state, engineCfg, syncMetrics, log)
	worker := dbsync.NewWorker(engine, cfg.ProgressChannelCap, log)

	switch f.mode {
	case "serve":
		return serve(ctx, f, binding, worker, lock, state, writer, syncMetrics, log)
	case "test", "full", "incremental":
		return runOnce(ctx, f, f.mode, binding, lock, worker, log)
	default:
		return fmt.Errorf("unknown mode %q", f.mode)
	}
}

// runOnce acquires the lock, starts a single run of kind, and blocks
// for its terminal event — the behavior of the testSync/fullSync/
// incrementalSync programmatic verbs invoked from a CLI context.
func runOnce(ctx context.Context, f *flags, kind string, binding *dbsync.TableBinding, lock *dbsync.SyncLock, worker *dbsync.Worker, log *zap.SugaredLogger) error {
	handle, err := lock.Acquire("cli", 30*time.Second)
	if err != nil {
		return fmt.Errorf("acquiring sync lock: %w", err)
	}
	defer lock.Release(handle)

	spec := dbsync.RunSpec{RunID: fmt.Sprintf("cli-%d", time.Now().UnixNano()), Kind: dbsync.RunKind(kind), Binding: binding, MaxRows: f.maxRows}
	if _, err := worker.Start(ctx, spec); err != nil {
		return fmt.Errorf("starting run: %w", err)
	}

	for ev := range worker.Events() {
		log.Infow("sync event", "type", ev.Type, "phase", ev.Phase, "rowsDone", ev.RowsDone, "message", ev.Message)
		switch ev.Type {
		case dbsync.EventCompleted:
			log.Infow("sync complete", "rowsLoaded", ev.RowsLoaded, "durationSeconds", ev.DurationSeconds)
			return nil
		case dbsync.EventFailed:
			return fmt.Errorf("sync failed: %s (%s)", ev.Message, ev.ErrorKind)
		case dbsync.EventStopped:
			return fmt.Errorf("sync stopped: %s", ev.Reason)
		}
	}
	return nil
}

// serve registers binding on f.cronSchedule and runs the scheduler until
// the process is signalled to stop.
func serve(ctx context.Context, f *flags, binding *dbsync.TableBinding, worker *dbsync.Worker, lock *dbsync.SyncLock, state *dbsync.StateStore, writer dbsync.AnalyticsWriter, m *metrics.SyncMetrics, log *zap.SugaredLogger) error {
	if f.cronSchedule == "" {
		return fmt.Errorf("-schedule is required in serve mode")
	}
	sched := dbsync.NewScheduler(worker, lock, state, writer, m, log)
	if err := sched.RegisterRecurring(binding.TargetTable, f.cronSchedule, binding, dbsync.JobOptions{}); err != nil {
		return fmt.Errorf("registering schedule: %w", err)
	}
	sched.Start()
	log.Infow("scheduler started", "table", binding.TargetTable, "schedule", f.cronSchedule)

	<-ctx.Done()
	log.Info("shutting down scheduler")
	sched.Stop(10 * time.Second)
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
