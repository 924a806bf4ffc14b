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
	"testing"
	"time"
)

// mockOracleRows is a hand-rolled fake satisfying OracleRows.
type mockOracleRows struct {
	cols     []string
	data     [][]any
	pos      int
	closed   bool
	scanErr  error
	closeErr error
}

func (m *mockOracleRows) Next() bool {
	if m.pos >= len(m.data) {
		return false
	}
	m.pos++
	return true
}

func (m *mockOracleRows) Scan(dest ...any) error {
	if m.scanErr != nil {
		return m.scanErr
	}
	row := m.data[m.pos-1]
	for i, v := range row {
		ptr := dest[i].(*any)
		*ptr = v
	}
	return nil
}

func (m *mockOracleRows) Columns() ([]string, error) { return m.cols, nil }
func (m *mockOracleRows) Err() error                 { return nil }
func (m *mockOracleRows) Close() error               { m.closed = true; return m.closeErr }

// mockOracleDB is a hand-rolled fake satisfying OracleDB.
type mockOracleDB struct {
	queryFunc func(ctx context.Context, query string, args ...any) (OracleRows, error)
	pingFunc  func(ctx context.Context) error
	closed    bool
}

func (m *mockOracleDB) QueryContext(ctx context.Context, query string, args ...any) (OracleRows, error) {
	return m.queryFunc(ctx, query, args...)
}

func (m *mockOracleDB) PingContext(ctx context.Context) error {
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

func (m *mockOracleDB) Close() error { m.closed = true; return nil }

func newTestReaderWithDB(db OracleDB) *OracleReader {
	return &OracleReader{cfg: &OracleConfig{}, db: db, opened: true}
}

func TestOracleCursor_NextBatch_RespectsLimit(t *testing.T) {
	// Column order mirrors a SELECT * catalog order where the temporal
	// key is NOT physically first (spec's S1 table: ID, TS, V, NOTE).
	rows := &mockOracleRows{
		cols: []string{"ID", "TS"},
		data: [][]any{
			{1, "2026-01-01T00:00:00Z"},
			{2, "2026-01-01T00:00:01Z"},
			{3, "2026-01-01T00:00:02Z"},
		},
	}
	cur := &oracleCursor{rows: rows, columns: rows.cols, temporalIdx: 1}

	batch, err := cur.NextBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("NextBatch returned unexpected error: %v", err)
	}
	if len(batch.Rows) != 2 {
		t.Fatalf("len(batch.Rows) = %d, want 2", len(batch.Rows))
	}
	if batch.MaxTemporal != "2026-01-01T00:00:01Z" {
		t.Errorf("MaxTemporal = %q, want second row's TS", batch.MaxTemporal)
	}

	batch2, err := cur.NextBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("NextBatch returned unexpected error: %v", err)
	}
	if len(batch2.Rows) != 1 {
		t.Fatalf("len(batch2.Rows) = %d, want 1 (remaining row)", len(batch2.Rows))
	}

	batch3, err := cur.NextBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("NextBatch after exhaustion returned error: %v", err)
	}
	if !batch3.Empty() {
		t.Errorf("expected empty batch once exhausted, got %d rows", len(batch3.Rows))
	}
}

func TestTemporalColumnIndex_FindsKeyRegardlessOfPosition(t *testing.T) {
	binding := &TableBinding{TemporalKey: []string{"TS"}}
	if got := temporalColumnIndex([]string{"ID", "TS", "V", "NOTE"}, binding); got != 1 {
		t.Errorf("temporalColumnIndex = %d, want 1", got)
	}
	if got := temporalColumnIndex([]string{"TS", "ID"}, binding); got != 0 {
		t.Errorf("temporalColumnIndex = %d, want 0", got)
	}
	if got := temporalColumnIndex([]string{"ID", "V"}, binding); got != -1 {
		t.Errorf("temporalColumnIndex = %d, want -1 (not present)", got)
	}
	if got := temporalColumnIndex([]string{"ID", "TS"}, &TableBinding{}); got != -1 {
		t.Errorf("temporalColumnIndex = %d, want -1 (no temporal key configured)", got)
	}
}

func TestMaxTemporalInBatch_UsesTemporalIdx_NotColumnZero(t *testing.T) {
	batch := &Batch{
		Columns: []string{"ID", "TS"},
		Rows: [][]any{
			{1, "2026-01-01T00:00:00Z"},
			{2, "2026-01-01T00:00:01Z"},
		},
	}
	if got := maxTemporalInBatch(batch, 1); got != "2026-01-01T00:00:01Z" {
		t.Errorf("maxTemporalInBatch = %q, want max TS", got)
	}
	if got := maxTemporalInBatch(batch, -1); got != "" {
		t.Errorf("maxTemporalInBatch with no temporal key = %q, want empty", got)
	}
}

func TestOracleCursor_NextBatch_NormalizesTime(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("EST", -5*3600))
	rows := &mockOracleRows{
		cols: []string{"TS"},
		data: [][]any{{ts}},
	}
	cur := &oracleCursor{rows: rows, columns: rows.cols}

	batch, err := cur.NextBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("NextBatch returned unexpected error: %v", err)
	}
	got, ok := batch.Rows[0][0].(string)
	if !ok {
		t.Fatalf("expected normalized time to be a string, got %T", batch.Rows[0][0])
	}
	if got != ts.UTC().Format(time.RFC3339Nano) {
		t.Errorf("normalized time = %q, want %q", got, ts.UTC().Format(time.RFC3339Nano))
	}
}

func TestOracleCursor_NextBatch_ScanError(t *testing.T) {
	rows := &mockOracleRows{
		cols:    []string{"ID"},
		data:    [][]any{{1}},
		scanErr: errors.New("scan boom"),
	}
	cur := &oracleCursor{rows: rows, columns: rows.cols}

	_, err := cur.NextBatch(context.Background(), 10)
	if err == nil {
		t.Fatal("expected error from Scan failure")
	}
	if KindOf(err) != ErrSourceReadError {
		t.Errorf("KindOf(err) = %v, want %v", KindOf(err), ErrSourceReadError)
	}
	if !IsRetryable(err) {
		t.Error("SourceReadError must be retryable")
	}
}

func TestOracleCursor_Close_Idempotent(t *testing.T) {
	rows := &mockOracleRows{cols: []string{"ID"}}
	cur := &oracleCursor{rows: rows, columns: rows.cols}

	if err := cur.Close(); err != nil {
		t.Fatalf("first Close returned error: %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	if !rows.closed {
		t.Error("expected underlying rows to be closed")
	}
}

func TestOracleReader_OpenIncremental_RequiresTemporalKey(t *testing.T) {
	r := newTestReaderWithDB(&mockOracleDB{})
	binding := &TableBinding{SourceTable: "EVENTS", TargetTable: "events", BatchSize: 100}

	_, err := r.OpenIncremental(context.Background(), binding, "2026-01-01T00:00:00Z")
	if err == nil {
		t.Fatal("expected error for missing temporalKey")
	}
	if KindOf(err) != ErrConfigInvalid {
		t.Errorf("KindOf(err) = %v, want %v", KindOf(err), ErrConfigInvalid)
	}
}

func TestOracleReader_OpenIncremental_IssuesWatermarkPredicate(t *testing.T) {
	var capturedQuery string
	var capturedArgs []any
	db := &mockOracleDB{
		queryFunc: func(ctx context.Context, query string, args ...any) (OracleRows, error) {
			capturedQuery = query
			capturedArgs = args
			return &mockOracleRows{cols: []string{"TS", "ID"}}, nil
		},
	}
	r := newTestReaderWithDB(db)
	binding := &TableBinding{
		SourceTable: "EVENTS", TargetTable: "events", BatchSize: 100,
		TemporalKey: []string{"TS"},
	}

	cur, err := r.OpenIncremental(context.Background(), binding, "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("OpenIncremental returned unexpected error: %v", err)
	}
	defer cur.Close()

	if capturedQuery == "" {
		t.Fatal("expected a query to be issued")
	}
	if len(capturedArgs) != 1 || capturedArgs[0] != "2026-01-01T00:00:00Z" {
		t.Errorf("capturedArgs = %v, want [watermark]", capturedArgs)
	}
}

func TestOracleReader_Describe_TableMissing(t *testing.T) {
	db := &mockOracleDB{
		queryFunc: func(ctx context.Context, query string, args ...any) (OracleRows, error) {
			return &mockOracleRows{cols: []string{"COLUMN_NAME", "DATA_TYPE", "DATA_PRECISION", "DATA_SCALE", "NULLABLE"}}, nil
		},
	}
	r := newTestReaderWithDB(db)
	binding := &TableBinding{SourceTable: "MISSING", TargetTable: "missing", BatchSize: 100}

	_, err := r.Describe(context.Background(), binding)
	if err == nil {
		t.Fatal("expected SchemaUnknown for empty catalog result")
	}
	if KindOf(err) != ErrSchemaUnknown {
		t.Errorf("KindOf(err) = %v, want %v", KindOf(err), ErrSchemaUnknown)
	}
}

func TestOracleReader_Ping_WrapsFailure(t *testing.T) {
	db := &mockOracleDB{
		pingFunc: func(ctx context.Context) error { return errors.New("connection refused") },
	}
	r := newTestReaderWithDB(db)

	err := r.Ping(context.Background())
	if err == nil {
		t.Fatal("expected ping error")
	}
	if KindOf(err) != ErrSourceUnavailable {
		t.Errorf("KindOf(err) = %v, want %v", KindOf(err), ErrSourceUnavailable)
	}
	if !IsRetryable(err) {
		t.Error("SourceUnavailable must be retryable")
	}
}
