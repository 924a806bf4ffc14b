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
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	go_ora "github.com/sijms/go-ora/v2"
	"go.uber.org/zap"
)

// OracleRows abstracts *sql.Rows for testability.
type OracleRows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// OracleDB abstracts the subset of database/sql the Oracle reader needs.
type OracleDB interface {
	QueryContext(ctx context.Context, query string, args ...any) (OracleRows, error)
	PingContext(ctx context.Context) error
	Close() error
}

// sqlOracleAdapter wraps *sql.DB so its *sql.Rows satisfy OracleRows.
type sqlOracleAdapter struct {
	db *sql.DB
}

func (a *sqlOracleAdapter) QueryContext(ctx context.Context, query string, args ...any) (OracleRows, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (a *sqlOracleAdapter) PingContext(ctx context.Context) error { return a.db.PingContext(ctx) }
func (a *sqlOracleAdapter) Close() error                          { return a.db.Close() }

// OracleConfig carries the source.* connection parameters of spec §6.
type OracleConfig struct {
	Host    string
	Port    int
	Service string
	User    string
	Password string
}

// DSN builds the go-ora connection URL. The password never appears in
// logs or error messages — callers must not format *OracleConfig directly.
func (c *OracleConfig) DSN() string {
	return go_ora.BuildUrl(c.Host, c.Port, c.Service, c.User, c.Password, nil)
}

// OracleReader implements SourceReader against an Oracle database using
// the pure-Go go-ora driver. Shape mirrors the teacher's
// snowflake.Provider: an interface-typed DB field set up lazily, guarded
// by a mutex, with a thin adapter bridging *sql.DB to our interfaces.
type OracleReader struct {
	cfg *OracleConfig
	log *zap.SugaredLogger

	mu     sync.RWMutex
	db     OracleDB
	opened bool
}

// NewOracleReader constructs a reader. The connection is established by
// the first call that needs it (Ping, Describe, Open*).
func NewOracleReader(cfg *OracleConfig, log *zap.SugaredLogger) *OracleReader {
	return &OracleReader{cfg: cfg, log: log}
}

func (r *OracleReader) ensureOpen() (OracleDB, error) {
	r.mu.RLock()
	if r.opened {
		db := r.db
		r.mu.RUnlock()
		return db, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return r.db, nil
	}
	sqlDB, err := sql.Open("oracle", r.cfg.DSN())
	if err != nil {
		return nil, newError(ErrSourceUnavailable, true, "opening oracle connection", err)
	}
	r.db = &sqlOracleAdapter{db: sqlDB}
	r.opened = true
	return r.db, nil
}

// Ping verifies connectivity.
func (r *OracleReader) Ping(ctx context.Context) error {
	db, err := r.ensureOpen()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return newError(ErrSourceUnavailable, true, "oracle ping failed", err)
	}
	return nil
}

// Close releases the underlying connection pool. Idempotent.
func (r *OracleReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened {
		return nil
	}
	r.opened = false
	return r.db.Close()
}

func qualifiedTable(binding *TableBinding) (string, error) {
	table, err := quoteIdent(binding.SourceTable)
	if err != nil {
		return "", err
	}
	if binding.SourceSchema == "" {
		return table, nil
	}
	schema, err := quoteIdent(binding.SourceSchema)
	if err != nil {
		return "", err
	}
	return schema + "." + table, nil
}

// Describe returns column metadata from Oracle's ALL_TAB_COLUMNS catalog.
// No row data is read.
func (r *OracleReader) Describe(ctx context.Context, binding *TableBinding) ([]ColumnSpec, error) {
	db, err := r.ensureOpen()
	if err != nil {
		return nil, err
	}

	schema := strings.ToUpper(binding.SourceSchema)
	query := `SELECT column_name, data_type, data_precision, data_scale, nullable
		FROM all_tab_columns
		WHERE table_name = :1`
	args := []any{strings.ToUpper(binding.SourceTable)}
	if schema != "" {
		query += ` AND owner = :2`
		args = append(args, schema)
	}
	query += ` ORDER BY column_id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newError(ErrSourceReadError, true, "describing "+binding.SourceTable, err)
	}
	defer rows.Close()

	pkSet := map[string]bool{}
	for _, k := range binding.PrimaryKey {
		pkSet[strings.ToUpper(k)] = true
	}
	temporalSet := map[string]bool{}
	for _, k := range binding.TemporalKey {
		temporalSet[strings.ToUpper(k)] = true
	}

	var specs []ColumnSpec
	for rows.Next() {
		var (
			name      string
			dataType  string
			precision sql.NullInt64
			scale     sql.NullInt64
			nullable  string
		)
		if err := rows.Scan(&name, &dataType, &precision, &scale, &nullable); err != nil {
			return nil, newError(ErrSourceReadError, true, "scanning column metadata", err)
		}
		sourceType := formatOracleType(dataType, precision, scale)
		target, err := MapSourceType(sourceType)
		if err != nil {
			return nil, err
		}
		specs = append(specs, ColumnSpec{
			Name:         name,
			SourceType:   sourceType,
			TargetType:   target,
			Nullable:     nullable == "Y",
			IsPrimaryKey: pkSet[strings.ToUpper(name)],
			IsTemporal:   temporalSet[strings.ToUpper(name)],
		})
	}
	if err := rows.Err(); err != nil {
		return nil, newError(ErrSourceReadError, true, "iterating column metadata", err)
	}
	if len(specs) == 0 {
		return nil, newError(ErrSchemaUnknown, false, "table "+binding.SourceTable+" not found", nil)
	}
	return specs, nil
}

func formatOracleType(dataType string, precision, scale sql.NullInt64) string {
	if dataType != "NUMBER" || !precision.Valid {
		return dataType
	}
	if scale.Valid {
		return fmt.Sprintf("NUMBER(%d,%d)", precision.Int64, scale.Int64)
	}
	return fmt.Sprintf("NUMBER(%d,0)", precision.Int64)
}

// OpenFull positions a cursor at the beginning of the source table.
func (r *OracleReader) OpenFull(ctx context.Context, binding *TableBinding) (Cursor, error) {
	table, err := qualifiedTable(binding)
	if err != nil {
		return nil, err
	}
	order, err := orderByClause(binding)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", table, order)
	return r.openQuery(ctx, query, binding)
}

// OpenIncremental positions a cursor at rows whose first temporalKey
// column strictly exceeds watermark; further key columns only take part
// in the ORDER BY. The predicate and ordering are issued once; the
// returned cursor's underlying rows handle is never re-queried.
func (r *OracleReader) OpenIncremental(ctx context.Context, binding *TableBinding, watermark string) (Cursor, error) {
	if err := binding.RequireIncremental(); err != nil {
		return nil, err
	}
	table, err := qualifiedTable(binding)
	if err != nil {
		return nil, err
	}
	key, err := quoteIdent(binding.TemporalKey[0])
	if err != nil {
		return nil, err
	}
	order, err := orderByClause(binding)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s > :1 ORDER BY %s", table, key, order)
	return r.openQuery(ctx, query, binding, watermark)
}

// OpenLimited caps a full scan to the first maxRows rows; used by testSync.
func (r *OracleReader) OpenLimited(ctx context.Context, binding *TableBinding, maxRows int) (Cursor, error) {
	table, err := qualifiedTable(binding)
	if err != nil {
		return nil, err
	}
	order, err := orderByClause(binding)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM (SELECT * FROM %s ORDER BY %s) WHERE ROWNUM <= %d", table, order, maxRows)
	return r.openQuery(ctx, query, binding)
}

func orderByClause(binding *TableBinding) (string, error) {
	if len(binding.TemporalKey) > 0 {
		return quoteIdentList(binding.TemporalKey)
	}
	return quoteIdentList(binding.PrimaryKey)
}

func (r *OracleReader) openQuery(ctx context.Context, query string, binding *TableBinding, args ...any) (Cursor, error) {
	db, err := r.ensureOpen()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newError(ErrSourceReadError, true, "opening cursor", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, newError(ErrSourceReadError, true, "reading columns", err)
	}
	// SELECT * preserves the table's catalog-defined column order, not
	// orderByClause's order, so the temporal key's position must be
	// looked up by name rather than assumed to be column 0.
	return &oracleCursor{rows: rows, columns: cols, temporalIdx: temporalColumnIndex(cols, binding), log: r.log}, nil
}

// temporalColumnIndex finds the position of binding's primary temporal
// key column within cols, or -1 if the binding has no temporal key or
// the column isn't present in the projection.
func temporalColumnIndex(cols []string, binding *TableBinding) int {
	if len(binding.TemporalKey) == 0 {
		return -1
	}
	key := binding.TemporalKey[0]
	for i, c := range cols {
		if strings.EqualFold(c, key) {
			return i
		}
	}
	return -1
}

// oracleCursor implements Cursor over an open OracleRows handle. The
// server-side cursor is preserved across NextBatch calls — rows already
// scanned are never re-fetched, satisfying the snapshot-stability
// requirement for non-unique temporal keys.
type oracleCursor struct {
	rows        OracleRows
	columns     []string
	temporalIdx int
	exhausted   bool
	log         *zap.SugaredLogger
}

// NextBatch scans up to n rows. Temporal-looking values (time.Time) are
// normalized to RFC3339 UTC; all other values pass through unchanged.
func (c *oracleCursor) NextBatch(ctx context.Context, n int) (*Batch, error) {
	if c.exhausted {
		return &Batch{Columns: c.columns}, nil
	}

	batch := &Batch{Columns: c.columns}
	scanDest := make([]any, len(c.columns))
	scanVals := make([]any, len(c.columns))
	for i := range scanDest {
		scanDest[i] = &scanVals[i]
	}

	for len(batch.Rows) < n {
		select {
		case <-ctx.Done():
			return nil, newError(ErrTimeout, false, "cursor scan cancelled", ctx.Err())
		default:
		}
		if !c.rows.Next() {
			c.exhausted = true
			break
		}
		if err := c.rows.Scan(scanDest...); err != nil {
			return nil, newError(ErrSourceReadError, true, "scanning row", err)
		}
		row := make([]any, len(c.columns))
		for i, v := range scanVals {
			row[i] = normalizeTemporal(v)
		}
		batch.Rows = append(batch.Rows, row)
	}
	if err := c.rows.Err(); err != nil {
		return nil, newError(ErrSourceReadError, true, "cursor iteration error", err)
	}

	batch.MaxTemporal = maxTemporalInBatch(batch, c.temporalIdx)
	return batch, nil
}

func normalizeTemporal(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// maxTemporalInBatch reads temporalIdx (the catalog position of the
// binding's temporal key, resolved by name in openQuery) from the last
// row of the batch. Because rows arrive in ascending temporal order
// (orderByClause), the last row holds the maximum. Returns "" if the
// batch is empty or the binding has no temporal key.
func maxTemporalInBatch(b *Batch, temporalIdx int) string {
	if len(b.Rows) == 0 || temporalIdx < 0 || temporalIdx >= len(b.Columns) {
		return ""
	}
	last := b.Rows[len(b.Rows)-1][temporalIdx]
	switch v := last.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Close releases the underlying rows handle. Idempotent.
func (c *oracleCursor) Close() error {
	if c.rows == nil {
		return nil
	}
	err := c.rows.Close()
	c.rows = nil
	return err
}
