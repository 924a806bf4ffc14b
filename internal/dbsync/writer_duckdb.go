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

	_ "github.com/marcboeker/go-duckdb/v2" // registers the "duckdb" database/sql driver
	"go.uber.org/zap"
)

// duckdbTypeFor maps a TargetType to its DuckDB column type.
func duckdbTypeFor(t TargetType) (string, error) {
	switch t {
	case TargetInteger:
		return "BIGINT", nil
	case TargetDecimal:
		return "DECIMAL(38,9)", nil
	case TargetDouble:
		return "DOUBLE", nil
	case TargetVarChar:
		return "VARCHAR", nil
	case TargetTimestamp:
		return "TIMESTAMP", nil
	default:
		return "", newError(ErrTypeUnmappable, false, "no DuckDB type for target type "+string(t), nil)
	}
}

// DuckDBWriter implements AnalyticsWriter against an embedded DuckDB file.
// There is no separate Init step: NewDuckDBWriter calls sql.Open, which
// connects lazily, so the first writer call opens the file.
type DuckDBWriter struct {
	path     string
	database string
	log      *zap.SugaredLogger
	db       *sql.DB
}

// NewDuckDBWriter opens (or creates) the DuckDB file at path. database
// (analytics.database) is stored on the writer but not used: every table
// is created and queried in the store's default database.
func NewDuckDBWriter(path, database string, log *zap.SugaredLogger) (*DuckDBWriter, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, newError(ErrAnalyticsDDL, true, "opening duckdb store at "+path, err)
	}
	return &DuckDBWriter{path: path, database: database, log: log, db: db}, nil
}

func (w *DuckDBWriter) Ping(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return newError(ErrAnalyticsWrite, true, "duckdb ping failed", err)
	}
	return nil
}

func (w *DuckDBWriter) Close() error { return w.db.Close() }

func (w *DuckDBWriter) Connection() *sql.DB { return w.db }

func (w *DuckDBWriter) TableExists(ctx context.Context, name string) (bool, error) {
	if !validIdent(name) {
		return false, newError(ErrConfigInvalid, false, "invalid table name "+name, nil)
	}
	var count int
	row := w.db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_name = ?`, name)
	if err := row.Scan(&count); err != nil {
		return false, newError(ErrAnalyticsWrite, true, "checking existence of "+name, err)
	}
	return count > 0, nil
}

func (w *DuckDBWriter) CreateTable(ctx context.Context, name string, columns []ColumnSpec, primaryKey []string) error {
	if !validIdent(name) {
		return newError(ErrConfigInvalid, false, "invalid table name "+name, nil)
	}

	var defs []string
	for _, c := range columns {
		colType, err := duckdbTypeFor(c.TargetType)
		if err != nil {
			return err
		}
		quotedCol, err := quoteIdent(c.Name)
		if err != nil {
			return err
		}
		def := quotedCol + " " + colType
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(primaryKey) > 0 {
		quotedPK, err := quoteIdentList(primaryKey)
		if err != nil {
			return err
		}
		defs = append(defs, "PRIMARY KEY ("+quotedPK+")")
	}

	quotedName, err := quoteIdent(name)
	if err != nil {
		return err
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quotedName, strings.Join(defs, ",\n  "))
	if _, err := w.db.ExecContext(ctx, ddl); err != nil {
		return newError(ErrAnalyticsDDL, false, "creating table "+name, err)
	}
	return nil
}

func (w *DuckDBWriter) InsertBatch(ctx context.Context, name string, batch *Batch) (int64, error) {
	if batch.Empty() {
		return 0, nil
	}
	if !validIdent(name) {
		return 0, newError(ErrConfigInvalid, false, "invalid table name "+name, nil)
	}

	placeholders := make([]string, len(batch.Columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	rowPlaceholder := "(" + strings.Join(placeholders, ", ") + ")"

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, newError(ErrAnalyticsWrite, true, "beginning transaction for "+name, err)
	}
	defer tx.Rollback() //nolint:errcheck

	quotedName, err := quoteIdent(name)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %s VALUES %s", quotedName, rowPlaceholder))
	if err != nil {
		return 0, newError(ErrAnalyticsWrite, true, "preparing insert for "+name, err)
	}
	defer stmt.Close()

	var written int64
	for _, row := range batch.Rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return written, newError(ErrAnalyticsWrite, true, "inserting row into "+name, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, newError(ErrAnalyticsWrite, true, "committing batch into "+name, err)
	}
	return written, nil
}

func (w *DuckDBWriter) RowCount(ctx context.Context, name string) (int64, error) {
	if !validIdent(name) {
		return 0, newError(ErrConfigInvalid, false, "invalid table name "+name, nil)
	}
	quotedName, err := quoteIdent(name)
	if err != nil {
		return 0, err
	}
	var count int64
	row := w.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", quotedName))
	if err := row.Scan(&count); err != nil {
		return 0, newError(ErrAnalyticsWrite, true, "counting rows in "+name, err)
	}
	return count, nil
}

func (w *DuckDBWriter) DropTable(ctx context.Context, name string) error {
	if !validIdent(name) {
		return newError(ErrConfigInvalid, false, "invalid table name "+name, nil)
	}
	quotedName, err := quoteIdent(name)
	if err != nil {
		return err
	}
	if _, err := w.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quotedName); err != nil {
		return newError(ErrAnalyticsDDL, false, "dropping table "+name, err)
	}
	return nil
}
