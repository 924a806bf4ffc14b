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
)

// AnalyticsWriter creates and populates tables in the embedded analytics
// store. Incremental writes are append-only: deduplication is guaranteed
// by the source's strict temporalKey > watermark predicate, never by an
// upsert here.
type AnalyticsWriter interface {
	TableExists(ctx context.Context, name string) (bool, error)

	// CreateTable issues DDL for name with the given columns, adding a
	// PRIMARY KEY clause when primaryKey is non-empty.
	CreateTable(ctx context.Context, name string, columns []ColumnSpec, primaryKey []string) error

	// InsertBatch bulk-appends a batch and returns the number of rows
	// written.
	InsertBatch(ctx context.Context, name string, batch *Batch) (int64, error)

	RowCount(ctx context.Context, name string) (int64, error)

	// DropTable removes a table; used by full sync to recreate an
	// existing target and by testSync cleanup.
	DropTable(ctx context.Context, name string) error

	// Connection exposes the underlying handle for the out-of-scope query
	// layer. The writer retains ownership; callers must not close it.
	Connection() *sql.DB

	Ping(ctx context.Context) error
	Close() error
}
