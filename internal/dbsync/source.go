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

import "context"

// Batch is a column-oriented slice of rows read from the source. Rows is
// row-major for writer convenience (one []any per row, ordered to match
// Columns); temporal columns are normalized to ISO-8601 UTC strings and
// nulls are preserved as untyped nil.
type Batch struct {
	Columns     []string
	Rows        [][]any
	MaxTemporal string // the maximum temporalKey value seen in this batch; "" if the batch is empty or the table has no temporalKey
}

// Empty reports whether the batch carries no rows.
func (b *Batch) Empty() bool { return b == nil || len(b.Rows) == 0 }

// Cursor reads successive batches from one opened source scan. The
// underlying server-side cursor must be preserved across calls to
// nextBatch — re-issuing the predicate and skipping rows already seen
// would break snapshot stability for non-unique temporal keys.
type Cursor interface {
	// NextBatch returns up to n rows. Once the scan is exhausted it
	// returns an empty batch (Batch.Empty() == true) with a nil error —
	// this is the Go rendering of the spec's Batch | EndOfData union.
	NextBatch(ctx context.Context, n int) (*Batch, error)

	// Close releases the underlying handle. Idempotent.
	Close() error
}

// SourceReader opens read-only scans over a source table. Implementations
// must never mutate source state.
type SourceReader interface {
	// Describe returns column metadata from the source catalog without
	// reading any row data.
	Describe(ctx context.Context, binding *TableBinding) ([]ColumnSpec, error)

	// OpenFull positions a cursor at the beginning of the source table.
	OpenFull(ctx context.Context, binding *TableBinding) (Cursor, error)

	// OpenIncremental positions a cursor at rows whose first temporalKey
	// column strictly exceeds watermark, ordered by temporalKey ascending
	// (lexicographically over the tuple when composite). The remaining
	// columns of a composite key are not part of the predicate.
	OpenIncremental(ctx context.Context, binding *TableBinding, watermark string) (Cursor, error)

	// OpenLimited behaves like OpenFull but caps the scan to the first
	// maxRows rows; used by testSync.
	OpenLimited(ctx context.Context, binding *TableBinding, maxRows int) (Cursor, error)

	// Ping verifies connectivity without reading data.
	Ping(ctx context.Context) error

	// Close releases any pooled connections held by the reader.
	Close() error
}
