// Package storage contains the storage-agnostic contracts of the ingestion
// pipeline: the explicit table schema descriptor used to compute bulk-copy
// projections, the Loader interface the orchestrator drives, and the reject
// record packaging shared by every backend.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"ingest/pkg/records"
)

// Reject table column names. The reject table always has exactly these
// three columns.
const (
	RejectColSource = "source_name"
	RejectColRaw    = "raw_record"
	RejectColReason = "reject_reason"
)

// TableSchema describes a destination table explicitly: its name and the
// ordered column list. Loaders compute insert projections from it instead of
// introspecting the database.
type TableSchema struct {
	Name    string
	Columns []string
}

// IntersectAny returns the schema columns present in at least one record of
// recs, preserving schema order. Extra record fields are silently dropped
// and the result is empty when nothing overlaps. Chunks can be
// column-heterogeneous: derived fields appear only on the rows where
// derivation succeeded, so the projection is a union across the batch
// rather than a snapshot of the first row.
func (t TableSchema) IntersectAny(recs []records.Record) []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		for _, rec := range recs {
			if _, ok := rec[c]; ok {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Loader persists one chunk's worth of records transactionally and performs
// the end-of-run staging→core transfer.
type Loader interface {
	// Load writes the deduplicated valid batch and the reject batch inside a
	// single transaction. An empty/empty input is a no-op that opens no
	// transaction. Any database error rolls both batches back together.
	Load(ctx context.Context, valid, rejects []records.Record) error

	// TransferToCore invokes the external stage→core transfer procedure.
	// Non-success is pipeline failure.
	TransferToCore(ctx context.Context) error

	// Close releases the backend's resources.
	Close()
}

// BulkResult reports the outcome of a bulk-copy attempt. FallbackReason is
// non-nil when the bulk path was abandoned and the caller must take the
// row-insert path instead; the reason is logged, never re-raised.
type BulkResult struct {
	Inserted       int64
	FallbackReason error
}

// PrepareRejects repackages rejected records into the three-column reject
// shape: a fixed source identifier, the JSON-serialized original fields
// (reason included), and the reason string. Serialization preserves numeric
// types and escapes special characters; values that cannot be represented as
// JSON fail the chunk.
func PrepareRejects(sourceName string, rejects []records.Record) ([]records.Record, error) {
	out := make([]records.Record, 0, len(rejects))
	for i, rec := range rejects {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("serialize reject %d: %w", i, err)
		}
		out = append(out, records.Record{
			RejectColSource: sourceName,
			RejectColRaw:    string(raw),
			RejectColReason: rec.String(RejectColReason),
		})
	}
	return out, nil
}
