// Package dedup removes duplicate records within and across chunks of one
// ingestion run.
//
// The Deduplicator carries the run-scoped seen-key state: it is created once
// by the orchestrator, fed every chunk in order, and discarded at run end.
// Keys are the 64-bit xxh3 hashes of the joined key-field values, so memory
// stays bounded by one word per distinct booking rather than by the full key
// strings. First occurrence always wins, both inside a chunk and across the
// run, which makes the output deterministic for a given chunk sequence.
package dedup

import (
	"strings"

	"github.com/zeebo/xxh3"

	"ingest/pkg/records"
)

// DefaultKey is the natural key used when no key fields are configured.
const DefaultKey = "booking_id"

// fieldSep is an unlikely byte separating composite key parts, so that
// ("a","bc") and ("ab","c") hash differently.
const fieldSep = '\x1f'

// Deduplicator filters chunks against the set of keys seen so far in the
// run. Not safe for concurrent use; the orchestrator owns it exclusively.
type Deduplicator struct {
	keys []string
	seen map[uint64]struct{}
}

// New constructs a Deduplicator keyed on the given fields, defaulting to the
// single natural key booking_id.
func New(keys ...string) *Deduplicator {
	if len(keys) == 0 {
		keys = []string{DefaultKey}
	}
	return &Deduplicator{
		keys: keys,
		seen: make(map[uint64]struct{}),
	}
}

// Apply returns the records of chunk whose key has not been seen before,
// preserving order, and the number of rows dropped. Surviving keys are added
// to the seen set. Records missing a key field pass through unkeyed.
func (d *Deduplicator) Apply(chunk []records.Record) (kept []records.Record, dropped int) {
	kept = make([]records.Record, 0, len(chunk))
	for _, rec := range chunk {
		h, ok := d.keyOf(rec)
		if !ok {
			kept = append(kept, rec)
			continue
		}
		if _, dup := d.seen[h]; dup {
			dropped++
			continue
		}
		d.seen[h] = struct{}{}
		kept = append(kept, rec)
	}
	return kept, dropped
}

// Seen returns the number of distinct keys observed so far.
func (d *Deduplicator) Seen() int {
	return len(d.seen)
}

// keyOf builds the composite key string for rec and hashes it. The second
// result is false when any key field is absent from the record.
func (d *Deduplicator) keyOf(rec records.Record) (uint64, bool) {
	var b strings.Builder
	for i, k := range d.keys {
		if _, ok := rec[k]; !ok {
			return 0, false
		}
		if i > 0 {
			b.WriteByte(fieldSep)
		}
		b.WriteString(rec.String(k))
	}
	return xxh3.HashString(b.String()), true
}
