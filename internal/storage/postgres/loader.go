// Package postgres implements the storage.Loader contract on pgx v5.
//
// Valid records take the high-throughput COPY path; when COPY fails at the
// driver level the loader falls back transparently to batched multi-row
// INSERTs inside the same transaction (the COPY attempt runs under a
// savepoint so the transaction survives the failure). Rejected records are
// always row-inserted since they carry serialized raw payloads. One
// transaction covers both batches of a chunk: they commit or roll back
// together.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"ingest/internal/storage"
	"ingest/pkg/records"
)

// defaultBatchSize bounds the number of rows per fallback INSERT statement.
const defaultBatchSize = 1000

// transferStatement invokes the external stage→core procedure. Its body is
// provisioned by the migrations and is opaque to the loader.
const transferStatement = "CALL transfer_stage_to_core()"

// Config holds the Postgres loader configuration.
type Config struct {
	// DSN is the pgxpool connection string.
	DSN string

	// Staging describes the valid-record landing table.
	Staging storage.TableSchema

	// Rejects names the reject table; its three columns are fixed.
	Rejects string

	// SourceName tags every reject row with the ingest source identifier.
	SourceName string

	// BatchSize is the sub-batch size of the row-insert path. Defaults to
	// 1000 when zero.
	BatchSize int
}

// loaderTx is the transaction surface the loader needs. *pgxpool.Pool
// transactions satisfy it; tests substitute fakes.
type loaderTx interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Loader is the Postgres-backed storage.Loader.
type Loader struct {
	pool *pgxpool.Pool
	cfg  Config
	log  zerolog.Logger

	// begin and exec are test seams; production points both at the pool.
	begin func(ctx context.Context) (loaderTx, error)
	exec  func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ storage.Loader = (*Loader)(nil)

// NewLoader connects to Postgres and returns a ready Loader.
func NewLoader(ctx context.Context, cfg Config, log zerolog.Logger) (*Loader, error) {
	if cfg.Staging.Name == "" || len(cfg.Staging.Columns) == 0 {
		return nil, fmt.Errorf("staging table schema required")
	}
	if cfg.Rejects == "" {
		return nil, fmt.Errorf("reject table name required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	l := &Loader{pool: pool, cfg: cfg, log: log}
	l.begin = func(ctx context.Context) (loaderTx, error) { return pool.Begin(ctx) }
	l.exec = pool.Exec
	return l, nil
}

// Close releases the connection pool.
func (l *Loader) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

// Load implements storage.Loader. Both batches are written inside one
// transaction; any uncaught database error rolls the whole chunk back and
// propagates.
func (l *Loader) Load(ctx context.Context, valid, rejects []records.Record) error {
	if len(valid) == 0 && len(rejects) == 0 {
		return nil
	}

	tx, err := l.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chunk transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if len(valid) > 0 {
		if err := l.loadValid(ctx, tx, valid); err != nil {
			return err
		}
	}
	if len(rejects) > 0 {
		if err := l.loadRejects(ctx, tx, rejects); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk: %w", err)
	}
	return nil
}

// loadValid writes the valid batch, bulk first, rows on fallback. The
// projection is the intersection of the staging schema and the column union
// across the batch, so a field absent from the leading rows still lands; a
// zero-column overlap logs a warning and skips the insert.
func (l *Loader) loadValid(ctx context.Context, tx loaderTx, valid []records.Record) error {
	cols := l.cfg.Staging.IntersectAny(valid)
	if len(cols) == 0 {
		l.log.Warn().Str("table", l.cfg.Staging.Name).
			Msg("no matching columns for staging table, insert skipped")
		return nil
	}

	rows := projectRows(valid, cols)

	res := l.bulkCopy(ctx, tx, cols, rows)
	if res.FallbackReason == nil {
		return nil
	}

	l.log.Warn().Err(res.FallbackReason).Str("table", l.cfg.Staging.Name).
		Int("rows", len(rows)).
		Msg("bulk copy failed, falling back to row inserts")
	if err := l.insertRows(ctx, tx, l.cfg.Staging.Name, cols, rows); err != nil {
		return fmt.Errorf("fallback insert into %s: %w", l.cfg.Staging.Name, err)
	}
	return nil
}

// bulkCopy attempts the COPY path under a savepoint so that a driver-level
// failure leaves the enclosing transaction usable for the fallback.
func (l *Loader) bulkCopy(ctx context.Context, tx loaderTx, cols []string, rows [][]any) storage.BulkResult {
	if _, err := tx.Exec(ctx, "SAVEPOINT bulk_copy"); err != nil {
		return storage.BulkResult{FallbackReason: err}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{l.cfg.Staging.Name}, cols, pgx.CopyFromRows(rows))
	if err != nil {
		if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT bulk_copy"); rbErr != nil {
			// The transaction is unusable; surface the rollback failure so
			// the chunk aborts instead of silently double-inserting.
			return storage.BulkResult{FallbackReason: fmt.Errorf("savepoint rollback: %w", rbErr)}
		}
		return storage.BulkResult{FallbackReason: err}
	}

	if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT bulk_copy"); err != nil {
		return storage.BulkResult{Inserted: n, FallbackReason: nil}
	}
	return storage.BulkResult{Inserted: n}
}

// loadRejects packages and row-inserts the reject batch. Rejects never take
// the bulk path.
func (l *Loader) loadRejects(ctx context.Context, tx loaderTx, rejects []records.Record) error {
	prepared, err := storage.PrepareRejects(l.cfg.SourceName, rejects)
	if err != nil {
		return err
	}
	cols := []string{storage.RejectColSource, storage.RejectColRaw, storage.RejectColReason}
	rows := projectRows(prepared, cols)
	if err := l.insertRows(ctx, tx, l.cfg.Rejects, cols, rows); err != nil {
		return fmt.Errorf("insert rejects into %s: %w", l.cfg.Rejects, err)
	}
	return nil
}

// insertRows writes rows via multi-row INSERT statements, split into
// sub-batches of the configured size.
func (l *Loader) insertRows(ctx context.Context, tx loaderTx, table string, cols []string, rows [][]any) error {
	batchSize := l.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		stmt, args := buildInsert(table, cols, batch)
		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			return err
		}
	}
	return nil
}

// buildInsert renders a single multi-row INSERT with positional parameters.
func buildInsert(table string, cols []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgx.Identifier{table}.Sanitize())
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{c}.Sanitize())
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
			args = append(args, row[j])
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

// projectRows extracts the cols values of each record into positional rows.
func projectRows(recs []records.Record, cols []string) [][]any {
	rows := make([][]any, len(recs))
	for i, rec := range recs {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = rec[c]
		}
		rows[i] = row
	}
	return rows
}

// TransferToCore implements storage.Loader by invoking the stage→core
// procedure once; it runs outside any chunk transaction.
func (l *Loader) TransferToCore(ctx context.Context) error {
	if _, err := l.exec(ctx, transferStatement); err != nil {
		return fmt.Errorf("transfer stage to core: %w", err)
	}
	return nil
}
