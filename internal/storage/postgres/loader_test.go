package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"ingest/internal/storage"
	"ingest/pkg/records"
)

type execCall struct {
	sql  string
	args []any
}

// fakeTx implements loaderTx in memory. copyErr forces the bulk path to
// fail; insertErr fails the first INSERT statement.
type fakeTx struct {
	copyErr   error
	insertErr error

	copiedCols []string
	copiedRows [][]any
	execs      []execCall
	committed  bool
	rolledBack bool
}

func (f *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	f.copiedCols = cols
	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		f.copiedRows = append(f.copiedRows, vals)
		n++
	}
	return n, src.Err()
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.insertErr != nil && strings.HasPrefix(sql, "INSERT") {
		return pgconn.CommandTag{}, f.insertErr
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeTx) Commit(context.Context) error   { f.committed = true; return nil }
func (f *fakeTx) Rollback(context.Context) error { f.rolledBack = true; return nil }

func (f *fakeTx) inserts() []execCall {
	var out []execCall
	for _, e := range f.execs {
		if strings.HasPrefix(e.sql, "INSERT") {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeTx) hasExec(sql string) bool {
	for _, e := range f.execs {
		if e.sql == sql {
			return true
		}
	}
	return false
}

func testLoader(tx *fakeTx) *Loader {
	l := &Loader{
		cfg: Config{
			Staging: storage.TableSchema{
				Name:    "stg_rides",
				Columns: []string{"booking_id", "vehicle_type", "booking_value"},
			},
			Rejects:    "stg_rejects",
			SourceName: "ride_bookings",
			BatchSize:  1000,
		},
		log:   zerolog.Nop(),
		begin: func(context.Context) (loaderTx, error) { return tx, nil },
	}
	return l
}

func validBatch() []records.Record {
	return []records.Record{
		{"booking_id": "B1", "vehicle_type": "Auto", "booking_value": 250.5, "extra": "x"},
		{"booking_id": "B2", "vehicle_type": "Bike", "booking_value": 99.0, "extra": "y"},
	}
}

func TestLoadBulkPath(t *testing.T) {
	tx := &fakeTx{}
	l := testLoader(tx)

	if err := l.Load(context.Background(), validBatch(), nil); err != nil {
		t.Fatalf("load: %v", err)
	}

	if !tx.committed {
		t.Fatal("chunk not committed")
	}
	if len(tx.copiedRows) != 2 {
		t.Fatalf("copied rows = %d, want 2", len(tx.copiedRows))
	}
	wantCols := []string{"booking_id", "vehicle_type", "booking_value"}
	for i, c := range wantCols {
		if tx.copiedCols[i] != c {
			t.Fatalf("copy cols = %v, want %v", tx.copiedCols, wantCols)
		}
	}
	if tx.copiedRows[0][0] != "B1" || tx.copiedRows[0][2] != 250.5 {
		t.Fatalf("row 0 = %v", tx.copiedRows[0])
	}
	if !tx.hasExec("SAVEPOINT bulk_copy") || !tx.hasExec("RELEASE SAVEPOINT bulk_copy") {
		t.Fatal("bulk copy not wrapped in savepoint")
	}
	if got := tx.inserts(); len(got) != 0 {
		t.Fatalf("bulk path issued row inserts: %v", got)
	}
}

func TestLoadFallbackPath(t *testing.T) {
	tx := &fakeTx{copyErr: errors.New("copy rejected by server")}
	l := testLoader(tx)

	if err := l.Load(context.Background(), validBatch(), nil); err != nil {
		t.Fatalf("load: %v", err)
	}

	if !tx.committed {
		t.Fatal("chunk not committed after fallback")
	}
	if !tx.hasExec("ROLLBACK TO SAVEPOINT bulk_copy") {
		t.Fatal("failed copy not rolled back to savepoint")
	}

	ins := tx.inserts()
	if len(ins) != 1 {
		t.Fatalf("insert statements = %d, want 1", len(ins))
	}
	if !strings.HasPrefix(ins[0].sql, `INSERT INTO "stg_rides" ("booking_id", "vehicle_type", "booking_value") VALUES `) {
		t.Fatalf("insert sql = %q", ins[0].sql)
	}
	// Fallback writes exactly the rows the bulk path would have.
	want := []any{"B1", "Auto", 250.5, "B2", "Bike", 99.0}
	if len(ins[0].args) != len(want) {
		t.Fatalf("args = %v, want %v", ins[0].args, want)
	}
	for i := range want {
		if ins[0].args[i] != want[i] {
			t.Fatalf("args = %v, want %v", ins[0].args, want)
		}
	}
}

func TestLoadProjectsColumnUnion(t *testing.T) {
	tx := &fakeTx{}
	l := testLoader(tx)
	l.cfg.Staging.Columns = []string{"booking_id", "booking_date", "booking_ts"}

	// The derived timestamp is only present where the date parsed; the first
	// row lacking it must not shrink the projection for the rest.
	valid := []records.Record{
		{"booking_id": "B1", "booking_date": nil},
		{"booking_id": "B2", "booking_date": "2024-03-01", "booking_ts": "2024-03-01T14:30:00Z"},
	}
	if err := l.Load(context.Background(), valid, nil); err != nil {
		t.Fatalf("load: %v", err)
	}

	wantCols := []string{"booking_id", "booking_date", "booking_ts"}
	if len(tx.copiedCols) != len(wantCols) {
		t.Fatalf("copy cols = %v, want %v", tx.copiedCols, wantCols)
	}
	for i := range wantCols {
		if tx.copiedCols[i] != wantCols[i] {
			t.Fatalf("copy cols = %v, want %v", tx.copiedCols, wantCols)
		}
	}
	if tx.copiedRows[0][2] != nil {
		t.Errorf("row 0 booking_ts = %v, want nil", tx.copiedRows[0][2])
	}
	if tx.copiedRows[1][2] != "2024-03-01T14:30:00Z" {
		t.Errorf("row 1 booking_ts = %v, lost in projection", tx.copiedRows[1][2])
	}
}

func TestLoadRejects(t *testing.T) {
	tx := &fakeTx{}
	l := testLoader(tx)

	rejects := []records.Record{
		{"Booking ID": "B9", "reject_reason": "Customer ID is NULL"},
	}
	if err := l.Load(context.Background(), nil, rejects); err != nil {
		t.Fatalf("load: %v", err)
	}

	ins := tx.inserts()
	if len(ins) != 1 {
		t.Fatalf("insert statements = %d, want 1", len(ins))
	}
	if !strings.HasPrefix(ins[0].sql, `INSERT INTO "stg_rejects" ("source_name", "raw_record", "reject_reason") VALUES `) {
		t.Fatalf("insert sql = %q", ins[0].sql)
	}
	if ins[0].args[0] != "ride_bookings" {
		t.Fatalf("source_name = %v", ins[0].args[0])
	}
	if ins[0].args[2] != "Customer ID is NULL" {
		t.Fatalf("reject_reason = %v", ins[0].args[2])
	}
	if !tx.committed {
		t.Fatal("reject-only chunk not committed")
	}
}

func TestLoadEmptyIsNoop(t *testing.T) {
	began := false
	l := testLoader(nil)
	l.begin = func(context.Context) (loaderTx, error) {
		began = true
		return &fakeTx{}, nil
	}

	if err := l.Load(context.Background(), nil, nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if began {
		t.Fatal("empty chunk must not open a transaction")
	}
}

func TestLoadInsertErrorRollsBack(t *testing.T) {
	tx := &fakeTx{copyErr: errors.New("copy failed"), insertErr: errors.New("insert failed")}
	l := testLoader(tx)

	err := l.Load(context.Background(), validBatch(), nil)
	if err == nil {
		t.Fatal("want error when fallback insert fails")
	}
	if tx.committed {
		t.Fatal("failed chunk must not commit")
	}
	if !tx.rolledBack {
		t.Fatal("failed chunk must roll back")
	}
}

func TestLoadNoColumnOverlapSkipsInsert(t *testing.T) {
	tx := &fakeTx{}
	l := testLoader(tx)

	valid := []records.Record{{"unknown_field": 1}}
	if err := l.Load(context.Background(), valid, nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tx.copiedRows) != 0 || len(tx.inserts()) != 0 {
		t.Fatal("zero-overlap batch must write nothing")
	}
	if !tx.committed {
		t.Fatal("skipped batch still commits the chunk")
	}
}

func TestInsertRowsBatching(t *testing.T) {
	tx := &fakeTx{copyErr: errors.New("force fallback")}
	l := testLoader(tx)
	l.cfg.BatchSize = 2

	valid := make([]records.Record, 5)
	for i := range valid {
		valid[i] = records.Record{"booking_id": string(rune('A' + i)), "vehicle_type": "Auto", "booking_value": 1.0}
	}
	if err := l.Load(context.Background(), valid, nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := len(tx.inserts()); got != 3 {
		t.Fatalf("insert statements = %d, want 3 (batches of 2,2,1)", got)
	}
}

func TestTransferToCore(t *testing.T) {
	var got string
	l := testLoader(nil)
	l.exec = func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		got = sql
		return pgconn.CommandTag{}, nil
	}

	if err := l.TransferToCore(context.Background()); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got != "CALL transfer_stage_to_core()" {
		t.Fatalf("statement = %q", got)
	}
}

func TestTransferToCoreWrapsError(t *testing.T) {
	cause := errors.New("procedure missing")
	l := testLoader(nil)
	l.exec = func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, cause
	}

	err := l.TransferToCore(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped cause", err)
	}
	if !strings.Contains(err.Error(), "transfer stage to core") {
		t.Fatalf("err = %v, want transfer context", err)
	}
}

func TestBuildInsert(t *testing.T) {
	stmt, args := buildInsert("stg_rejects",
		[]string{"source_name", "reject_reason"},
		[][]any{{"s", "r1"}, {"s", "r2"}})

	want := `INSERT INTO "stg_rejects" ("source_name", "reject_reason") VALUES ($1, $2), ($3, $4)`
	if stmt != want {
		t.Fatalf("stmt = %q, want %q", stmt, want)
	}
	if len(args) != 4 {
		t.Fatalf("args = %v", args)
	}
}
