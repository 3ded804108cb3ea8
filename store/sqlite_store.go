package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/viant/stockwatch/inventory"
)

// timestampLayout is how frame timestamps are written. Parsing accepts it
// with or without the fractional part, which covers the legacy
// second-precision rows.
const timestampLayout = "2006-01-02 15:04:05.999999999"

// SQLiteStore is the SQLite implementation of Store. One store may be shared
// by several pipeline drivers; appends are serialised in-process by a mutex
// and across processes by the write lock taken at transaction start (see
// engine.OpenPath).
type SQLiteStore struct {
	db         *sql.DB
	table      string
	thresholds string
	onExtend   SchemaHook

	mu sync.Mutex
}

// SchemaHook is called after an append that added item columns has
// committed.
type SchemaHook func(table string, added []string, firstRowID int64)

// Option customises a SQLiteStore.
type Option func(*SQLiteStore)

// WithObservationTable overrides DefaultObservationTable.
func WithObservationTable(name string) Option {
	return func(s *SQLiteStore) { s.table = name }
}

// WithThresholdTable overrides DefaultThresholdTable.
func WithThresholdTable(name string) Option {
	return func(s *SQLiteStore) { s.thresholds = name }
}

// WithSchemaHook registers fn to observe schema extensions.
func WithSchemaHook(fn SchemaHook) Option {
	return func(s *SQLiteStore) { s.onExtend = fn }
}

// NewSQLiteStore creates a SQLite-backed Store. It ensures the observation,
// threshold and schema log tables exist in the provided database.
func NewSQLiteStore(db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is nil")
	}
	s := &SQLiteStore{db: db, table: DefaultObservationTable, thresholds: DefaultThresholdTable}
	for _, opt := range opts {
		opt(s)
	}
	if err := validTableName(s.table); err != nil {
		return nil, err
	}
	if err := validTableName(s.thresholds); err != nil {
		return nil, err
	}
	if err := EnsureSchema(context.Background(), db, s.table, s.thresholds); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables the store needs if they do not already
// exist. An observation table created by an older writer that lacks one of
// the fixed columns gets it added.
func EnsureSchema(ctx context.Context, db *sql.DB, table, thresholds string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.NewStorageError("ensure schema", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ddl := range []string{ObservationTableDDL(table), ThresholdTableDDL(thresholds), SchemaLogDDL()} {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return inventory.NewStorageError("ensure schema", err)
		}
	}
	cols, err := loadColumns(ctx, tx, table)
	if err != nil {
		return inventory.NewStorageError("ensure schema", err)
	}
	fixed := []struct{ name, typ string }{{columnTimestamp, "DATETIME"}, {columnFrameNo, "INTEGER"}}
	for _, f := range fixed {
		if cols.has(f.name) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), f.name, f.typ)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return inventory.NewStorageError("ensure schema", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return inventory.NewStorageError("ensure schema", err)
	}
	return nil
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// ObservationTable returns the name of the observation table.
func (s *SQLiteStore) ObservationTable() string { return s.table }

// Append inserts rec as a new observation row. Columns for items the table
// does not have yet are added in the same transaction, and each addition is
// logged against the id of the row that introduced it.
func (s *SQLiteStore) Append(ctx context.Context, rec inventory.Record) (inventory.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	items := rec.Items()
	for _, item := range items {
		if isReserved(string(item)) {
			return rec, inventory.Configurationf("item %q collides with a reserved column name", item)
		}
		if rec.Counts[item] < 0 {
			return rec, inventory.Configurationf("negative count %d for %q", rec.Counts[item], item)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rec, inventory.NewStorageError("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The column set is read inside the write transaction so that a column
	// added by another process is never added twice.
	cols, err := loadColumns(ctx, tx, s.table)
	if err != nil {
		return rec, inventory.NewStorageError("load columns", err)
	}
	added, err := cols.missing(items)
	if err != nil {
		return rec, inventory.NewStorageError("extend schema", err)
	}
	for _, item := range added {
		if _, err := tx.ExecContext(ctx, AddItemColumnDDL(s.table, item)); err != nil {
			return rec, inventory.NewStorageError("extend schema", err)
		}
	}

	names := []string{columnTimestamp, columnFrameNo}
	args := []interface{}{nullableTimestamp(rec.Timestamp), nullableFrameNo(rec.FrameNo)}
	for _, item := range items {
		names = append(names, quoteIdent(string(item)))
		args = append(args, int64(rec.Counts[item]))
	}
	stmt := fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)",
		quoteIdent(s.table), strings.Join(names, ", "), placeholders(len(names)))
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return rec, inventory.NewStorageError("insert record", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rec, inventory.NewStorageError("insert record", err)
	}
	for _, item := range added {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+SchemaLogTable+`(table_name, column_name, first_row_id) VALUES(?, ?, ?)`,
			s.table, item, id); err != nil {
			return rec, inventory.NewStorageError("log schema change", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return rec, inventory.NewStorageError("commit append", err)
	}
	if len(added) > 0 && s.onExtend != nil {
		s.onExtend(s.table, added, id)
	}

	out := rec
	out.ID = id
	out.Counts = make(map[inventory.ItemClass]int, len(rec.Counts))
	for k, v := range rec.Counts {
		out.Counts[k] = v
	}
	return out, nil
}

// SeedThresholds replaces the thresholds table with table, keeping its
// declared order. This is the external configuration step; the pipeline
// itself never writes thresholds.
func (s *SQLiteStore) SeedThresholds(ctx context.Context, table inventory.ThresholdTable) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.NewStorageError("begin seed", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(s.thresholds)); err != nil {
		return inventory.NewStorageError("clear thresholds", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+quoteIdent(s.thresholds)+"(items, minimum) VALUES(?, ?)")
	if err != nil {
		return inventory.NewStorageError("seed thresholds", err)
	}
	defer stmt.Close()
	for _, th := range table.Entries() {
		if _, err := stmt.ExecContext(ctx, string(th.Item), th.Minimum); err != nil {
			return inventory.NewStorageError("seed thresholds", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return inventory.NewStorageError("commit seed", err)
	}
	return nil
}

func nullableTimestamp(ts time.Time) interface{} {
	if ts.IsZero() {
		return nil
	}
	return ts.UTC().Format(timestampLayout)
}

func nullableFrameNo(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Ensure SQLiteStore satisfies the Store interface.
var _ Store = (*SQLiteStore)(nil)
