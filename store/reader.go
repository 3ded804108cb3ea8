package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/viant/stockwatch/inventory"
)

// Recent returns up to n most recently appended records in append order,
// oldest first. Order comes from the row id alone: the inner query selects the
// newest n rows, the outer query puts them back in insertion order.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]inventory.Record, error) {
	if n <= 0 {
		return []inventory.Record{}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cols, err := loadColumns(ctx, s.db, s.table)
	if err != nil {
		return nil, inventory.NewStorageError("load columns", err)
	}
	query := fmt.Sprintf("SELECT %s FROM (SELECT * FROM %s ORDER BY id DESC LIMIT ?) ORDER BY id ASC",
		cols.selectList(), quoteIdent(s.table))
	return s.queryRecords(ctx, cols, query, n)
}

// Latest returns the most recently appended record.
func (s *SQLiteStore) Latest(ctx context.Context) (inventory.Record, error) {
	recs, err := s.Recent(ctx, 1)
	if err != nil {
		return inventory.Record{}, err
	}
	if len(recs) == 0 {
		return inventory.Record{}, &inventory.NotFoundError{What: "no records in " + s.table}
	}
	return recs[0], nil
}

// Record returns the record with the given row id.
func (s *SQLiteStore) Record(ctx context.Context, id int64) (inventory.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cols, err := loadColumns(ctx, s.db, s.table)
	if err != nil {
		return inventory.Record{}, inventory.NewStorageError("load columns", err)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", cols.selectList(), quoteIdent(s.table))
	recs, err := s.queryRecords(ctx, cols, query, id)
	if err != nil {
		return inventory.Record{}, err
	}
	if len(recs) == 0 {
		return inventory.Record{}, &inventory.NotFoundError{What: fmt.Sprintf("record %d", id)}
	}
	return recs[0], nil
}

// Items returns the item columns the observation table currently has, in the
// order they were added.
func (s *SQLiteStore) Items(ctx context.Context) ([]inventory.ItemClass, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cols, err := loadColumns(ctx, s.db, s.table)
	if err != nil {
		return nil, inventory.NewStorageError("load columns", err)
	}
	out := make([]inventory.ItemClass, len(cols.items))
	for i, name := range cols.items {
		out[i] = inventory.ItemClass(name)
	}
	return out, nil
}

// Thresholds returns the configured minimums in the order they were seeded.
func (s *SQLiteStore) Thresholds(ctx context.Context) (inventory.ThresholdTable, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, "SELECT items, minimum FROM "+quoteIdent(s.thresholds)+" ORDER BY rowid")
	if err != nil {
		return inventory.ThresholdTable{}, inventory.NewStorageError("load thresholds", err)
	}
	defer rows.Close()

	var entries []inventory.Threshold
	for rows.Next() {
		var item sql.NullString
		var minimum sql.NullInt64
		if err := rows.Scan(&item, &minimum); err != nil {
			return inventory.ThresholdTable{}, inventory.NewStorageError("load thresholds", err)
		}
		if !item.Valid || !minimum.Valid {
			return inventory.ThresholdTable{}, inventory.Configurationf("threshold row with NULL item or minimum in %s", s.thresholds)
		}
		entries = append(entries, inventory.Threshold{Item: inventory.ItemClass(item.String), Minimum: int(minimum.Int64)})
	}
	if err := rows.Err(); err != nil {
		return inventory.ThresholdTable{}, inventory.NewStorageError("load thresholds", err)
	}
	return inventory.NewThresholdTable(entries...)
}

// Migration is one entry of the schema log: an item column and the first row
// that carries it.
type Migration struct {
	ID         int64
	Table      string
	Column     string
	FirstRowID int64
	AppliedAt  time.Time
}

// Migrations returns the schema log of this store's observation table in the
// order columns were added.
func (s *SQLiteStore) Migrations(ctx context.Context) ([]Migration, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, table_name, column_name, first_row_id, CAST(applied_at AS TEXT)
FROM `+SchemaLogTable+` WHERE table_name = ? ORDER BY id`, s.table)
	if err != nil {
		return nil, inventory.NewStorageError("load schema log", err)
	}
	defer rows.Close()

	var out []Migration
	for rows.Next() {
		var m Migration
		var applied sql.NullString
		if err := rows.Scan(&m.ID, &m.Table, &m.Column, &m.FirstRowID, &applied); err != nil {
			return nil, inventory.NewStorageError("load schema log", err)
		}
		if applied.Valid {
			m.AppliedAt, _ = parseTimestamp(applied.String)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, inventory.NewStorageError("load schema log", err)
	}
	return out, nil
}

func (s *SQLiteStore) queryRecords(ctx context.Context, cols columns, query string, args ...interface{}) ([]inventory.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, inventory.NewStorageError("query records", err)
	}
	defer rows.Close()

	out := []inventory.Record{}
	counts := make([]sql.NullInt64, len(cols.items))
	for rows.Next() {
		var (
			id      int64
			ts      sql.NullString
			frameNo sql.NullInt64
		)
		dest := make([]interface{}, 0, len(counts)+3)
		dest = append(dest, &id, &ts, &frameNo)
		for i := range counts {
			counts[i] = sql.NullInt64{}
			dest = append(dest, &counts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, inventory.NewStorageError("scan record", err)
		}
		rec := inventory.Record{ID: id, Counts: make(map[inventory.ItemClass]int, len(counts))}
		if frameNo.Valid {
			rec.FrameNo = frameNo.Int64
		}
		if ts.Valid {
			parsed, err := parseTimestamp(ts.String)
			if err != nil {
				return nil, inventory.NewStorageError("scan record", err)
			}
			rec.Timestamp = parsed
		}
		for i, c := range counts {
			if c.Valid {
				rec.Counts[inventory.ItemClass(cols.items[i])] = int(c.Int64)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, inventory.NewStorageError("query records", err)
	}
	return out, nil
}

var timestampLayouts = []string{
	timestampLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("store: unrecognised timestamp %q", v)
}
