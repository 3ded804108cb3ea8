package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/viant/stockwatch/engine"
	"github.com/viant/stockwatch/inventory"
)

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	db, err := engine.OpenPath(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("engine.OpenPath failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(openTestDB(t, "warehouse.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return st
}

func counts(kv ...interface{}) map[inventory.ItemClass]int {
	out := make(map[inventory.ItemClass]int, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[inventory.ItemClass(kv[i].(string))] = kv[i+1].(int)
	}
	return out
}

func mustAppend(t *testing.T, st *SQLiteStore, rec inventory.Record) inventory.Record {
	t.Helper()
	out, err := st.Append(context.Background(), rec)
	if err != nil {
		t.Fatalf("Append(%+v) failed: %v", rec, err)
	}
	return out
}

// TestSQLiteStore_AppendRecentOrder appends records whose timestamps and frame
// numbers run backwards and checks that Recent follows append order anyway.
func TestSQLiteStore_AppendRecentOrder(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var appended []inventory.Record
	for i := 0; i < 8; i++ {
		rec := inventory.Record{
			Timestamp: base.Add(-time.Duration(i) * time.Minute),
			FrameNo:   int64(100 - i),
			Counts:    counts("coke", i, "lays", 10-i),
		}
		appended = append(appended, mustAppend(t, st, rec))
	}
	for i := 1; i < len(appended); i++ {
		if appended[i].ID <= appended[i-1].ID {
			t.Fatalf("ids not increasing: %d then %d", appended[i-1].ID, appended[i].ID)
		}
	}

	got, err := st.Recent(context.Background(), 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent(3) returned %d records, want 3", len(got))
	}
	for i, rec := range got {
		want := appended[5+i]
		if rec.ID != want.ID {
			t.Fatalf("Recent[%d].ID = %d, want %d", i, rec.ID, want.ID)
		}
		if rec.Count("coke") != want.Count("coke") || rec.Count("lays") != want.Count("lays") {
			t.Fatalf("Recent[%d] counts = %v, want %v", i, rec.Counts, want.Counts)
		}
		if rec.FrameNo != want.FrameNo {
			t.Fatalf("Recent[%d].FrameNo = %d, want %d", i, rec.FrameNo, want.FrameNo)
		}
		if !rec.Timestamp.Equal(want.Timestamp) {
			t.Fatalf("Recent[%d].Timestamp = %v, want %v", i, rec.Timestamp, want.Timestamp)
		}
	}

	all, err := st.Recent(context.Background(), 30)
	if err != nil {
		t.Fatalf("Recent(30) failed: %v", err)
	}
	if len(all) != len(appended) {
		t.Fatalf("Recent(30) returned %d records, want %d", len(all), len(appended))
	}

	latest, err := st.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.ID != appended[len(appended)-1].ID {
		t.Fatalf("Latest.ID = %d, want %d", latest.ID, appended[len(appended)-1].ID)
	}
}

func TestSQLiteStore_Empty(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Latest(context.Background())
	if !errors.Is(err, inventory.ErrNotFound) {
		t.Fatalf("Latest on empty store err = %v, want ErrNotFound", err)
	}
	recs, err := st.Recent(context.Background(), 30)
	if err != nil {
		t.Fatalf("Recent on empty store failed: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Fatalf("Recent on empty store = %#v, want empty slice", recs)
	}
	if _, err := st.Record(context.Background(), 1); !errors.Is(err, inventory.ErrNotFound) {
		t.Fatalf("Record(1) err = %v, want ErrNotFound", err)
	}
}

// TestSQLiteStore_NewItemColumn appends nine frames without "water" and then a
// tenth that introduces it.
func TestSQLiteStore_NewItemColumn(t *testing.T) {
	st := newTestStore(t)
	for i := 1; i <= 9; i++ {
		mustAppend(t, st, inventory.Record{FrameNo: int64(i), Counts: counts("coke", i, "lays", 2*i)})
	}
	tenth := mustAppend(t, st, inventory.Record{FrameNo: 10, Counts: counts("coke", 10, "lays", 20, "water", 4)})

	recs, err := st.Recent(context.Background(), 30)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recs) != 10 {
		t.Fatalf("Recent returned %d records, want 10", len(recs))
	}
	for i, rec := range recs[:9] {
		if rec.Has("water") || rec.Count("water") != 0 {
			t.Fatalf("row %d carries water: %v", i+1, rec.Counts)
		}
		if rec.Count("coke") != i+1 || rec.Count("lays") != 2*(i+1) {
			t.Fatalf("row %d lost earlier values: %v", i+1, rec.Counts)
		}
	}
	if !recs[9].Has("water") || recs[9].Count("water") != 4 {
		t.Fatalf("row 10 water = %v, want 4", recs[9].Counts)
	}

	items, err := st.Items(context.Background())
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if fmt.Sprint(items) != "[coke lays water]" {
		t.Fatalf("Items = %v, want [coke lays water]", items)
	}

	migrations, err := st.Migrations(context.Background())
	if err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("Migrations = %+v, want 3 entries", migrations)
	}
	water := migrations[2]
	if water.Column != "water" || water.FirstRowID != tenth.ID || water.Table != DefaultObservationTable {
		t.Fatalf("water migration = %+v, want column water first row %d", water, tenth.ID)
	}
	if water.AppliedAt.IsZero() {
		t.Fatalf("water migration has no applied_at")
	}
}

// TestSQLiteStore_GrowingVocabulary appends records over an ever larger item
// set and checks that no earlier value is lost.
func TestSQLiteStore_GrowingVocabulary(t *testing.T) {
	st := newTestStore(t)
	names := []string{"coke", "lays", "milkpack", "pepsi", "water"}
	var appended []inventory.Record
	for i := range names {
		c := make(map[inventory.ItemClass]int)
		for j := 0; j <= i; j++ {
			c[inventory.ItemClass(names[j])] = 10*i + j
		}
		appended = append(appended, mustAppend(t, st, inventory.Record{Counts: c}))
	}
	recs, err := st.Recent(context.Background(), len(names))
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	for i, rec := range recs {
		if len(rec.Counts) != len(appended[i].Counts) {
			t.Fatalf("record %d = %v, want %v", i, rec.Counts, appended[i].Counts)
		}
		for item, want := range appended[i].Counts {
			if got := rec.Count(item); got != want {
				t.Fatalf("record %d %s = %d, want %d", i, item, got, want)
			}
		}
	}
}

// TestSQLiteStore_AppendIsAtomic makes the insert fail after the schema was
// extended inside the same transaction and checks that neither the column nor
// the row survive.
func TestSQLiteStore_AppendIsAtomic(t *testing.T) {
	st := newTestStore(t)
	mustAppend(t, st, inventory.Record{FrameNo: 1, Counts: counts("coke", 1)})

	if _, err := st.DB().Exec(`CREATE TRIGGER reject_frame BEFORE INSERT ON warehouse_rack
WHEN NEW.frame_no = 666
BEGIN
    SELECT RAISE(ABORT, 'rejected frame');
END;`); err != nil {
		t.Fatalf("create trigger failed: %v", err)
	}

	_, err := st.Append(context.Background(), inventory.Record{FrameNo: 666, Counts: counts("coke", 2, "juice", 3)})
	if !errors.Is(err, inventory.ErrStorage) {
		t.Fatalf("Append err = %v, want ErrStorage", err)
	}
	items, err := st.Items(context.Background())
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if fmt.Sprint(items) != "[coke]" {
		t.Fatalf("Items after failed append = %v, want [coke]", items)
	}
	recs, err := st.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("rows after failed append = %d, want 1", len(recs))
	}
	migrations, err := st.Migrations(context.Background())
	if err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}
	for _, m := range migrations {
		if m.Column == "juice" {
			t.Fatalf("schema log kept a rolled back column: %+v", m)
		}
	}
}

func TestSQLiteStore_RejectsInvalidRecords(t *testing.T) {
	st := newTestStore(t)
	mustAppend(t, st, inventory.Record{Counts: counts("coke", 1)})

	if _, err := st.Append(context.Background(), inventory.Record{Counts: counts("frame_no", 1)}); !errors.Is(err, inventory.ErrConfiguration) {
		t.Fatalf("reserved item err = %v, want ErrConfiguration", err)
	}
	if _, err := st.Append(context.Background(), inventory.Record{Counts: counts("lays", -1)}); !errors.Is(err, inventory.ErrConfiguration) {
		t.Fatalf("negative count err = %v, want ErrConfiguration", err)
	}
	if _, err := st.Append(context.Background(), inventory.Record{Counts: counts("Coke", 1)}); !errors.Is(err, inventory.ErrStorage) {
		t.Fatalf("case conflict err = %v, want ErrStorage", err)
	}
}

func TestSQLiteStore_QuotedItemNames(t *testing.T) {
	st := newTestStore(t)
	rec := mustAppend(t, st, inventory.Record{Counts: counts("milk pack", 2, `o"dd`, 1, "select", 7)})
	got, err := st.Record(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if got.Count("milk pack") != 2 || got.Count(`o"dd`) != 1 || got.Count("select") != 7 {
		t.Fatalf("Record = %v, want milk pack:2 o\"dd:1 select:7", got.Counts)
	}
}

func TestSQLiteStore_CanceledContext(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := st.Append(ctx, inventory.Record{Counts: counts("coke", 1)})
	if !errors.Is(err, inventory.ErrStorage) {
		t.Fatalf("Append with canceled ctx err = %v, want ErrStorage", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("storage error must wrap context.Canceled, got %v", err)
	}
}

// TestSQLiteStore_ConcurrentStreams runs two streams that both introduce the
// same new item at once, in-process through one store and across two database
// handles, and expects every row and exactly one schema change.
func TestSQLiteStore_ConcurrentStreams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shared.db")
	dbA, err := engine.OpenPath(path)
	if err != nil {
		t.Fatalf("engine.OpenPath failed: %v", err)
	}
	defer dbA.Close()
	dbB, err := engine.OpenPath(path)
	if err != nil {
		t.Fatalf("engine.OpenPath failed: %v", err)
	}
	defer dbB.Close()

	stA, err := NewSQLiteStore(dbA)
	if err != nil {
		t.Fatalf("NewSQLiteStore A failed: %v", err)
	}
	stB, err := NewSQLiteStore(dbB)
	if err != nil {
		t.Fatalf("NewSQLiteStore B failed: %v", err)
	}

	const perStream = 10
	writers := []*SQLiteStore{stA, stA, stB, stB}
	var wg sync.WaitGroup
	errs := make(chan error, len(writers)*perStream)
	for w, st := range writers {
		wg.Add(1)
		go func(w int, st *SQLiteStore) {
			defer wg.Done()
			for i := 0; i < perStream; i++ {
				rec := inventory.Record{FrameNo: int64(i + 1), Counts: counts("coke", w, "water", i)}
				if _, err := st.Append(context.Background(), rec); err != nil {
					errs <- err
				}
			}
		}(w, st)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Append failed: %v", err)
	}

	recs, err := stA.Recent(context.Background(), 1000)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recs) != len(writers)*perStream {
		t.Fatalf("rows = %d, want %d", len(recs), len(writers)*perStream)
	}
	migrations, err := stB.Migrations(context.Background())
	if err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("migrations = %+v, want coke and water once each", migrations)
	}
}

// TestSQLiteStore_LegacyTable opens a database written by an older writer:
// capitalised timestamp column, no frame number column, second-precision
// timestamps.
func TestSQLiteStore_LegacyTable(t *testing.T) {
	db := openTestDB(t, "legacy.db")
	if _, err := db.Exec(`CREATE TABLE warehouse_rack (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        Frame_Timestamp DATETIME,
        coke INTEGER,
        lays INTEGER
    )`); err != nil {
		t.Fatalf("create legacy table failed: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO warehouse_rack(Frame_Timestamp, coke, lays) VALUES ('2024-05-01 10:00:00', 3, 0)`); err != nil {
		t.Fatalf("insert legacy row failed: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE items_min_count (items TEXT, minimum INTEGER)`); err != nil {
		t.Fatalf("create legacy thresholds failed: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO items_min_count(items, minimum) VALUES ('coke', 5), ('lays', 3)`); err != nil {
		t.Fatalf("insert legacy thresholds failed: %v", err)
	}

	st, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore on legacy db failed: %v", err)
	}
	latest, err := st.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !latest.Timestamp.Equal(want) {
		t.Fatalf("Latest.Timestamp = %v, want %v", latest.Timestamp, want)
	}
	if latest.Count("coke") != 3 || !latest.Has("lays") {
		t.Fatalf("Latest.Counts = %v, want coke:3 lays:0", latest.Counts)
	}

	next := mustAppend(t, st, inventory.Record{FrameNo: 2, Counts: counts("coke", 6, "lays", 4)})
	got, err := st.Record(context.Background(), next.ID)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if got.FrameNo != 2 {
		t.Fatalf("FrameNo = %d, want 2", got.FrameNo)
	}

	table, err := st.Thresholds(context.Background())
	if err != nil {
		t.Fatalf("Thresholds failed: %v", err)
	}
	if table.Len() != 2 || table.Entries()[0].Item != "coke" {
		t.Fatalf("Thresholds = %+v, want [coke lays]", table.Entries())
	}
}

func TestSQLiteStore_Options(t *testing.T) {
	db := openTestDB(t, "options.db")
	if _, err := NewSQLiteStore(db, WithObservationTable("bad name;")); !errors.Is(err, inventory.ErrConfiguration) {
		t.Fatalf("invalid table name err = %v, want ErrConfiguration", err)
	}
	st, err := NewSQLiteStore(db, WithObservationTable("shelf_a"), WithThresholdTable("shelf_a_min"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if st.ObservationTable() != "shelf_a" {
		t.Fatalf("ObservationTable = %q, want shelf_a", st.ObservationTable())
	}
	mustAppend(t, st, inventory.Record{Counts: counts("coke", 1)})
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM shelf_a`).Scan(&n); err != nil {
		t.Fatalf("count shelf_a failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("shelf_a rows = %d, want 1", n)
	}
}

func TestNewSQLiteStore_NilDB(t *testing.T) {
	if _, err := NewSQLiteStore(nil); err == nil {
		t.Fatalf("NewSQLiteStore(nil) must fail")
	}
}

func TestSQLiteStore_SchemaHook(t *testing.T) {
	type call struct {
		table string
		added []string
		id    int64
	}
	var calls []call
	hook := func(table string, added []string, firstRowID int64) {
		calls = append(calls, call{table, added, firstRowID})
	}
	st, err := NewSQLiteStore(openTestDB(t, "hook.db"), WithSchemaHook(hook))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	mustAppend(t, st, inventory.Record{Counts: counts("lays", 1, "coke", 2)})
	mustAppend(t, st, inventory.Record{Counts: counts("lays", 0, "coke", 1)})
	third := mustAppend(t, st, inventory.Record{Counts: counts("lays", 0, "coke", 1, "sprite", 4)})

	if len(calls) != 2 {
		t.Fatalf("hook calls = %d, want 2", len(calls))
	}
	if fmt.Sprint(calls[0].added) != "[coke lays]" || calls[0].id != 1 || calls[0].table != DefaultObservationTable {
		t.Fatalf("first hook call = %+v", calls[0])
	}
	if fmt.Sprint(calls[1].added) != "[sprite]" || calls[1].id != third.ID {
		t.Fatalf("second hook call = %+v", calls[1])
	}
}
