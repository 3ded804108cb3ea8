// Package invadmin exposes low-stock alerts to plain SQL through a virtual
// table, so the stock state can be inspected with ad-hoc queries issued by
// the running process (for example through a database/sql handle shared
// with the store).
//
// Usage:
//
//	CREATE VIRTUAL TABLE stock_alerts USING stock_alerts(item);
//	SELECT item, count, minimum FROM stock_alerts WHERE item MATCH 'latest';
//	SELECT item FROM stock_alerts WHERE item MATCH '42'; -- record id 42
//
// Each row is an item below its minimum, in threshold order.
//
// Modules are registered per process and only installed on connections
// opened after registration, so Register must run before the first
// statement on the handle. Bind attaches the store later; the last Bind
// serves every stock_alerts table. Another process (such as the sqlite
// shell) sees the table in the schema but cannot read it. The store should
// use a handle that can open a second connection (a file database, not
// :memory:), since the cursor reads while the outer statement holds its own
// connection.
package invadmin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite/vtab"

	"github.com/viant/stockwatch/inventory"
)

// ModuleName is the name used in CREATE VIRTUAL TABLE ... USING.
const ModuleName = "stock_alerts"

// Source is the read side of a store.
type Source interface {
	Latest(ctx context.Context) (inventory.Record, error)
	Record(ctx context.Context, id int64) (inventory.Record, error)
	Thresholds(ctx context.Context) (inventory.ThresholdTable, error)
}

// Module implements vtab.Module for stock_alerts.
type Module struct {
	mu       sync.RWMutex
	source   Source
	joinOpts []inventory.JoinOption
	timeout  time.Duration
}

var module = &Module{timeout: 5 * time.Second}

// Register installs the stock_alerts module. It must be called before the
// first connection of db is opened; connections already in the pool do not
// see the module.
func Register(db *sql.DB) error {
	if err := vtab.RegisterModule(db, ModuleName, module); err != nil {
		if !strings.Contains(err.Error(), "already registered") {
			return err
		}
	}
	return nil
}

// Bind sets the store answering stock_alerts queries.
func Bind(src Source, opts ...inventory.JoinOption) error {
	if src == nil {
		return fmt.Errorf("%s: source is nil", ModuleName)
	}
	module.mu.Lock()
	module.source = src
	module.joinOpts = opts
	module.mu.Unlock()
	return nil
}

// CreateTable creates the stock_alerts virtual table unless it exists.
func CreateTable(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING %s(item)", ModuleName, ModuleName)); err != nil {
		return fmt.Errorf("create %s table: %w", ModuleName, err)
	}
	return nil
}

// Table is one stock_alerts virtual table.
type Table struct{ module *Module }

// Cursor iterates the deficient levels of one record.
type Cursor struct {
	table *Table
	rows  []row
	pos   int
}

type row struct {
	item     string
	count    int
	minimum  int
	recordID int64
}

// Create declares the table schema.
func (m *Module) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.declare(ctx, args)
}

// Connect attaches to an existing table.
func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.declare(ctx, args)
}

func (m *Module) declare(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("%s: need at least 3 args, got %d", ModuleName, len(args))
	}
	if err := ctx.Declare(fmt.Sprintf("CREATE TABLE %s(item TEXT, count INTEGER, minimum INTEGER, record_id INTEGER)", args[2])); err != nil {
		return nil, err
	}
	return &Table{module: m}, nil
}

// BestIndex pushes down MATCH on the item column.
func (t *Table) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable {
			continue
		}
		if c.Column == 0 && c.Op == vtab.OpMATCH {
			c.ArgIndex = 0
			c.Omit = true
			info.IdxNum = 1
			break
		}
	}
	return nil
}

// Open allocates a new cursor.
func (t *Table) Open() (vtab.Cursor, error) { return &Cursor{table: t}, nil }

// Disconnect releases nothing.
func (t *Table) Disconnect() error { return nil }

// Destroy releases nothing; no shadow tables are kept.
func (t *Table) Destroy() error { return nil }

// Filter loads the deficient items of the record named by the MATCH
// argument. Without MATCH the latest record is used.
func (c *Cursor) Filter(idxNum int, idxStr string, vals []vtab.Value) error {
	c.rows = nil
	c.pos = 0
	target := "latest"
	if idxNum == 1 && len(vals) > 0 && vals[0] != nil {
		switch v := vals[0].(type) {
		case string:
			target = strings.TrimSpace(v)
		case int64:
			target = strconv.FormatInt(v, 10)
		default:
			return fmt.Errorf("%s: MATCH expects 'latest' or a record id", ModuleName)
		}
	}
	rows, err := c.table.module.alerts(target)
	if err != nil {
		return err
	}
	c.rows = rows
	return nil
}

func (m *Module) alerts(target string) ([]row, error) {
	m.mu.RLock()
	src, opts, timeout := m.source, m.joinOpts, m.timeout
	m.mu.RUnlock()
	if src == nil {
		return nil, fmt.Errorf("%s: no source registered", ModuleName)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var rec inventory.Record
	var err error
	if strings.EqualFold(target, "latest") || target == "" {
		rec, err = src.Latest(ctx)
	} else {
		id, perr := strconv.ParseInt(target, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("%s: MATCH expects 'latest' or a record id, got %q", ModuleName, target)
		}
		rec, err = src.Record(ctx, id)
	}
	if errors.Is(err, inventory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	table, err := src.Thresholds(ctx)
	if err != nil {
		return nil, err
	}
	snap := inventory.Join(rec, table, opts...)
	var out []row
	for _, item := range inventory.Deficient(snap) {
		level, _ := snap.Lookup(item)
		out = append(out, row{item: string(item), count: level.Count, minimum: level.Minimum, recordID: rec.ID})
	}
	return out, nil
}

// Next advances the cursor.
func (c *Cursor) Next() error {
	if c.pos < len(c.rows) {
		c.pos++
	}
	return nil
}

// Eof reports whether the cursor is exhausted.
func (c *Cursor) Eof() bool { return c.pos >= len(c.rows) }

// Column returns the value of column col of the current row.
func (c *Cursor) Column(col int) (vtab.Value, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, fmt.Errorf("%s: Column out of range", ModuleName)
	}
	r := c.rows[c.pos]
	switch col {
	case 0:
		return r.item, nil
	case 1:
		return int64(r.count), nil
	case 2:
		return int64(r.minimum), nil
	case 3:
		return r.recordID, nil
	}
	return nil, nil
}

// Rowid returns the position of the current row.
func (c *Cursor) Rowid() (int64, error) { return int64(c.pos + 1), nil }

// Close releases the cursor's rows.
func (c *Cursor) Close() error {
	c.rows = nil
	c.pos = 0
	return nil
}
