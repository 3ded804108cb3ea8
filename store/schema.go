package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/viant/stockwatch/inventory"
)

const (
	// DefaultObservationTable holds one row per processed frame.
	DefaultObservationTable = "warehouse_rack"

	// DefaultThresholdTable holds one row per configured item minimum.
	DefaultThresholdTable = "items_min_count"

	// SchemaLogTable records every item column added to an observation table.
	SchemaLogTable = "inventory_schema_log"
)

// Fixed columns of an observation table. Every other column is an item count.
const (
	columnID        = "id"
	columnTimestamp = "frame_timestamp"
	columnFrameNo   = "frame_no"
)

var reservedColumns = map[string]bool{
	columnID:        true,
	columnTimestamp: true,
	columnFrameNo:   true,
	"rowid":         true,
	"oid":           true,
	"_rowid_":       true,
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ObservationTableDDL returns the base DDL of an observation table. Item
// columns are added later, one ALTER TABLE per newly seen item.
func ObservationTableDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + quoteIdent(table) + ` (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    frame_timestamp DATETIME,
    frame_no        INTEGER
);`
}

// ThresholdTableDDL returns the DDL of the thresholds table. The layout
// matches the table written by the legacy seeding script, so existing
// databases are read as they are.
func ThresholdTableDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + quoteIdent(table) + ` (
    items   TEXT NOT NULL,
    minimum INTEGER NOT NULL
);`
}

// SchemaLogDDL returns the DDL of the schema extension log.
func SchemaLogDDL() string {
	return `CREATE TABLE IF NOT EXISTS ` + SchemaLogTable + ` (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    table_name   TEXT NOT NULL,
    column_name  TEXT NOT NULL,
    first_row_id INTEGER NOT NULL,
    applied_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
}

// AddItemColumnDDL returns the statement adding an item column. Existing rows
// read NULL for it.
func AddItemColumnDDL(table, item string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s INTEGER", quoteIdent(table), quoteIdent(item))
}

// CheckVocabulary rejects item names that would collide with the fixed
// columns of an observation table.
func CheckVocabulary(vocab inventory.Vocabulary) error {
	for _, item := range vocab.Items() {
		if isReserved(string(item)) {
			return inventory.Configurationf("item %q collides with a reserved column name", item)
		}
	}
	return nil
}

func isReserved(name string) bool {
	return reservedColumns[strings.ToLower(name)]
}

func validTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return inventory.Configurationf("invalid table name %q", name)
	}
	return nil
}

// quoteIdent quotes an SQL identifier. Item names come from detector labels
// and may contain spaces or punctuation.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// columns is the live column set of an observation table. It only grows.
type columns struct {
	items  []string
	byFold map[string]string
}

func loadColumns(ctx context.Context, q querier, table string) (columns, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return columns{}, err
	}
	defer rows.Close()
	c := columns{byFold: make(map[string]string)}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return columns{}, err
		}
		c.byFold[strings.ToLower(name)] = name
		if !isReserved(name) {
			c.items = append(c.items, name)
		}
	}
	if err := rows.Err(); err != nil {
		return columns{}, err
	}
	if len(c.byFold) == 0 {
		return columns{}, fmt.Errorf("store: table %s does not exist", table)
	}
	return c, nil
}

func (c columns) has(name string) bool {
	_, ok := c.byFold[strings.ToLower(name)]
	return ok
}

// missing returns the items without a column, in name order. An item whose
// name matches an existing column only when letter case is ignored cannot be
// stored, since SQLite would resolve it to the other item's column.
func (c columns) missing(items []inventory.ItemClass) ([]string, error) {
	var out []string
	for _, item := range items {
		name := string(item)
		existing, ok := c.byFold[strings.ToLower(name)]
		if !ok {
			out = append(out, name)
			continue
		}
		if existing != name {
			return nil, fmt.Errorf("store: item %q conflicts with existing column %q", name, existing)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c columns) selectList() string {
	parts := make([]string, 0, len(c.items)+3)
	parts = append(parts, columnID, "CAST("+columnTimestamp+" AS TEXT)", columnFrameNo)
	for _, item := range c.items {
		parts = append(parts, quoteIdent(item))
	}
	return strings.Join(parts, ", ")
}
