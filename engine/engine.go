package engine

import (
	"database/sql"
	"net/url"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// DefaultBusyTimeoutMs is how long a connection waits on a locked database
// before the driver reports SQLITE_BUSY.
const DefaultBusyTimeoutMs = 5000

// Open opens a SQLite database using the modernc.org/sqlite driver.
//
// For file-based databases, pass a path like "./db.sqlite". For in-memory
// databases, pass ":memory:". The inventory SQL functions are registered
// before the first connection is made.
func Open(dsn string) (*sql.DB, error) {
	RegisterInventoryFunctions()
	return sql.Open("sqlite", dsn)
}

// OpenPath opens a file-backed database configured for several concurrent
// writers: WAL journaling, a busy timeout and BEGIN IMMEDIATE transactions so
// that a writer holds the database lock from the first statement of its
// transaction.
//
// ":memory:" is accepted as well; since every pooled connection would see its
// own private in-memory database, the pool is limited to one connection.
func OpenPath(path string) (*sql.DB, error) {
	if path == ":memory:" || path == "" {
		db, err := Open(":memory:")
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		return db, nil
	}
	return Open(DSN(path))
}

// DSN builds the driver connection string used by OpenPath.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout("+strconv.Itoa(DefaultBusyTimeoutMs)+")")
	q.Set("_txlock", "immediate")
	name := path
	if !strings.HasPrefix(name, "file:") {
		name = "file:" + name
	}
	return name + "?" + q.Encode()
}
