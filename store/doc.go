// Package store persists inventory records in SQLite. It includes:
//   - Store interface: append plus the history read path
//   - SQLiteStore: observation table whose item columns grow on demand
//   - Schema helpers: identifier quoting, live column discovery, DDL
//   - A schema log recording the row that introduced each item column
//
// Row order always comes from the observation table's AUTOINCREMENT id,
// never from caller-supplied timestamps or frame numbers.
package store
