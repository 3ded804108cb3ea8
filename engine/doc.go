// Package engine provides helpers for working with the modernc.org/sqlite
// driver in this module: opening connections with the pragmas the inventory
// store relies on, and the stock_deficit/below_minimum SQL functions for ad
// hoc queries. It intentionally keeps a thin surface so other packages can
// share the same driver instance.
package engine
