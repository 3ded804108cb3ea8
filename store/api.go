package store

import (
	"context"

	"github.com/viant/stockwatch/inventory"
)

// Store defines the durable side of the inventory pipeline. Every error
// returned by an implementation is an *inventory.StorageError,
// *inventory.NotFoundError or *inventory.ConfigurationError.
type Store interface {
	// Append persists one record, extending the schema first when the record
	// carries items the store has never seen. Schema extension and insert are
	// atomic. The returned record carries the assigned ID.
	Append(ctx context.Context, rec inventory.Record) (inventory.Record, error)

	// Recent returns up to n most recently appended records, oldest first.
	// An empty store yields an empty slice.
	Recent(ctx context.Context, n int) ([]inventory.Record, error)

	// Latest returns the most recently appended record or an
	// *inventory.NotFoundError.
	Latest(ctx context.Context) (inventory.Record, error)

	// Thresholds returns the configured per-item minimums in declared order.
	Thresholds(ctx context.Context) (inventory.ThresholdTable, error)
}
