package datastore

import "context"

// TransactionWriteLimit is the store's hard ceiling on write operations per
// transaction. Bulk mutations must budget marker writes against it.
const TransactionWriteLimit = 500

// RunOptions bound a query execution. A Limit of zero or less means
// unlimited.
type RunOptions struct {
	Limit  int
	Offset int
}

// Client provides the store primitives the engine is built on. All calls
// are synchronous RPCs; timeout and retry behaviour belong to the
// implementation.
type Client interface {
	// RunQuery executes one native query and returns the matched entities.
	// Keys-only queries return entities carrying only their key.
	RunQuery(ctx context.Context, q *Query, opts RunOptions) ([]*Entity, error)

	// Get batch-fetches entities by key. The result has one slot per input
	// key, nil where no entity exists.
	Get(ctx context.Context, keys []*Key) ([]*Entity, error)

	// Put writes entities. Keys must be complete.
	Put(ctx context.Context, entities ...*Entity) error

	// Delete removes entities by key. Missing keys are not an error.
	Delete(ctx context.Context, keys ...*Key) error

	// AllocateID returns a fresh integer id for the kind, never one that
	// has been reserved or handed out before.
	AllocateID(ctx context.Context, kind, namespace string) (int64, error)

	// ReserveID marks an explicitly chosen integer id as taken so future
	// allocations never collide with it.
	ReserveID(ctx context.Context, kind string, id int64, namespace string) error

	// RunInTransaction runs fn inside a flat transaction: writes through tx
	// are buffered and applied atomically iff fn returns nil; write
	// failures surface from RunInTransaction itself. A RunInTransaction
	// call made while another transaction is in flight is independent, with
	// its own commit/rollback boundary.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error
}

// Transaction is the buffered view handed to a RunInTransaction callback.
// Reads observe the pre-transaction state.
type Transaction interface {
	Get(ctx context.Context, keys []*Key) ([]*Entity, error)
	Put(ctx context.Context, entities ...*Entity) error
	Delete(ctx context.Context, keys ...*Key) error
}
