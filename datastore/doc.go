// Package datastore defines the contract between the query translation
// engine and the underlying document store.
//
// The store is assumed to support only flat per-query filters (AND of
// column/operator/value clauses, where a clause may carry several
// alternative values), key-based batch lookups, single-kind queries and
// flat transactions. There is no OR within a query, no server-side join,
// and no nested transaction. Everything richer than that is synthesized
// by the query and command packages on top of this contract.
//
// # Client Interface
//
// Implementations of [Client] provide the store primitives:
//
//	type Client interface {
//	    RunQuery(ctx context.Context, q *Query, opts RunOptions) ([]*Entity, error)
//	    Get(ctx context.Context, keys []*Key) ([]*Entity, error)
//	    Put(ctx context.Context, entities ...*Entity) error
//	    Delete(ctx context.Context, keys ...*Key) error
//	    AllocateID(ctx context.Context, kind, namespace string) (int64, error)
//	    ReserveID(ctx context.Context, kind string, id int64, namespace string) error
//	    RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error
//	}
//
// Two implementations ship with this module: memstore (in-memory, used by
// tests and local runs) and dynamo (DynamoDB-backed).
//
// # Transactions
//
// A transaction is flat: writes issued through [Transaction] are buffered
// and applied atomically on commit, reads observe the pre-transaction
// state, and write failures surface only from RunInTransaction itself.
// Calling Client.RunInTransaction while another transaction is in flight
// opens an independent transaction with its own commit/rollback boundary;
// it is never nested inside, nor rolled back by, the outer one. The
// constraints package depends on exactly this behaviour.
//
// # Errors
//
// The package also carries the error taxonomy shared by the layers above:
//
//   - [ErrBadEncoding] - a byte payload is not valid UTF-8
//   - [ErrUnsupported] - the operation cannot be expressed against the store
//   - [ErrIntegrity] - key collision, invalid key or unique-constraint violation
//   - [ErrBulkLimit] - a bulk mutation exceeds the transaction write budget
//   - [ErrInvalidFilterValue] - a composite literal was used as a filter operand
package datastore
