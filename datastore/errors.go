package datastore

import "errors"

var (
	// ErrBadEncoding is returned when a byte payload is not valid UTF-8.
	ErrBadEncoding = errors.New("lattice: bytestring is not encoded in utf-8")

	// ErrUnsupported is returned for operations the store cannot express,
	// such as a distinct query without a projection or an AVERAGE aggregate.
	ErrUnsupported = errors.New("lattice: operation not supported")

	// ErrIntegrity is returned for key collisions, forbidden key values and
	// unique-constraint violations.
	ErrIntegrity = errors.New("lattice: integrity constraint violated")

	// ErrBulkLimit is returned when a bulk mutation exceeds the per-transaction
	// write budget before any write is attempted.
	ErrBulkLimit = errors.New("lattice: bulk operation exceeds the transaction write limit")

	// ErrInvalidFilterValue is returned when a composite literal (a list) is
	// used as a filter operand. The store only accepts scalar operands.
	ErrInvalidFilterValue = errors.New("lattice: filter values must be scalar")

	// ErrIncompleteKey is returned when an operation requires a complete key.
	ErrIncompleteKey = errors.New("lattice: entity key is incomplete")
)
