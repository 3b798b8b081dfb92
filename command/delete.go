package command

import (
	"context"
	"fmt"

	"github.com/jacentio/lattice/constraints"
	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/query"
)

// DeleteCommand removes every row matched by a query. Rows that carry other
// polymorphic layers are reduced rather than deleted: only the target
// model's fields and tag are stripped.
type DeleteCommand struct {
	conn  *Connection
	model *model.Model
	query *query.Query

	executed bool
}

// NewDeleteCommand creates a delete for the query's rows.
func NewDeleteCommand(conn *Connection, m *model.Model, q *query.Query) *DeleteCommand {
	return &DeleteCommand{conn: conn, model: m, query: q}
}

// Execute resolves the target keys and deletes them in one flat
// transaction, returning the number of rows affected.
//
// The batch is capped below the store's per-transaction write ceiling with
// headroom for each row's constraint cleanup; oversized batches fail before
// anything is deleted, since a partial bulk delete would strand marker
// state.
func (c *DeleteCommand) Execute(ctx context.Context) (int, error) {
	if c.executed {
		return 0, fmt.Errorf("%w: delete command executed twice", datastore.ErrUnsupported)
	}
	c.executed = true

	keys, err := resolveKeys(ctx, c.conn, c.query)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	combos := len(c.model.UniqueCombinations(true))
	maxBatch := datastore.TransactionWriteLimit / (combos + 1)
	if len(keys) > maxBatch {
		return 0, fmt.Errorf("%w: cannot delete more than %d rows of %s in one operation",
			datastore.ErrBulkLimit, maxBatch, c.model.Kind)
	}

	ns := c.conn.Namespace
	enforce := constraints.HasActiveConstraints(c.model)

	type heldMarkers struct {
		owner   *datastore.Key
		markers []*datastore.Key
	}

	var deleted []*datastore.Key
	var reduced []*datastore.Key
	var held []heldMarkers
	err = c.conn.Client.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		entities, err := tx.Get(ctx, keys)
		if err != nil {
			return err
		}
		for _, e := range entities {
			if e == nil {
				// Already gone; deleting a missing row is a no-op.
				continue
			}
			if c.stripLayer(e) {
				if err := tx.Put(ctx, e); err != nil {
					return err
				}
				reduced = append(reduced, e.Key)
				continue
			}
			if enforce {
				if m := constraints.MarkerKeys(c.model, e, ns); len(m) > 0 {
					held = append(held, heldMarkers{owner: e.Key, markers: m})
				}
			}
			if err := tx.Delete(ctx, e.Key); err != nil {
				return err
			}
			deleted = append(deleted, e.Key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Marker release is best effort: a leftover marker referencing a gone
	// entity is detected and reclaimed by every write-time existence check,
	// so failure here costs a read, not correctness.
	for _, h := range held {
		if err := constraints.ReleaseMarkers(ctx, c.conn.Client, h.markers, h.owner); err != nil {
			c.conn.warnOnce("failed to release unique markers after delete", "error", err)
		}
	}

	for _, indexer := range c.conn.indexersFor(c.model) {
		for _, key := range deleted {
			if err := indexer.Cleanup(ctx, c.conn.Client, key); err != nil {
				c.conn.warnOnce("secondary index cleanup failed", "kind", c.model.Kind, "error", err)
			}
		}
	}

	touched := append(append([]*datastore.Key{}, deleted...), reduced...)
	c.conn.invalidate(touched)
	return len(touched), nil
}

// stripLayer reduces a multi-layer polymorphic entity in place: the target
// model's tag and local fields are removed while the other layers survive.
// It reports false when the row should be deleted outright.
func (c *DeleteCommand) stripLayer(e *datastore.Entity) bool {
	if !c.model.HasConcreteParents() {
		return false
	}
	raw, _ := e.Get(model.TypeTagColumn)
	tags, ok := raw.([]any)
	if !ok {
		return false
	}
	var remaining []any
	for _, tag := range tags {
		if tag != c.model.Kind {
			remaining = append(remaining, tag)
		}
	}
	if len(remaining) == 0 || len(remaining) == len(tags) {
		return false
	}
	for _, f := range c.model.LocalFields() {
		e.Remove(f.Column)
	}
	e.Set(model.TypeTagColumn, remaining)
	return true
}
