package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/lattice/constraints"
	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/query"
)

// errMissingRow marks an update target that vanished between key resolution
// and the transactional re-fetch. The row counts as not-updated, never as a
// hard failure.
var errMissingRow = errors.New("lattice: row no longer exists")

// markerOutcome records what the marker phase of one row mutation actually
// did, so compensation after a failed commit works from facts rather than
// from closure side effects.
type markerOutcome struct {
	// acquired markers were newly created for the new value state; a failed
	// mutation deletes them.
	acquired []*datastore.Key
	// released markers belonged to the original value state and were
	// deleted; a failed mutation re-acquires them.
	released []*datastore.Key
}

// UpdateCommand merges column values into every row matched by a query.
// Marker transitions run as independent transactions around the entity
// write and are manually compensated when the write fails.
type UpdateCommand struct {
	conn   *Connection
	model  *model.Model
	query  *query.Query
	values map[string]any

	executed bool
}

// NewUpdateCommand creates an update applying values to the query's rows.
func NewUpdateCommand(conn *Connection, m *model.Model, q *query.Query, values map[string]any) *UpdateCommand {
	return &UpdateCommand{conn: conn, model: m, query: q, values: values}
}

// Execute resolves the target keys, updates each row in its own flat
// transaction and returns the number of rows actually updated.
func (c *UpdateCommand) Execute(ctx context.Context) (int, error) {
	if c.executed {
		return 0, fmt.Errorf("%w: update command executed twice", datastore.ErrUnsupported)
	}
	c.executed = true

	keys, err := resolveKeys(ctx, c.conn, c.query)
	if err != nil {
		return 0, err
	}

	updated := 0
	var touched []*datastore.Key
	for _, key := range keys {
		ok, err := c.updateOne(ctx, key)
		if err != nil {
			c.conn.invalidate(touched)
			return updated, err
		}
		if ok {
			updated++
			touched = append(touched, key)
		}
	}

	c.conn.invalidate(touched)
	return updated, nil
}

func (c *UpdateCommand) updateOne(ctx context.Context, key *datastore.Key) (bool, error) {
	ns := c.conn.Namespace
	enforce := constraints.HasActiveConstraints(c.model)

	var outcome markerOutcome
	err := c.conn.Client.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		existing, err := tx.Get(ctx, []*datastore.Key{key})
		if err != nil {
			return err
		}
		if existing[0] == nil {
			return errMissingRow
		}
		original := existing[0].Clone()

		merged, descendants, err := c.merge(existing[0])
		if err != nil {
			return err
		}

		if enforce {
			toAcquire, toRelease := constraints.Diff(
				constraints.MarkerKeys(c.model, original, ns),
				constraints.MarkerKeys(c.model, merged, ns),
			)
			// Acquire before releasing so the row never passes through a
			// state where it holds none of its markers.
			outcome.acquired, err = constraints.AcquireMarkers(ctx, c.conn.Client, toAcquire, key)
			if err != nil {
				return err
			}
			if err := constraints.ReleaseMarkers(ctx, c.conn.Client, toRelease, key); err != nil {
				return err
			}
			outcome.released = toRelease
		}

		entities := append([]*datastore.Entity{merged}, descendants...)
		return tx.Put(ctx, entities...)
	})
	if err != nil {
		if errors.Is(err, errMissingRow) {
			return false, nil
		}
		c.compensate(ctx, key, outcome)
		return false, err
	}
	return true, nil
}

// merge applies the command's values onto the fetched entity: nil values
// remove the column, descendant-kind fields become child records re-parented
// under the row's key, and the polymorphic tag union is preserved so a
// partial update never erases inherited-type layers.
func (c *UpdateCommand) merge(e *datastore.Entity) (*datastore.Entity, []*datastore.Entity, error) {
	props, descendants, err := splitValues(c.model, c.conn.Namespace, c.values)
	if err != nil {
		return nil, nil, err
	}

	for column, v := range props {
		if v == nil {
			e.Remove(column)
			continue
		}
		e.Set(column, v)
	}

	if c.model.HasConcreteParents() {
		existingTags, _ := e.Get(model.TypeTagColumn)
		e.Set(model.TypeTagColumn, unionTags(existingTags, typeTags(c.model)))
	}

	for _, d := range descendants {
		d.Key = d.Key.WithParent(e.Key)
	}
	return e, descendants, nil
}

// compensate restores the pre-update marker set after a failed mutation:
// re-acquire what was released, then delete what was acquired. Restore runs
// first so a partial compensation errs toward holding too many markers, not
// too few.
func (c *UpdateCommand) compensate(ctx context.Context, key *datastore.Key, outcome markerOutcome) {
	if len(outcome.released) > 0 {
		if _, err := constraints.AcquireMarkers(ctx, c.conn.Client, outcome.released, key); err != nil {
			c.conn.warnOnce("failed to restore unique markers after aborted update", "error", err)
		}
	}
	if len(outcome.acquired) > 0 {
		if err := constraints.ReleaseMarkers(ctx, c.conn.Client, outcome.acquired, key); err != nil {
			c.conn.warnOnce("failed to roll back unique markers after aborted update", "error", err)
		}
	}
}

// unionTags merges two polymorphic tag lists preserving the existing order.
func unionTags(existing any, add []any) []any {
	var out []any
	seen := map[any]bool{}
	if list, ok := existing.([]any); ok {
		for _, tag := range list {
			if !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
	}
	for _, tag := range add {
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

// resolveKeys runs the query keys-only and returns the matched identities.
func resolveKeys(ctx context.Context, conn *Connection, q *query.Query) ([]*datastore.Key, error) {
	kq := *q
	kq.Aggregate = query.AggregateNone
	kq.Distinct = false
	kq.ExtraSelects = nil
	kq.Columns = nil
	if pk := q.Model.PK(); pk != nil {
		kq.Columns = []string{pk.Column}
	}

	results, err := NewSelectCommand(conn, &kq).Execute(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]*datastore.Key, len(results))
	for i, e := range results {
		keys[i] = e.Key
	}
	return keys, nil
}
