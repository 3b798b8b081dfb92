package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/jacentio/lattice/constraints"
	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
)

// InsertCommand writes new rows. Each row becomes one primary entity plus
// its descendant records; rows with unique constraints acquire their
// markers before the entity write and compensate by deleting them if the
// write fails.
type InsertCommand struct {
	conn  *Connection
	model *model.Model
	rows  []map[string]any

	executed bool
}

// NewInsertCommand creates an insert for one or more rows of column values.
func NewInsertCommand(conn *Connection, m *model.Model, rows []map[string]any) *InsertCommand {
	return &InsertCommand{conn: conn, model: m, rows: rows}
}

// Execute inserts every row and returns the keys in row order. Rows commit
// in chunks sized to the store's transaction write limit; a failure rolls
// the failing chunk's entities back with its transaction and compensates
// its already-committed marker acquisitions by deleting them.
func (c *InsertCommand) Execute(ctx context.Context) ([]*datastore.Key, error) {
	if c.executed {
		return nil, fmt.Errorf("%w: insert command executed twice", datastore.ErrUnsupported)
	}
	c.executed = true

	ns := c.conn.Namespace
	type pending struct {
		primary     *datastore.Entity
		descendants []*datastore.Entity
		explicitPK  bool
	}

	batch := make([]pending, 0, len(c.rows))
	for _, row := range c.rows {
		if err := c.checkPK(row); err != nil {
			return nil, err
		}
		primary, descendants, err := buildEntities(c.model, ns, row)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(primary.Key.Name, "__") {
			return nil, fmt.Errorf("%w: key names beginning with __ are reserved", datastore.ErrIntegrity)
		}
		batch = append(batch, pending{
			primary:     primary,
			descendants: descendants,
			explicitPK:  !primary.Key.Incomplete(),
		})
	}

	// Complete every key up front: marker ownership and descendant
	// parenting both need the final identity.
	for i := range batch {
		p := &batch[i]
		if p.primary.Key.Incomplete() {
			id, err := c.conn.Client.AllocateID(ctx, p.primary.Key.Kind, ns)
			if err != nil {
				return nil, err
			}
			p.primary.Key = p.primary.Key.Complete(id)
		} else if p.primary.Key.ID != 0 {
			if err := c.conn.Client.ReserveID(ctx, p.primary.Key.Kind, p.primary.Key.ID, ns); err != nil {
				return nil, err
			}
		}
		for _, d := range p.descendants {
			d.Key = d.Key.WithParent(p.primary.Key)
		}
	}

	enforce := constraints.HasActiveConstraints(c.model)
	if enforce {
		primaries := make([]*datastore.Entity, len(batch))
		for i, p := range batch {
			primaries[i] = p.primary
		}
		if err := constraints.CheckBulkInMemory(c.model, primaries, ns); err != nil {
			return nil, err
		}
	}

	// Child layers of a polymorphic model write onto the root kind's row, so
	// only root models treat an existing row as a collision.
	checkExisting := !c.model.HasConcreteParents()

	// Chunk against the store's per-transaction write ceiling. Marker
	// acquisitions run as independent transactions and do not count against
	// the chunk's budget.
	keys := make([]*datastore.Key, 0, len(batch))
	for start := 0; start < len(batch); {
		end, writes := start, 0
		for end < len(batch) {
			rowWrites := 1 + len(batch[end].descendants)
			if writes > 0 && writes+rowWrites > datastore.TransactionWriteLimit {
				break
			}
			writes += rowWrites
			end++
		}
		chunk := batch[start:end]
		start = end

		var acquired []acquiredMarker
		err := c.conn.Client.RunInTransaction(ctx, func(tx datastore.Transaction) error {
			for _, p := range chunk {
				if p.explicitPK && checkExisting {
					existing, err := tx.Get(ctx, []*datastore.Key{p.primary.Key})
					if err != nil {
						return err
					}
					if existing[0] != nil {
						return fmt.Errorf("%w: insert with existing key %s", datastore.ErrIntegrity, p.primary.Key)
					}
				}
				entities := append([]*datastore.Entity{p.primary}, p.descendants...)
				if err := tx.Put(ctx, entities...); err != nil {
					return err
				}
				if enforce {
					markers := constraints.MarkerKeys(c.model, p.primary, ns)
					got, err := constraints.AcquireMarkers(ctx, c.conn.Client, markers, p.primary.Key)
					for _, marker := range got {
						acquired = append(acquired, acquiredMarker{marker: marker, owner: p.primary.Key})
					}
					if err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			// The chunk's entity writes rolled back with the transaction,
			// but each marker acquisition already committed on its own.
			c.rollbackMarkers(ctx, acquired)
			return nil, err
		}
		for _, p := range chunk {
			keys = append(keys, p.primary.Key)
		}
	}

	c.conn.invalidate(keys)
	return keys, nil
}

// checkPK validates a row's primary-key value against the model's policy:
// a non-blank PK must be present, and zero is forbidden because the store's
// key space cannot represent it.
func (c *InsertCommand) checkPK(row map[string]any) error {
	pk := c.model.PK()
	if pk == nil {
		return nil
	}
	v := datastore.NormalizeValue(row[pk.Column])
	if v == nil {
		if !pk.Blank {
			return fmt.Errorf("%w: the model's primary key cannot be empty", datastore.ErrIntegrity)
		}
		return nil
	}
	if id, ok := v.(int64); ok && id == 0 {
		return fmt.Errorf("%w: the store cannot store a key with id 0", datastore.ErrIntegrity)
	}
	return nil
}

// acquiredMarker remembers which row's key a committed marker acquisition
// named as its instance, so rollback can release under the right owner.
type acquiredMarker struct {
	marker *datastore.Key
	owner  *datastore.Key
}

// rollbackMarkers compensates a failed chunk by deleting the markers its
// already-committed acquisition transactions created, one release per
// owning row.
func (c *InsertCommand) rollbackMarkers(ctx context.Context, acquired []acquiredMarker) {
	for i := 0; i < len(acquired); {
		owner := acquired[i].owner
		var markers []*datastore.Key
		for i < len(acquired) && acquired[i].owner.Equal(owner) {
			markers = append(markers, acquired[i].marker)
			i++
		}
		if err := constraints.ReleaseMarkers(ctx, c.conn.Client, markers, owner); err != nil {
			c.conn.warnOnce("failed to roll back unique markers after aborted insert", "error", err)
		}
	}
}
