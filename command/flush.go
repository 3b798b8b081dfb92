package command

import (
	"context"
	"fmt"

	"github.com/jacentio/lattice/datastore"
)

// FlushCommand wipes every row of one kind. Markers owned by the wiped rows
// are left behind as stale; every write-time existence check reclaims them.
type FlushCommand struct {
	conn *Connection
	kind string

	executed bool
}

// NewFlushCommand creates a flush for one kind.
func NewFlushCommand(conn *Connection, kind string) *FlushCommand {
	return &FlushCommand{conn: conn, kind: kind}
}

// Execute deletes the kind's rows in store-limit sized batches until a
// keys-only scan comes back empty.
func (c *FlushCommand) Execute(ctx context.Context) error {
	if c.executed {
		return fmt.Errorf("%w: flush command executed twice", datastore.ErrUnsupported)
	}
	c.executed = true

	q := datastore.NewQuery(c.kind, c.conn.Namespace)
	q.KeysOnly = true

	for {
		results, err := c.conn.Client.RunQuery(ctx, q, datastore.RunOptions{Limit: datastore.TransactionWriteLimit})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return nil
		}
		keys := make([]*datastore.Key, len(results))
		for i, e := range results {
			keys[i] = e.Key
		}
		if err := c.conn.Client.Delete(ctx, keys...); err != nil {
			return err
		}
		c.conn.invalidate(keys)
	}
}
