package command

import (
	"context"
	"fmt"

	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/query"
)

// SelectCommand executes one relational read: plan the query, run it, and
// push every result through the projector pipeline. Commands are
// single-use.
type SelectCommand struct {
	conn  *Connection
	query *query.Query

	executed bool
	count    int
}

// NewSelectCommand creates a select command for one relational query.
func NewSelectCommand(conn *Connection, q *query.Query) *SelectCommand {
	return &SelectCommand{conn: conn, query: q}
}

// keysOnlyQuery decides whether the native queries can skip fetching
// properties. A projection of nothing but the primary key needs only keys;
// merged multi-branch plans always need full entities so the merge can
// re-apply ordering.
func (c *SelectCommand) keysOnlyQuery() bool {
	q := c.query
	if q.Where != nil && len(q.Where.Branches) > 1 {
		return false
	}
	if q.Aggregate == query.AggregateCount {
		return true
	}
	return len(q.Columns) > 0 && len(q.ProjectionWithoutPK()) == 0
}

// Execute runs the query and returns the transformed results. For count
// aggregates the result slice is nil and the count is available through
// [SelectCommand.Count].
func (c *SelectCommand) Execute(ctx context.Context) ([]*datastore.Entity, error) {
	if c.executed {
		return nil, fmt.Errorf("%w: select command executed twice", datastore.ErrUnsupported)
	}
	c.executed = true

	q := c.query
	if q.Aggregate == query.AggregateAverage {
		return nil, fmt.Errorf("%w: AVG aggregation has no native form", datastore.ErrUnsupported)
	}

	plan, err := query.Build(q, c.conn.Namespace, c.keysOnlyQuery())
	if err != nil {
		return nil, err
	}

	// Exclusions arrive keyed against the default namespace; rewrite them
	// into the connection's namespace so they compare against fetched keys.
	excluded := map[string]bool{}
	for _, k := range q.ExcludedKeys {
		excluded[k.WithNamespace(c.conn.Namespace).String()] = true
	}

	// Every excluded key may consume one fetched row, so the fetch window
	// widens by the exclusion count and the loop below re-imposes the
	// caller's limit.
	limit := q.Limit()
	opts := datastore.RunOptions{Offset: q.LowMark}
	if limit > 0 {
		opts.Limit = limit + len(excluded)
	}

	raw, err := plan.Run(ctx, c.conn.Client, opts)
	if err != nil {
		return nil, err
	}

	// Computed columns can collapse rows the store considered distinct, so
	// distinct queries with extra selects dedupe again post-transform.
	var sigColumns []string
	if q.Distinct && len(q.ExtraSelects) > 0 {
		sigColumns = q.ProjectionWithoutPK()
		for _, extra := range q.ExtraSelects {
			sigColumns = append(sigColumns, extra.Column)
		}
	}
	seen := map[string]bool{}

	results := make([]*datastore.Entity, 0, len(raw))
	for _, e := range raw {
		e = ignoreExcludedKeys(excluded, e)
		e = convertDatetimeFields(q.Model, e)
		e = fixProjectedText(q.Model, e)
		e = renamePKColumn(q.Model, e)
		e, err = processExtraSelects(q.ExtraSelects, e)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		if sigColumns != nil {
			sig := distinctSignature(sigColumns, e)
			if seen[sig] {
				continue
			}
			seen[sig] = true
		}
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}

	if q.Aggregate == query.AggregateCount {
		c.count = len(results)
		return nil, nil
	}
	return results, nil
}

// Count returns the row count of an executed count aggregate.
func (c *SelectCommand) Count() int {
	return c.count
}
