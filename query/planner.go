package query

import (
	"fmt"

	"github.com/jacentio/lattice/constraints"
	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
)

// Build constructs the execution plan for a relational query: one native
// query per AND-branch, collapsed into a direct key fetch or a unique-
// marker lookup when the tree has one of the optimizable shapes, or merged
// as a union otherwise. Point reads cost O(1); a scan is charged for every
// matched row, so shape detection is what keeps common lookups cheap.
func Build(rq *Query, namespace string, keysOnly bool) (Plan, error) {
	if rq.Distinct && len(rq.Columns) == 0 {
		return nil, fmt.Errorf("%w: tried to perform distinct query when projection wasn't possible", datastore.ErrUnsupported)
	}

	m := rq.Model
	kind := m.Concrete().Kind
	projection := rq.ProjectionWithoutPK()

	ordering := rq.Ordering
	var distinctOn []string
	if rq.Distinct {
		distinctOn = append(distinctOn, rq.Columns...)
		if len(ordering) == 0 {
			// Distinct-on queries must be ordered by at least the distinct
			// columns. Distinct is a set property, so any stable order of
			// those columns is correct.
			for _, col := range rq.Columns {
				ordering = append(ordering, datastore.Order{Column: col})
			}
		}
	}

	newNative := func() *datastore.Query {
		q := datastore.NewQuery(kind, namespace)
		q.Projection = projection
		q.DistinctOn = distinctOn
		q.KeysOnly = keysOnly
		q.Ordering = ordering
		return q
	}

	if rq.Where == nil || len(rq.Where.Branches) == 0 {
		return &NativePlan{Query: newNative()}, nil
	}

	queries := make([]*datastore.Query, 0, len(rq.Where.Branches))
	for _, branch := range rq.Where.Branches {
		q := newNative()
		if err := TranslateBranch(q, branch, m, namespace); err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}

	if keys, residuals, ok := keyFetchShape(queries); ok {
		return &KeyFetchPlan{
			Keys:      keys,
			Ordering:  ordering,
			residuals: residuals,
			keysOnly:  keysOnly,
		}, nil
	}

	if len(queries) == 1 {
		if markerKey := uniqueShape(m, queries[0], namespace); markerKey != nil {
			return &UniqueLookupPlan{MarkerKey: markerKey, Query: queries[0]}, nil
		}
		return &NativePlan{Query: queries[0]}, nil
	}

	return &UnionPlan{Queries: queries, Ordering: ordering}, nil
}

// keyFetchShape reports whether every branch constrains identity with
// exactly one equality predicate on the key pseudo-column. The residual
// query per branch carries that branch's remaining filters.
func keyFetchShape(queries []*datastore.Query) (keys []*datastore.Key, residuals []*datastore.Query, ok bool) {
	for _, q := range queries {
		values := q.FilterValues(datastore.KeyColumn, datastore.OpEqual)
		if len(values) != 1 {
			return nil, nil, false
		}
		key, isKey := values[0].(*datastore.Key)
		if !isKey {
			return nil, nil, false
		}

		residual := datastore.NewQuery(q.Kind, q.Namespace)
		for _, clause := range q.Clauses() {
			if clause.Column == datastore.KeyColumn && clause.Op == datastore.OpEqual {
				continue
			}
			for _, v := range clause.Values {
				residual.AddFilter(clause.Column, clause.Op, v)
			}
		}

		keys = append(keys, key)
		residuals = append(residuals, residual)
	}
	return keys, residuals, true
}

// uniqueShape reports whether a single-branch query's predicate set exactly
// matches a declared unique combination: full equality on every field of
// the combination, one value per lookup, and nothing else. Order of the
// predicates does not matter.
func uniqueShape(m *model.Model, q *datastore.Query, namespace string) *datastore.Key {
	if !constraints.HasActiveConstraints(m) {
		return nil
	}

	clauses := q.Clauses()
	values := map[string]any{}
	for _, clause := range clauses {
		if clause.Op != datastore.OpEqual || len(clause.Values) != 1 {
			return nil
		}
		if clause.Column == datastore.KeyColumn {
			return nil
		}
		values[clause.Column] = clause.Values[0]
	}

	for _, combo := range m.UniqueCombinations(true) {
		if len(combo) != len(clauses) {
			continue
		}
		covered := true
		for _, col := range combo {
			if _, ok := values[col]; !ok {
				covered = false
				break
			}
		}
		if !covered {
			continue
		}
		if markerKey := constraints.MarkerKeyFor(m, combo, values, namespace); markerKey != nil {
			return markerKey
		}
	}
	return nil
}
