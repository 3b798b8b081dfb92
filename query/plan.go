package query

import (
	"context"

	"github.com/jacentio/lattice/constraints"
	"github.com/jacentio/lattice/datastore"
)

// Plan is an executable translation of one relational query. Plans are
// produced by [Build] and run at most once by the owning command.
type Plan interface {
	Run(ctx context.Context, client datastore.Client, opts datastore.RunOptions) ([]*datastore.Entity, error)
}

// NativePlan runs a single native query unchanged.
type NativePlan struct {
	Query *datastore.Query
}

// Run implements Plan.
func (p *NativePlan) Run(ctx context.Context, client datastore.Client, opts datastore.RunOptions) ([]*datastore.Entity, error) {
	return client.RunQuery(ctx, p.Query, opts)
}

// UnionPlan runs one native query per branch and merges the streams into
// one: results are deduplicated by key and re-ordered by the requested
// ordering, not by branch order.
type UnionPlan struct {
	Queries  []*datastore.Query
	Ordering []datastore.Order
}

// Run implements Plan.
func (p *UnionPlan) Run(ctx context.Context, client datastore.Client, opts datastore.RunOptions) ([]*datastore.Entity, error) {
	// Each branch must over-fetch the whole window; the offset can only be
	// applied to the merged stream.
	branchOpts := datastore.RunOptions{}
	if opts.Limit > 0 {
		branchOpts.Limit = opts.Limit + opts.Offset
	}

	seen := map[string]bool{}
	var merged []*datastore.Entity
	for _, q := range p.Queries {
		results, err := client.RunQuery(ctx, q, branchOpts)
		if err != nil {
			return nil, err
		}
		for _, e := range results {
			id := e.Key.String()
			if seen[id] {
				continue
			}
			seen[id] = true
			merged = append(merged, e)
		}
	}

	datastore.SortEntities(merged, p.Ordering)
	return window(merged, opts), nil
}

// KeyFetchPlan replaces branch queries with one batch get: every branch
// constrained identity with a single equality, so the scan is unnecessary.
// Residual (non-key) branch filters are applied to the fetched entities so
// the plan stays semantically equal to the queries it replaced.
type KeyFetchPlan struct {
	Keys     []*datastore.Key
	Ordering []datastore.Order

	residuals []*datastore.Query
	keysOnly  bool
}

// Run implements Plan.
func (p *KeyFetchPlan) Run(ctx context.Context, client datastore.Client, opts datastore.RunOptions) ([]*datastore.Entity, error) {
	// Dedupe while preserving the tree's original key order; a key reached
	// from several branches matches if any of those branches accepts it.
	var unique []*datastore.Key
	residualsByKey := map[string][]*datastore.Query{}
	for i, k := range p.Keys {
		id := k.String()
		if _, ok := residualsByKey[id]; !ok {
			unique = append(unique, k)
		}
		residualsByKey[id] = append(residualsByKey[id], p.residuals[i])
	}

	fetched, err := client.Get(ctx, unique)
	if err != nil {
		return nil, err
	}

	var results []*datastore.Entity
	for _, e := range fetched {
		if e == nil {
			continue
		}
		matched := false
		for _, residual := range residualsByKey[e.Key.String()] {
			ok, err := residual.Matches(e)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if p.keysOnly {
			e = &datastore.Entity{Key: e.Key}
		}
		results = append(results, e)
	}

	if len(p.Ordering) > 0 {
		datastore.SortEntities(results, p.Ordering)
	}
	return window(results, opts), nil
}

// UniqueLookupPlan resolves a single-branch query that exactly matches a
// declared unique combination through its marker record: marker get, then
// entity get, instead of a scan. Markers are tolerated but never trusted;
// the fetched entity is re-checked against the original filters.
type UniqueLookupPlan struct {
	MarkerKey *datastore.Key
	Query     *datastore.Query
}

// Run implements Plan.
func (p *UniqueLookupPlan) Run(ctx context.Context, client datastore.Client, opts datastore.RunOptions) ([]*datastore.Entity, error) {
	markers, err := client.Get(ctx, []*datastore.Key{p.MarkerKey})
	if err != nil {
		return nil, err
	}
	if markers[0] == nil {
		return nil, nil
	}
	instance, _ := markers[0].Get(constraints.PropInstance)
	instanceKey, ok := instance.(*datastore.Key)
	if !ok {
		return nil, nil
	}

	entities, err := client.Get(ctx, []*datastore.Key{instanceKey})
	if err != nil {
		return nil, err
	}
	e := entities[0]
	if e == nil {
		return nil, nil
	}
	if ok, err := p.Query.Matches(e); err != nil || !ok {
		return nil, err
	}

	switch {
	case p.Query.KeysOnly:
		e = &datastore.Entity{Key: e.Key}
	case len(p.Query.Projection) > 0:
		projected := datastore.NewEntity(e.Key)
		for _, col := range p.Query.Projection {
			if v, has := e.Get(col); has {
				projected.Properties[col] = v
			}
		}
		e = projected
	}
	return window([]*datastore.Entity{e}, opts), nil
}

func window(entities []*datastore.Entity, opts datastore.RunOptions) []*datastore.Entity {
	if opts.Offset > 0 {
		if opts.Offset >= len(entities) {
			return nil
		}
		entities = entities[opts.Offset:]
	}
	if opts.Limit > 0 && len(entities) > opts.Limit {
		entities = entities[:opts.Limit]
	}
	return entities
}
