package query

import (
	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
)

// Aggregate selects the aggregate kind of a relational query.
type Aggregate int

const (
	AggregateNone Aggregate = iota
	AggregateCount
	AggregateAverage
)

// ExtraSelect is one computed result column.
type ExtraSelect struct {
	Column string
	Expr   Expr
}

// Query is one relational query as handed over by the host layer: a
// normalized filter tree plus ordering, projection, exclusions and bounds.
// The parser and normalizer that produce it are external collaborators.
type Query struct {
	Model *model.Model

	// Where is the normalized filter tree, nil when unfiltered.
	Where *Disjunction

	Ordering []datastore.Order

	// Columns is the projection; empty selects every field.
	Columns []string

	// Distinct requests distinct-on semantics over Columns.
	Distinct bool

	// ExcludedKeys are identities filtered out of the result post-fetch.
	ExcludedKeys []*datastore.Key

	// LowMark and HighMark are the offset/limit window. HighMark of -1
	// means unbounded.
	LowMark  int
	HighMark int

	ExtraSelects []ExtraSelect

	Aggregate Aggregate
}

// New creates an unbounded query against a model.
func New(m *model.Model) *Query {
	return &Query{Model: m, HighMark: -1}
}

// Limit returns the caller-visible row limit, or 0 for unbounded.
func (q *Query) Limit() int {
	if q.HighMark < 0 {
		return 0
	}
	n := q.HighMark - q.LowMark
	if n < 0 {
		return 0
	}
	return n
}

// ProjectionWithoutPK returns the projection columns minus the primary-key
// columns of the model and of its root concrete model. The store exposes
// identity through the key, not through a projected column.
func (q *Query) ProjectionWithoutPK() []string {
	var pkCols []string
	if pk := q.Model.PK(); pk != nil {
		pkCols = append(pkCols, pk.Column)
	}
	if pk := q.Model.Concrete().PK(); pk != nil {
		pkCols = append(pkCols, pk.Column)
	}

	var out []string
	for _, col := range q.Columns {
		excluded := false
		for _, pkCol := range pkCols {
			if col == pkCol {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, col)
		}
	}
	return out
}
