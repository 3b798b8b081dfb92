package datastore

// Operator is a native comparison operator.
type Operator string

const (
	OpEqual        Operator = "="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
)

// Order is one component of a query ordering.
type Order struct {
	Column     string
	Descending bool
}

// Filter identifies one (column, operator) lookup on a query.
type Filter struct {
	Column string
	Op     Operator
}

// Clause is a lookup together with its values. A clause with several values
// matches entities satisfying the operator against any one of them (the
// IN-within-AND shape produced by merging equal lookups).
type Clause struct {
	Column string
	Op     Operator
	Values []any
}

// Query is one native query: a single kind in a single namespace with a
// conjunction of filter clauses, ordering, projection, distinct-on columns
// and a keys-only flag.
type Query struct {
	Kind      string
	Namespace string

	Ordering   []Order
	Projection []string
	DistinctOn []string
	KeysOnly   bool

	filters     map[Filter][]any
	filterOrder []Filter
}

// NewQuery creates an empty query against one kind.
func NewQuery(kind, namespace string) *Query {
	return &Query{
		Kind:      kind,
		Namespace: namespace,
		filters:   map[Filter][]any{},
	}
}

// AddFilter appends a value to the (column, operator) lookup.
func (q *Query) AddFilter(column string, op Operator, value any) {
	f := Filter{Column: column, Op: op}
	if _, ok := q.filters[f]; !ok {
		q.filterOrder = append(q.filterOrder, f)
	}
	q.filters[f] = append(q.filters[f], NormalizeValue(value))
}

// HasFilter reports whether the lookup already has at least one value.
func (q *Query) HasFilter(column string, op Operator) bool {
	_, ok := q.filters[Filter{Column: column, Op: op}]
	return ok
}

// FilterValues returns the values registered for the lookup.
func (q *Query) FilterValues(column string, op Operator) []any {
	return q.filters[Filter{Column: column, Op: op}]
}

// Clauses returns the filter clauses in insertion order.
func (q *Query) Clauses() []Clause {
	clauses := make([]Clause, 0, len(q.filterOrder))
	for _, f := range q.filterOrder {
		clauses = append(clauses, Clause{Column: f.Column, Op: f.Op, Values: q.filters[f]})
	}
	return clauses
}

// FilterCount returns the number of distinct lookups on the query.
func (q *Query) FilterCount() int {
	return len(q.filters)
}

// Matches reports whether an entity satisfies every clause of the query.
// A composite literal used as an operand is rejected with
// ErrInvalidFilterValue rather than silently misinterpreted as a set of
// alternatives.
func (q *Query) Matches(e *Entity) (bool, error) {
	for _, f := range q.filterOrder {
		ok, err := matchClause(e, f, q.filters[f])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchClause(e *Entity, f Filter, values []any) (bool, error) {
	var actual any
	if f.Column == KeyColumn {
		actual = e.Key
	} else {
		actual, _ = e.Get(f.Column)
	}

	for _, want := range values {
		if _, composite := want.([]any); composite {
			return false, ErrInvalidFilterValue
		}
		c, comparable := CompareValues(actual, want)
		if !comparable {
			continue
		}
		if opHolds(f.Op, c) {
			return true, nil
		}
	}
	return false, nil
}

func opHolds(op Operator, cmp int) bool {
	switch op {
	case OpEqual:
		return cmp == 0
	case OpGreater:
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	}
	return false
}
