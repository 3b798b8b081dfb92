package query

import (
	"unicode/utf8"

	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
)

// TranslateBranch maps one conjunctive branch of a normalized tree onto a
// native query's filter set: special operators are expanded, values are
// coerced to their store form, and key operands are rewritten to carry the
// active namespace. Only an invalid byte encoding can fail here; everything
// else is structural.
func TranslateBranch(q *datastore.Query, branch Node, m *model.Model, namespace string) error {
	for _, leaf := range branchLeaves(branch) {
		if err := addLeaf(q, leaf, m, namespace); err != nil {
			return err
		}
	}
	return nil
}

func addLeaf(q *datastore.Query, leaf Leaf, m *model.Model, namespace string) error {
	switch leaf.Op {
	case OpIn:
		// IN becomes alternatives on the equality lookup.
		values, ok := leaf.Value.([]any)
		if !ok {
			return addClause(q, leaf.Column, datastore.OpEqual, leaf.Value, m, namespace)
		}
		for _, v := range values {
			if err := addClause(q, leaf.Column, datastore.OpEqual, v, m, namespace); err != nil {
				return err
			}
		}
		return nil

	case OpRange:
		bounds, ok := leaf.Value.([]any)
		if !ok || len(bounds) != 2 {
			return datastore.ErrInvalidFilterValue
		}
		if err := addClause(q, leaf.Column, datastore.OpGreaterEqual, bounds[0], m, namespace); err != nil {
			return err
		}
		return addClause(q, leaf.Column, datastore.OpLessEqual, bounds[1], m, namespace)

	case OpIsNull:
		if isNull, _ := leaf.Value.(bool); isNull {
			return addClause(q, leaf.Column, datastore.OpEqual, nil, m, namespace)
		}
		return addClause(q, leaf.Column, datastore.OpGreater, nil, m, namespace)

	default:
		return addClause(q, leaf.Column, leaf.Op, leaf.Value, m, namespace)
	}
}

func addClause(q *datastore.Query, column string, op datastore.Operator, value any, m *model.Model, namespace string) error {
	if field := m.FieldByColumn(column); field != nil && field.Type == model.Decimal {
		// Filter values never went through the save path, so the declared
		// precision is applied here.
		value = model.CoerceDecimal(value, *field)
	}

	switch v := value.(type) {
	case []byte:
		if !utf8.Valid(v) {
			return datastore.ErrBadEncoding
		}
		value = string(v)
	case string:
		if !utf8.ValidString(v) {
			return datastore.ErrBadEncoding
		}
	case *datastore.Key:
		// Never trust the namespace embedded in a passed-in key.
		value = v.WithNamespace(namespace)
	}

	if _, composite := value.([]any); composite {
		// A list value is a literal composite, not a set of alternatives to
		// flatten. It is attached nested so the store rejects it explicitly
		// instead of misreading it as an IN.
		q.AddFilter(column, op, value)
		return nil
	}

	// Merge into a multi-value list instead of overwriting, but only when
	// the new value actually differs from what the lookup already holds.
	for _, existing := range q.FilterValues(column, op) {
		if c, ok := datastore.CompareValues(existing, value); ok && c == 0 {
			return nil
		}
	}
	q.AddFilter(column, op, value)
	return nil
}
