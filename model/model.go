// Package model describes the relational models the engine operates on:
// field metadata, primary-key policy, declared unique-field combinations,
// concrete-parent chains for multi-table inheritance, and the registry that
// maps store kinds back to models.
package model

import "sort"

// TypeTagColumn is the entity column holding the polymorphic type tags: the
// list of kinds in the inheritance hierarchy sharing the record.
const TypeTagColumn = "class"

// FieldType classifies a field for value coercion.
type FieldType int

const (
	String FieldType = iota
	Text
	Integer
	Float
	Bool
	DateTime
	Date
	Time
	Decimal
	Bytes
	KeyRef
	List
)

// Field is one column of a model.
type Field struct {
	Column string
	Type   FieldType

	// PrimaryKey marks the field mapped onto the entity key.
	PrimaryKey bool

	// Blank allows the primary key to be absent at insert time, in which
	// case the store assigns an id.
	Blank bool

	// Unique declares a single-field unique constraint.
	Unique bool

	// MaxDigits and DecimalPlaces give the declared precision of Decimal
	// fields; filter and save values are coerced through it.
	MaxDigits     int
	DecimalPlaces int

	// Inherited marks fields defined by a concrete parent rather than
	// locally; polymorphic layer stripping only removes local fields.
	Inherited bool

	// DescendantKind, when set, stores the field in a child record of that
	// kind parented under the primary entity instead of on the primary.
	DescendantKind string
}

// Temporal reports whether the field holds a point in time.
func (f Field) Temporal() bool {
	return f.Type == DateTime || f.Type == Date || f.Type == Time
}

// Model is the metadata for one relational model.
type Model struct {
	Kind   string
	Fields []Field

	// UniqueTogether lists multi-column unique constraints.
	UniqueTogether [][]string

	// ConcreteParent links to the parent model in a multi-table hierarchy.
	ConcreteParent *Model

	// EnforceConstraints turns marker-based unique enforcement on.
	EnforceConstraints bool
}

// PK returns the primary-key field, or nil if the model has none declared.
func (m *Model) PK() *Field {
	for i := range m.Fields {
		if m.Fields[i].PrimaryKey {
			return &m.Fields[i]
		}
	}
	return nil
}

// FieldByColumn returns the field with the given column, or nil.
func (m *Model) FieldByColumn(column string) *Field {
	for i := range m.Fields {
		if m.Fields[i].Column == column {
			return &m.Fields[i]
		}
	}
	return nil
}

// Columns returns all field columns in declaration order.
func (m *Model) Columns() []string {
	cols := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		cols[i] = f.Column
	}
	return cols
}

// LocalFields returns the fields declared on this model itself.
func (m *Model) LocalFields() []Field {
	var local []Field
	for _, f := range m.Fields {
		if !f.Inherited {
			local = append(local, f)
		}
	}
	return local
}

// HasConcreteParents reports whether the model shares its records with a
// parent model.
func (m *Model) HasConcreteParents() bool {
	return m.ConcreteParent != nil
}

// Concrete returns the root concrete model of the hierarchy; records live
// under its kind.
func (m *Model) Concrete() *Model {
	c := m
	for c.ConcreteParent != nil {
		c = c.ConcreteParent
	}
	return c
}

// UniqueCombinations returns the declared unique-field combinations: one
// per Unique field plus every UniqueTogether set. Columns within each
// combination are sorted so combinations compare order-independently.
// The primary key is skipped when ignorePK is set; the store already
// enforces key uniqueness.
func (m *Model) UniqueCombinations(ignorePK bool) [][]string {
	var combos [][]string
	for _, f := range m.Fields {
		if !f.Unique {
			continue
		}
		if f.PrimaryKey && ignorePK {
			continue
		}
		combos = append(combos, []string{f.Column})
	}
	for _, together := range m.UniqueTogether {
		combo := append([]string(nil), together...)
		sort.Strings(combo)
		combos = append(combos, combo)
	}
	return combos
}
