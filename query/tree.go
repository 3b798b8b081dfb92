// Package query translates normalized relational filter trees into native
// store queries, picks an execution plan (direct key fetch, unique-marker
// lookup, single query or a merged union) and evaluates computed result
// columns.
package query

import "github.com/jacentio/lattice/datastore"

// Special leaf operators the translator expands into native clauses. The
// native comparison operators from the datastore package are used as-is.
const (
	OpIn     datastore.Operator = "in"
	OpRange  datastore.Operator = "range"
	OpIsNull datastore.Operator = "isnull"
)

// Node is one node of a normalized filter tree. The concrete types are
// [Leaf] and [Conjunction]; branch-processing code switches on the type
// rather than probing shapes dynamically.
type Node interface {
	node()
}

// Leaf is a single predicate (column, operator, value).
type Leaf struct {
	Column string
	Op     datastore.Operator
	Value  any
}

func (Leaf) node() {}

// Conjunction is an AND of leaf predicates.
type Conjunction struct {
	Leaves []Leaf
}

func (Conjunction) node() {}

// Disjunction is the root of a normalized tree: an OR of branches, each a
// [Conjunction] or a bare [Leaf]. The tree is flat; normalization happens
// before it reaches this package.
type Disjunction struct {
	Branches []Node
}

// branchLeaves returns a branch's predicates regardless of whether the
// branch is a bare leaf or a conjunction.
func branchLeaves(branch Node) []Leaf {
	switch b := branch.(type) {
	case Leaf:
		return []Leaf{b}
	case Conjunction:
		return b.Leaves
	}
	return nil
}
