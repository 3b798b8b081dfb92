package query_test

import (
	"errors"
	"testing"

	"github.com/jacentio/lattice/constraints"
	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/query"
)

func TestBuildNoFilterIsNative(t *testing.T) {
	rq := query.New(userModel())
	plan, err := query.Build(rq, "ns", false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := plan.(*query.NativePlan); !ok {
		t.Errorf("expected NativePlan, got %T", plan)
	}
}

func TestBuildSingleBranchIsNative(t *testing.T) {
	rq := query.New(userModel())
	rq.Where = &query.Disjunction{Branches: []query.Node{
		query.Leaf{Column: "age", Op: datastore.OpGreater, Value: 18},
	}}

	plan, err := query.Build(rq, "ns", false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := plan.(*query.NativePlan); !ok {
		t.Errorf("expected NativePlan, got %T", plan)
	}
}

func TestBuildMultiBranchIsUnion(t *testing.T) {
	rq := query.New(userModel())
	rq.Where = &query.Disjunction{Branches: []query.Node{
		query.Leaf{Column: "region", Op: datastore.OpEqual, Value: "eu"},
		query.Leaf{Column: "region", Op: datastore.OpEqual, Value: "us"},
	}}

	plan, err := query.Build(rq, "ns", false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	union, ok := plan.(*query.UnionPlan)
	if !ok {
		t.Fatalf("expected UnionPlan, got %T", plan)
	}
	if len(union.Queries) != 2 {
		t.Errorf("expected 2 branch queries, got %d", len(union.Queries))
	}
}

func TestBuildKeyFetchShape(t *testing.T) {
	rq := query.New(userModel())
	rq.Where = &query.Disjunction{Branches: []query.Node{
		query.Conjunction{Leaves: []query.Leaf{
			{Column: datastore.KeyColumn, Op: datastore.OpEqual, Value: datastore.IDKey("user", 1, "ns")},
			{Column: "region", Op: datastore.OpEqual, Value: "eu"},
		}},
		query.Leaf{Column: datastore.KeyColumn, Op: datastore.OpEqual, Value: datastore.IDKey("user", 2, "ns")},
	}}

	plan, err := query.Build(rq, "ns", false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	fetch, ok := plan.(*query.KeyFetchPlan)
	if !ok {
		t.Fatalf("expected KeyFetchPlan, got %T", plan)
	}
	if len(fetch.Keys) != 2 {
		t.Errorf("expected 2 keys, got %d", len(fetch.Keys))
	}
}

func TestBuildKeyFetchRequiresSingleKeyPerBranch(t *testing.T) {
	// One branch constrains the key, the other does not: no key fetch.
	rq := query.New(userModel())
	rq.Where = &query.Disjunction{Branches: []query.Node{
		query.Leaf{Column: datastore.KeyColumn, Op: datastore.OpEqual, Value: datastore.IDKey("user", 1, "ns")},
		query.Leaf{Column: "region", Op: datastore.OpEqual, Value: "eu"},
	}}

	plan, err := query.Build(rq, "ns", false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := plan.(*query.KeyFetchPlan); ok {
		t.Error("expected non-key-fetch plan")
	}
}

func TestBuildUniqueLookupShape(t *testing.T) {
	m := userModel()

	tests := []struct {
		name     string
		leaves   []query.Leaf
		isUnique bool
	}{
		{
			name: "single unique field",
			leaves: []query.Leaf{
				{Column: "username", Op: datastore.OpEqual, Value: "alice"},
			},
			isUnique: true,
		},
		{
			name: "unique together pair",
			leaves: []query.Leaf{
				{Column: "email", Op: datastore.OpEqual, Value: "a@example.com"},
				{Column: "region", Op: datastore.OpEqual, Value: "eu"},
			},
			isUnique: true,
		},
		{
			name: "extra predicate breaks the shape",
			leaves: []query.Leaf{
				{Column: "username", Op: datastore.OpEqual, Value: "alice"},
				{Column: "age", Op: datastore.OpEqual, Value: 30},
			},
			isUnique: false,
		},
		{
			name: "non-equality breaks the shape",
			leaves: []query.Leaf{
				{Column: "username", Op: datastore.OpGreater, Value: "alice"},
			},
			isUnique: false,
		},
		{
			name: "non-unique column",
			leaves: []query.Leaf{
				{Column: "email", Op: datastore.OpEqual, Value: "a@example.com"},
			},
			isUnique: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rq := query.New(m)
			rq.Where = &query.Disjunction{Branches: []query.Node{
				query.Conjunction{Leaves: tt.leaves},
			}}

			plan, err := query.Build(rq, "ns", false)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			lookup, ok := plan.(*query.UniqueLookupPlan)
			if ok != tt.isUnique {
				t.Fatalf("expected unique=%v, got %T", tt.isUnique, plan)
			}
			if ok && lookup.MarkerKey.Kind != constraints.MarkerKind {
				t.Errorf("expected marker kind, got %q", lookup.MarkerKey.Kind)
			}
		})
	}
}

func TestBuildUniqueLookupNeedsEnforcement(t *testing.T) {
	m := userModel()
	m.EnforceConstraints = false

	rq := query.New(m)
	rq.Where = &query.Disjunction{Branches: []query.Node{
		query.Leaf{Column: "username", Op: datastore.OpEqual, Value: "alice"},
	}}

	plan, err := query.Build(rq, "ns", false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := plan.(*query.UniqueLookupPlan); ok {
		t.Error("expected no unique lookup without enforcement")
	}
}

func TestBuildDistinctWithoutProjection(t *testing.T) {
	rq := query.New(userModel())
	rq.Distinct = true

	_, err := query.Build(rq, "ns", false)
	if !errors.Is(err, datastore.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestBuildDistinctDefaultsOrdering(t *testing.T) {
	rq := query.New(userModel())
	rq.Distinct = true
	rq.Columns = []string{"region"}

	plan, err := query.Build(rq, "ns", false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	native, ok := plan.(*query.NativePlan)
	if !ok {
		t.Fatalf("expected NativePlan, got %T", plan)
	}
	if len(native.Query.Ordering) != 1 || native.Query.Ordering[0].Column != "region" {
		t.Errorf("expected default ordering on distinct columns, got %v", native.Query.Ordering)
	}
	if len(native.Query.DistinctOn) != 1 {
		t.Errorf("expected distinct-on pushed to the native query, got %v", native.Query.DistinctOn)
	}
}
