package datastore_test

import (
	"errors"
	"testing"

	"github.com/jacentio/lattice/datastore"
)

func TestQueryMatches(t *testing.T) {
	e := newEntity("user", 7, map[string]any{
		"name": "alice",
		"age":  30,
	})

	tests := []struct {
		name     string
		build    func(q *datastore.Query)
		expected bool
	}{
		{
			name:     "equality hit",
			build:    func(q *datastore.Query) { q.AddFilter("name", datastore.OpEqual, "alice") },
			expected: true,
		},
		{
			name:     "equality miss",
			build:    func(q *datastore.Query) { q.AddFilter("name", datastore.OpEqual, "bob") },
			expected: false,
		},
		{
			name: "alternative values match any",
			build: func(q *datastore.Query) {
				q.AddFilter("name", datastore.OpEqual, "bob")
				q.AddFilter("name", datastore.OpEqual, "alice")
			},
			expected: true,
		},
		{
			name: "conjunction of clauses",
			build: func(q *datastore.Query) {
				q.AddFilter("name", datastore.OpEqual, "alice")
				q.AddFilter("age", datastore.OpGreater, 40)
			},
			expected: false,
		},
		{
			name:     "range hit",
			build:    func(q *datastore.Query) { q.AddFilter("age", datastore.OpGreaterEqual, 30) },
			expected: true,
		},
		{
			name:     "missing column compares as nil",
			build:    func(q *datastore.Query) { q.AddFilter("absent", datastore.OpEqual, nil) },
			expected: true,
		},
		{
			name:     "non-null check on missing column",
			build:    func(q *datastore.Query) { q.AddFilter("absent", datastore.OpGreater, nil) },
			expected: false,
		},
		{
			name:     "key predicate hit",
			build:    func(q *datastore.Query) { q.AddFilter(datastore.KeyColumn, datastore.OpEqual, datastore.IDKey("user", 7, "")) },
			expected: true,
		},
		{
			name:     "key predicate miss",
			build:    func(q *datastore.Query) { q.AddFilter(datastore.KeyColumn, datastore.OpEqual, datastore.IDKey("user", 8, "")) },
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := datastore.NewQuery("user", "")
			tt.build(q)
			got, err := q.Matches(e)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestQueryMatchesRejectsCompositeValue(t *testing.T) {
	q := datastore.NewQuery("user", "")
	q.AddFilter("tags", datastore.OpEqual, []any{"a", "b"})

	e := newEntity("user", 1, map[string]any{"tags": []any{"a"}})
	if _, err := q.Matches(e); !errors.Is(err, datastore.ErrInvalidFilterValue) {
		t.Errorf("expected ErrInvalidFilterValue, got %v", err)
	}
}

func TestQueryClausesKeepInsertionOrder(t *testing.T) {
	q := datastore.NewQuery("user", "")
	q.AddFilter("b", datastore.OpEqual, 1)
	q.AddFilter("a", datastore.OpGreater, 2)
	q.AddFilter("b", datastore.OpEqual, 3)

	clauses := q.Clauses()
	if len(clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d", len(clauses))
	}
	if clauses[0].Column != "b" || len(clauses[0].Values) != 2 {
		t.Errorf("expected first clause b with 2 values, got %+v", clauses[0])
	}
	if clauses[1].Column != "a" {
		t.Errorf("expected second clause a, got %+v", clauses[1])
	}
	if q.FilterCount() != 2 {
		t.Errorf("expected 2 lookups, got %d", q.FilterCount())
	}
}
