package command_test

import (
	"context"
	"testing"

	"github.com/jacentio/lattice/command"
	"github.com/jacentio/lattice/constraints"
	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/datastore/memstore"
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/query"
)

func userModel() *model.Model {
	return &model.Model{
		Kind: "user",
		Fields: []model.Field{
			{Column: "id", Type: model.Integer, PrimaryKey: true, Blank: true},
			{Column: "username", Type: model.String, Unique: true},
			{Column: "email", Type: model.String},
			{Column: "region", Type: model.String},
			{Column: "age", Type: model.Integer},
		},
		EnforceConstraints: true,
	}
}

// animalModels returns a two-layer polymorphic hierarchy: dog records live
// under the animal kind carrying both type tags.
func animalModels() (*model.Model, *model.Model) {
	animal := &model.Model{
		Kind: "animal",
		Fields: []model.Field{
			{Column: "id", Type: model.Integer, PrimaryKey: true, Blank: true},
			{Column: "name", Type: model.String},
		},
	}
	dog := &model.Model{
		Kind:           "dog",
		ConcreteParent: animal,
		Fields: []model.Field{
			{Column: "id", Type: model.Integer, PrimaryKey: true, Blank: true},
			{Column: "name", Type: model.String, Inherited: true},
			{Column: "breed", Type: model.String},
		},
	}
	return animal, dog
}

func newConn(s *memstore.Store) *command.Connection {
	return command.NewConnection(s, "ns", model.NewRegistry())
}

func insertUsers(t *testing.T, conn *command.Connection, rows []map[string]any) []*datastore.Key {
	t.Helper()
	keys, err := command.NewInsertCommand(conn, userModel(), rows).Execute(context.Background())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return keys
}

func userRow(username, region string, age int64) map[string]any {
	return map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"region":   region,
		"age":      age,
	}
}

func whereEqual(column string, value any) *query.Disjunction {
	return &query.Disjunction{Branches: []query.Node{
		query.Leaf{Column: column, Op: datastore.OpEqual, Value: value},
	}}
}

func runSelect(t *testing.T, conn *command.Connection, rq *query.Query) []*datastore.Entity {
	t.Helper()
	results, err := command.NewSelectCommand(conn, rq).Execute(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	return results
}

func markerCount(s *memstore.Store) int {
	return s.CountKind(constraints.MarkerKind, "ns")
}
