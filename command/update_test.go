package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jacentio/lattice/command"
	"github.com/jacentio/lattice/constraints"
	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/datastore/memstore"
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/query"
)

func TestUpdateMergesValues(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	conn := newConn(s)
	keys := insertUsers(t, conn, []map[string]any{userRow("alice", "eu", 25)})

	rq := query.New(userModel())
	rq.Where = whereEqual("username", "alice")

	updated, err := command.NewUpdateCommand(conn, userModel(), rq, map[string]any{
		"age":    26,
		"region": nil,
	}).Execute(ctx)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 row updated, got %d", updated)
	}

	got, err := s.Get(ctx, []*datastore.Key{keys[0]})
	if err != nil || got[0] == nil {
		t.Fatal("entity missing")
	}
	if v, _ := got[0].Get("age"); v != int64(26) {
		t.Errorf("expected age 26, got %v", v)
	}
	if _, ok := got[0].Get("region"); ok {
		t.Error("nil value must remove the column")
	}
	// Untouched columns survive the merge.
	if v, _ := got[0].Get("email"); v != "alice@example.com" {
		t.Errorf("expected email preserved, got %v", v)
	}
}

func TestUpdateMissingRowIsNotAnError(t *testing.T) {
	ctx := context.Background()
	conn := newConn(memstore.New())

	rq := query.New(userModel())
	rq.Where = whereEqual("username", "nobody")

	updated, err := command.NewUpdateCommand(conn, userModel(), rq, map[string]any{"age": 1}).Execute(ctx)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated != 0 {
		t.Errorf("expected 0 rows updated, got %d", updated)
	}
}

func TestUpdateMovesMarkers(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	conn := newConn(s)
	m := userModel()
	keys := insertUsers(t, conn, []map[string]any{userRow("alice", "eu", 25)})

	oldEntity := datastore.NewEntity(keys[0])
	oldEntity.Set("username", "alice")
	oldMarker := constraints.MarkerKeys(m, oldEntity, "ns")[0]

	rq := query.New(m)
	rq.Where = whereEqual("username", "alice")
	if _, err := command.NewUpdateCommand(conn, m, rq, map[string]any{"username": "alicia"}).Execute(ctx); err != nil {
		t.Fatalf("update: %v", err)
	}

	newEntity := datastore.NewEntity(keys[0])
	newEntity.Set("username", "alicia")
	newMarker := constraints.MarkerKeys(m, newEntity, "ns")[0]

	got, err := s.Get(ctx, []*datastore.Key{oldMarker, newMarker})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != nil {
		t.Error("expected old marker released")
	}
	if got[1] == nil {
		t.Fatal("expected new marker acquired")
	}
	instance, _ := got[1].Get(constraints.PropInstance)
	if key, ok := instance.(*datastore.Key); !ok || !key.Equal(keys[0]) {
		t.Errorf("expected marker owned by the updated row, got %v", instance)
	}
}

func TestUpdateConflictOnNewValue(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	conn := newConn(s)
	m := userModel()
	insertUsers(t, conn, []map[string]any{
		userRow("alice", "eu", 25),
		userRow("bob", "us", 30),
	})

	rq := query.New(m)
	rq.Where = whereEqual("username", "bob")
	_, err := command.NewUpdateCommand(conn, m, rq, map[string]any{"username": "alice"}).Execute(ctx)
	if !errors.Is(err, datastore.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}

	// Bob keeps his row and his marker.
	rq2 := query.New(m)
	rq2.Where = whereEqual("username", "bob")
	if results := runSelect(t, conn, rq2); len(results) != 1 {
		t.Errorf("expected bob unchanged, got %d rows", len(results))
	}
	if n := markerCount(s); n != 2 {
		t.Errorf("expected 2 markers, got %d", n)
	}
}

func TestUpdateRestoresMarkersOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	conn := newConn(s)
	m := userModel()
	keys := insertUsers(t, conn, []map[string]any{userRow("alice", "eu", 25)})

	oldEntity := datastore.NewEntity(keys[0])
	oldEntity.Set("username", "alice")
	oldMarker := constraints.MarkerKeys(m, oldEntity, "ns")[0]
	newEntity := datastore.NewEntity(keys[0])
	newEntity.Set("username", "alicia")
	newMarker := constraints.MarkerKeys(m, newEntity, "ns")[0]

	// Fail exactly the entity write's commit: the marker acquire and the
	// marker release each commit first in their own transactions.
	commits := 0
	boom := errors.New("injected write failure")
	s.SetCommitHook(func() error {
		commits++
		if commits == 3 {
			return boom
		}
		return nil
	})

	rq := query.New(m)
	rq.Where = whereEqual("username", "alice")
	_, err := command.NewUpdateCommand(conn, m, rq, map[string]any{"username": "alicia"}).Execute(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected failure to surface, got %v", err)
	}

	// Compensation restored the pre-update marker state.
	got, err := s.Get(ctx, []*datastore.Key{oldMarker, newMarker})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] == nil {
		t.Error("expected original marker re-acquired")
	}
	if got[1] != nil {
		t.Error("expected new marker rolled back")
	}

	// The row itself is untouched.
	row, err := s.Get(ctx, []*datastore.Key{keys[0]})
	if err != nil || row[0] == nil {
		t.Fatal("row missing")
	}
	if v, _ := row[0].Get("username"); v != "alice" {
		t.Errorf("expected username unchanged, got %v", v)
	}
}

func TestUpdatePreservesTypeTagUnion(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	conn := newConn(s)
	_, dog := animalModels()

	keys, err := command.NewInsertCommand(conn, dog, []map[string]any{
		{"name": "rex", "breed": "lab"},
	}).Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}

	rq := query.New(dog)
	rq.Where = whereEqual("breed", "lab")
	if _, err := command.NewUpdateCommand(conn, dog, rq, map[string]any{"breed": "husky"}).Execute(ctx); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, []*datastore.Key{keys[0]})
	if err != nil || got[0] == nil {
		t.Fatal("entity missing")
	}
	tags, _ := got[0].Get(model.TypeTagColumn)
	list, ok := tags.([]any)
	if !ok || len(list) != 2 {
		t.Errorf("partial update must keep the full tag union, got %v", tags)
	}
}
