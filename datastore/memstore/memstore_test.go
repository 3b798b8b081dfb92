package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/datastore/memstore"
)

func put(t *testing.T, s *memstore.Store, kind string, id int64, props map[string]any) *datastore.Entity {
	t.Helper()
	e := datastore.NewEntity(datastore.IDKey(kind, id, ""))
	for c, v := range props {
		e.Set(c, v)
	}
	if err := s.Put(context.Background(), e); err != nil {
		t.Fatalf("put: %v", err)
	}
	return e
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	put(t, s, "user", 1, map[string]any{"name": "alice"})

	got, err := s.Get(ctx, []*datastore.Key{
		datastore.IDKey("user", 1, ""),
		datastore.IDKey("user", 2, ""),
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got[0] == nil {
		t.Fatal("expected entity in slot 0")
	}
	if v, _ := got[0].Get("name"); v != "alice" {
		t.Errorf("expected name alice, got %v", v)
	}
	if got[1] != nil {
		t.Error("expected nil slot for missing key")
	}

	if err := s.Delete(ctx, datastore.IDKey("user", 1, "")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Size() != 0 {
		t.Errorf("expected empty store, got %d entities", s.Size())
	}

	// Deleting a missing key is a no-op.
	if err := s.Delete(ctx, datastore.IDKey("user", 1, "")); err != nil {
		t.Errorf("expected idempotent delete, got %v", err)
	}
}

func TestPutIncompleteKey(t *testing.T) {
	s := memstore.New()
	e := datastore.NewEntity(datastore.IncompleteKey("user", ""))
	if err := s.Put(context.Background(), e); !errors.Is(err, datastore.ErrIncompleteKey) {
		t.Errorf("expected ErrIncompleteKey, got %v", err)
	}
}

func TestRunQuery(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	put(t, s, "user", 1, map[string]any{"name": "alice", "age": 25})
	put(t, s, "user", 2, map[string]any{"name": "bob", "age": 30})
	put(t, s, "user", 3, map[string]any{"name": "carol", "age": 30})
	put(t, s, "group", 1, map[string]any{"name": "staff"})

	q := datastore.NewQuery("user", "")
	q.AddFilter("age", datastore.OpGreaterEqual, 30)
	q.Ordering = []datastore.Order{{Column: "name"}}

	results, err := s.RunQuery(ctx, q, datastore.RunOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if n, _ := results[0].Get("name"); n != "bob" {
		t.Errorf("expected bob first, got %v", n)
	}
}

func TestRunQueryWindowing(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	for i := int64(1); i <= 5; i++ {
		put(t, s, "user", i, map[string]any{"n": i})
	}

	q := datastore.NewQuery("user", "")
	q.Ordering = []datastore.Order{{Column: "n"}}

	results, err := s.RunQuery(ctx, q, datastore.RunOptions{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if v, _ := results[0].Get("n"); v != int64(2) {
		t.Errorf("expected n=2 first, got %v", v)
	}

	// Offset past the end yields nothing.
	results, err = s.RunQuery(ctx, q, datastore.RunOptions{Offset: 10})
	if err != nil || len(results) != 0 {
		t.Errorf("expected empty result, got %d (%v)", len(results), err)
	}
}

func TestRunQueryShapes(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	put(t, s, "user", 1, map[string]any{"name": "alice", "age": 25})
	put(t, s, "user", 2, map[string]any{"name": "bob", "age": 25})

	t.Run("keys only", func(t *testing.T) {
		q := datastore.NewQuery("user", "")
		q.KeysOnly = true
		results, err := s.RunQuery(ctx, q, datastore.RunOptions{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for _, e := range results {
			if len(e.Properties) != 0 {
				t.Errorf("expected bare key, got %v", e.Properties)
			}
		}
	})

	t.Run("projection", func(t *testing.T) {
		q := datastore.NewQuery("user", "")
		q.Projection = []string{"age"}
		results, err := s.RunQuery(ctx, q, datastore.RunOptions{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if _, ok := results[0].Get("name"); ok {
			t.Error("expected name projected away")
		}
		if _, ok := results[0].Get("age"); !ok {
			t.Error("expected age present")
		}
	})

	t.Run("distinct on", func(t *testing.T) {
		q := datastore.NewQuery("user", "")
		q.DistinctOn = []string{"age"}
		q.Ordering = []datastore.Order{{Column: "age"}}
		results, err := s.RunQuery(ctx, q, datastore.RunOptions{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(results) != 1 {
			t.Errorf("expected 1 distinct result, got %d", len(results))
		}
	})
}

func TestAllocateAndReserveID(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	id, err := s.AllocateID(ctx, "user", "")
	if err != nil || id != 1 {
		t.Fatalf("expected first id 1, got %d (%v)", id, err)
	}

	if err := s.ReserveID(ctx, "user", 10, ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	id, err = s.AllocateID(ctx, "user", "")
	if err != nil || id != 11 {
		t.Errorf("expected allocation past reservation, got %d (%v)", id, err)
	}

	// Reserving below the watermark changes nothing.
	if err := s.ReserveID(ctx, "user", 3, ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	id, _ = s.AllocateID(ctx, "user", "")
	if id != 12 {
		t.Errorf("expected 12, got %d", id)
	}

	// Counters are per kind and namespace.
	id, _ = s.AllocateID(ctx, "user", "other")
	if id != 1 {
		t.Errorf("expected fresh counter in other namespace, got %d", id)
	}
}

func TestTransactionCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	put(t, s, "user", 1, map[string]any{"name": "alice"})

	err := s.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		e := datastore.NewEntity(datastore.IDKey("user", 2, ""))
		e.Set("name", "bob")
		if err := tx.Put(ctx, e); err != nil {
			return err
		}
		return tx.Delete(ctx, datastore.IDKey("user", 1, ""))
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if s.CountKind("user", "") != 1 {
		t.Errorf("expected 1 user after swap, got %d", s.CountKind("user", ""))
	}

	boom := errors.New("boom")
	err = s.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		e := datastore.NewEntity(datastore.IDKey("user", 3, ""))
		if err := tx.Put(ctx, e); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s.CountKind("user", "") != 1 {
		t.Error("failed transaction must not apply buffered writes")
	}
}

func TestTransactionReadsPreState(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	err := s.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		e := datastore.NewEntity(datastore.IDKey("user", 1, ""))
		if err := tx.Put(ctx, e); err != nil {
			return err
		}
		got, err := tx.Get(ctx, []*datastore.Key{datastore.IDKey("user", 1, "")})
		if err != nil {
			return err
		}
		if got[0] != nil {
			t.Error("transactional read must observe pre-transaction state")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestInnerTransactionIsIndependent(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	outerErr := errors.New("outer failed")
	err := s.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		inner := s.RunInTransaction(ctx, func(innerTx datastore.Transaction) error {
			e := datastore.NewEntity(datastore.IDKey("marker", 1, ""))
			return innerTx.Put(ctx, e)
		})
		if inner != nil {
			return inner
		}
		return outerErr
	})
	if !errors.Is(err, outerErr) {
		t.Fatalf("expected outer failure, got %v", err)
	}

	// The inner transaction committed despite the outer rollback.
	if s.CountKind("marker", "") != 1 {
		t.Error("inner transaction must commit independently of the outer one")
	}
}

func TestCommitHookFailsTransaction(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	boom := errors.New("injected")
	s.SetCommitHook(func() error { return boom })

	err := s.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		return tx.Put(ctx, datastore.NewEntity(datastore.IDKey("user", 1, "")))
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if s.Size() != 0 {
		t.Error("failed commit must not apply writes")
	}
}

func TestTransactionWriteLimit(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	err := s.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		for i := 0; i <= datastore.TransactionWriteLimit; i++ {
			if err := tx.Put(ctx, datastore.NewEntity(datastore.IDKey("user", int64(i+1), ""))); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected over-limit transaction to fail")
	}
	if s.Size() != 0 {
		t.Error("over-limit transaction must not apply writes")
	}
}
