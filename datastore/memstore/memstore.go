// Package memstore provides an in-memory implementation of the datastore
// contract. It backs the unit tests and local development runs, and mirrors
// the store semantics the dynamo adapter provides in production: flat
// buffered transactions, scan queries with per-clause alternative values,
// and monotonic id allocation honoring reservations.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/jacentio/lattice/datastore"
)

// Store is an in-memory datastore.Client.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*datastore.Entity
	nextID   map[string]int64

	commitHook func() error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entities: map[string]*datastore.Entity{},
		nextID:   map[string]int64{},
	}
}

// SetCommitHook installs a hook invoked just before each transaction
// commit. Returning an error fails the commit without applying any buffered
// write. Tests use this for fault injection.
func (s *Store) SetCommitHook(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

// Size returns the number of stored entities across all kinds.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// CountKind returns the number of stored entities of one kind.
func (s *Store) CountKind(kind, namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entities {
		if e.Key.Kind == kind && e.Key.Namespace == namespace {
			n++
		}
	}
	return n
}

// RunQuery implements datastore.Client.
func (s *Store) RunQuery(ctx context.Context, q *datastore.Query, opts datastore.RunOptions) ([]*datastore.Entity, error) {
	s.mu.RLock()
	var results []*datastore.Entity
	for _, e := range s.entities {
		if e.Key.Kind != q.Kind || e.Key.Namespace != q.Namespace {
			continue
		}
		ok, err := q.Matches(e)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if ok {
			results = append(results, e.Clone())
		}
	}
	s.mu.RUnlock()

	datastore.SortEntities(results, q.Ordering)

	if len(q.DistinctOn) > 0 {
		results = distinctOn(results, q.DistinctOn)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			results = nil
		} else {
			results = results[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	for i, e := range results {
		switch {
		case q.KeysOnly:
			results[i] = &datastore.Entity{Key: e.Key}
		case len(q.Projection) > 0:
			results[i] = project(e, q.Projection)
		}
	}
	return results, nil
}

func distinctOn(entities []*datastore.Entity, columns []string) []*datastore.Entity {
	seen := map[string]bool{}
	var out []*datastore.Entity
	for _, e := range entities {
		sig := ""
		for _, c := range columns {
			v, _ := e.Get(c)
			sig += fmt.Sprintf("%v\x00", v)
		}
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, e)
	}
	return out
}

func project(e *datastore.Entity, columns []string) *datastore.Entity {
	p := datastore.NewEntity(e.Key)
	for _, c := range columns {
		if v, ok := e.Get(c); ok {
			p.Properties[c] = v
		}
	}
	return p
}

// Get implements datastore.Client.
func (s *Store) Get(ctx context.Context, keys []*datastore.Key) ([]*datastore.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]*datastore.Entity, len(keys))
	for i, k := range keys {
		if e, ok := s.entities[k.String()]; ok {
			results[i] = e.Clone()
		}
	}
	return results, nil
}

// Put implements datastore.Client.
func (s *Store) Put(ctx context.Context, entities ...*datastore.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(entities)
}

func (s *Store) putLocked(entities []*datastore.Entity) error {
	for _, e := range entities {
		if e.Key == nil || e.Key.Incomplete() {
			return datastore.ErrIncompleteKey
		}
	}
	for _, e := range entities {
		s.entities[e.Key.String()] = e.Clone()
	}
	return nil
}

// Delete implements datastore.Client.
func (s *Store) Delete(ctx context.Context, keys ...*datastore.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entities, k.String())
	}
	return nil
}

// AllocateID implements datastore.Client.
func (s *Store) AllocateID(ctx context.Context, kind, namespace string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := counterKey(kind, namespace)
	next := s.nextID[c]
	if next == 0 {
		next = 1
	}
	s.nextID[c] = next + 1
	return next, nil
}

// ReserveID implements datastore.Client.
func (s *Store) ReserveID(ctx context.Context, kind string, id int64, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := counterKey(kind, namespace)
	if id >= s.nextID[c] {
		s.nextID[c] = id + 1
	}
	return nil
}

func counterKey(kind, namespace string) string {
	return namespace + "\x00" + kind
}

// RunInTransaction implements datastore.Client. The transaction is flat:
// writes are buffered and applied atomically on commit, reads observe the
// pre-transaction state. Calling RunInTransaction again from inside fn
// opens an independent transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx datastore.Transaction) error) error {
	t := &txn{store: s}
	if err := fn(t); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(t.ops) > datastore.TransactionWriteLimit {
		return fmt.Errorf("lattice: %d writes in one transaction exceeds the limit of %d",
			len(t.ops), datastore.TransactionWriteLimit)
	}
	if s.commitHook != nil {
		if err := s.commitHook(); err != nil {
			return err
		}
	}

	for _, op := range t.ops {
		if op.put != nil {
			if err := s.putLocked([]*datastore.Entity{op.put}); err != nil {
				return err
			}
		} else {
			delete(s.entities, op.del.String())
		}
	}
	return nil
}

type op struct {
	put *datastore.Entity
	del *datastore.Key
}

type txn struct {
	store *Store
	ops   []op
}

func (t *txn) Get(ctx context.Context, keys []*datastore.Key) ([]*datastore.Entity, error) {
	return t.store.Get(ctx, keys)
}

func (t *txn) Put(ctx context.Context, entities ...*datastore.Entity) error {
	for _, e := range entities {
		if e.Key == nil || e.Key.Incomplete() {
			return datastore.ErrIncompleteKey
		}
		t.ops = append(t.ops, op{put: e.Clone()})
	}
	return nil
}

func (t *txn) Delete(ctx context.Context, keys ...*datastore.Key) error {
	for _, k := range keys {
		t.ops = append(t.ops, op{del: k})
	}
	return nil
}
