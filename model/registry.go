package model

import (
	"context"

	"github.com/jacentio/lattice/datastore"
)

// Indexer is a per-model secondary-index hook. Cleanup is invoked after an
// entity under the model's kind has been deleted.
type Indexer interface {
	Cleanup(ctx context.Context, client datastore.Client, key *datastore.Key) error
}

// Registry holds all known models keyed by kind, plus their secondary-index
// hooks. Polymorphic layer stripping and the stream janitor both resolve
// kinds back to models through it.
type Registry struct {
	byKind   map[string]*Model
	indexers map[string][]Indexer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKind:   map[string]*Model{},
		indexers: map[string][]Indexer{},
	}
}

// Register adds a model. Registering the same kind twice replaces the
// earlier model.
func (r *Registry) Register(m *Model) {
	r.byKind[m.Kind] = m
}

// ByKind returns the model registered for a kind, or nil.
func (r *Registry) ByKind(kind string) *Model {
	return r.byKind[kind]
}

// RegisterIndexer attaches a secondary-index hook to a kind.
func (r *Registry) RegisterIndexer(kind string, idx Indexer) {
	r.indexers[kind] = append(r.indexers[kind], idx)
}

// IndexersFor returns the secondary-index hooks for a model.
func (r *Registry) IndexersFor(m *Model) []Indexer {
	return r.indexers[m.Kind]
}
