// Package command exposes the engine's operation surface: single-use
// Select, Insert, Update, Delete and Flush command objects that translate
// one relational operation each into native store primitives.
package command

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
)

// CacheInvalidator is the hook into an external result cache. Mutating
// commands call it with every identity they touched.
type CacheInvalidator interface {
	RemoveKeys(keys []*datastore.Key, namespace string)
}

// Connection bundles everything a command needs: the store client, the
// active namespace, the model registry and the optional cache and logging
// hooks. One Connection serves one request; commands built on it are
// single-use.
type Connection struct {
	Client    datastore.Client
	Namespace string
	Registry  *model.Registry
	Cache     CacheInvalidator
	Logger    *slog.Logger

	warnedMu sync.Mutex
	warned   map[string]bool
}

// NewConnection creates a connection. The registry may be nil when no
// polymorphic models or indexers are in play.
func NewConnection(client datastore.Client, namespace string, registry *model.Registry) *Connection {
	return &Connection{
		Client:    client,
		Namespace: namespace,
		Registry:  registry,
		Logger:    slog.Default(),
		warned:    map[string]bool{},
	}
}

// warnOnce logs a warning at most once per distinct message/argument
// combination for the lifetime of the connection.
func (c *Connection) warnOnce(msg string, args ...any) {
	id := fmt.Sprintf("%s:%v", msg, args)
	c.warnedMu.Lock()
	seen := c.warned[id]
	if !seen {
		if c.warned == nil {
			c.warned = map[string]bool{}
		}
		c.warned[id] = true
	}
	c.warnedMu.Unlock()
	if seen {
		return
	}
	if c.Logger != nil {
		c.Logger.Warn(msg, args...)
	}
}

// invalidate removes the given identities from the external cache, if one
// is attached.
func (c *Connection) invalidate(keys []*datastore.Key) {
	if c.Cache != nil && len(keys) > 0 {
		c.Cache.RemoveKeys(keys, c.Namespace)
	}
}

// indexersFor returns the secondary-index hooks registered for a model.
func (c *Connection) indexersFor(m *model.Model) []model.Indexer {
	if c.Registry == nil {
		return nil
	}
	return c.Registry.IndexersFor(m)
}
