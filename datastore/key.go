package datastore

import (
	"fmt"
	"strings"
)

// KeyColumn is the pseudo-column that denotes a predicate on entity identity.
const KeyColumn = "__key__"

// Key identifies an entity: kind plus namespace plus an integer or string
// id, optionally parented by another key for descendant records.
type Key struct {
	Kind      string
	Namespace string
	ID        int64
	Name      string
	Parent    *Key
}

// IDKey creates a key with an integer id.
func IDKey(kind string, id int64, namespace string) *Key {
	return &Key{Kind: kind, ID: id, Namespace: namespace}
}

// NameKey creates a key with a string name.
func NameKey(kind, name, namespace string) *Key {
	return &Key{Kind: kind, Name: name, Namespace: namespace}
}

// IncompleteKey creates a key with no id; the store assigns one on put.
func IncompleteKey(kind, namespace string) *Key {
	return &Key{Kind: kind, Namespace: namespace}
}

// Incomplete reports whether the key still needs an id.
func (k *Key) Incomplete() bool {
	return k.ID == 0 && k.Name == ""
}

// IDOrName returns the integer id or the string name, whichever is set.
func (k *Key) IDOrName() any {
	if k.Name != "" {
		return k.Name
	}
	return k.ID
}

// WithParent returns a copy of k parented under parent. The parent's
// namespace is propagated to the copy.
func (k *Key) WithParent(parent *Key) *Key {
	c := *k
	c.Parent = parent
	if parent != nil {
		c.Namespace = parent.Namespace
	}
	return &c
}

// WithNamespace returns a copy of k (and its ancestors) carrying the given
// namespace. Callers must never trust the namespace embedded in a key that
// crossed an API boundary.
func (k *Key) WithNamespace(namespace string) *Key {
	if k == nil {
		return nil
	}
	c := *k
	c.Namespace = namespace
	c.Parent = k.Parent.WithNamespace(namespace)
	return &c
}

// Equal reports whether two keys identify the same entity.
func (k *Key) Equal(o *Key) bool {
	for k != nil && o != nil {
		if k.Kind != o.Kind || k.Namespace != o.Namespace || k.ID != o.ID || k.Name != o.Name {
			return false
		}
		k, o = k.Parent, o.Parent
	}
	return k == nil && o == nil
}

// Complete returns a copy of k with the given integer id filled in.
func (k *Key) Complete(id int64) *Key {
	c := *k
	c.ID = id
	c.Name = ""
	return &c
}

// String renders the key path, e.g. "ns:/parentKind,1/kind,name".
func (k *Key) String() string {
	if k == nil {
		return ""
	}
	var parts []string
	for cur := k; cur != nil; cur = cur.Parent {
		if cur.Name != "" {
			parts = append(parts, fmt.Sprintf("%s,%s", cur.Kind, cur.Name))
		} else {
			parts = append(parts, fmt.Sprintf("%s,%d", cur.Kind, cur.ID))
		}
	}
	// Reverse to root-first order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return k.Namespace + ":/" + strings.Join(parts, "/")
}

// CompareKeys orders keys by namespace, then root-first path (kind, then
// names before ids, matching the store's key ordering).
func CompareKeys(a, b *Key) int {
	if a == nil || b == nil {
		switch {
		case a == b:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if c := strings.Compare(a.Namespace, b.Namespace); c != 0 {
		return c
	}
	return comparePaths(path(a), path(b))
}

func path(k *Key) []*Key {
	var p []*Key
	for cur := k; cur != nil; cur = cur.Parent {
		p = append([]*Key{cur}, p...)
	}
	return p
}

func comparePaths(a, b []*Key) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i].Kind, b[i].Kind); c != 0 {
			return c
		}
		if c := compareIDOrName(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func compareIDOrName(a, b *Key) int {
	// Integer ids sort before names.
	if a.Name == "" && b.Name == "" {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}
	if a.Name == "" {
		return -1
	}
	if b.Name == "" {
		return 1
	}
	return strings.Compare(a.Name, b.Name)
}
