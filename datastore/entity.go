package datastore

import (
	"sort"
	"time"
)

// Entity is a mapping from column name to value plus an identity. Entities
// are value objects produced and consumed per call; nothing in this module
// retains one beyond the call that created it.
type Entity struct {
	Key        *Key
	Properties map[string]any
}

// NewEntity creates an empty entity with the given key.
func NewEntity(key *Key) *Entity {
	return &Entity{Key: key, Properties: map[string]any{}}
}

// Get returns the value of a column and whether it is present.
func (e *Entity) Get(column string) (any, bool) {
	v, ok := e.Properties[column]
	return v, ok
}

// Set stores a value under a column, normalizing it to the store's
// canonical scalar types.
func (e *Entity) Set(column string, value any) {
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	e.Properties[column] = NormalizeValue(value)
}

// Remove deletes a column from the entity.
func (e *Entity) Remove(column string) {
	delete(e.Properties, column)
}

// Columns returns the entity's column names in sorted order.
func (e *Entity) Columns() []string {
	cols := make([]string, 0, len(e.Properties))
	for c := range e.Properties {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Clone returns a deep copy of the entity. Slice-valued properties are
// copied one level deep, which covers the composite values this module
// stores (polymorphic tag lists and literal list columns).
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := NewEntity(e.Key)
	for col, v := range e.Properties {
		if s, ok := v.([]any); ok {
			cp := make([]any, len(s))
			copy(cp, s)
			v = cp
		}
		c.Properties[col] = v
	}
	return c
}

// NormalizeValue converts a property value to the store's canonical types:
// integers to int64, float32 to float64, times to UTC. Other values pass
// through unchanged.
func NormalizeValue(value any) any {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	case time.Time:
		return v.UTC()
	default:
		return value
	}
}

// CompareValues orders two property values. The second return is false when
// the values are of incomparable types. Nil sorts before everything.
func CompareValues(a, b any) (int, bool) {
	a, b = NormalizeValue(a), NormalizeValue(b)
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, true
		case a == nil:
			return -1, true
		default:
			return 1, true
		}
	}

	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return compareOrdered(av, bv), true
		case float64:
			return compareOrdered(float64(av), bv), true
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return compareOrdered(av, bv), true
		case int64:
			return compareOrdered(av, float64(bv)), true
		}
	case string:
		if bv, ok := b.(string); ok {
			return compareOrdered(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), true
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return compareOrdered(string(av), string(bv)), true
		}
	case *Key:
		if bv, ok := b.(*Key); ok {
			return CompareKeys(av, bv), true
		}
	}
	return 0, false
}

func compareOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortEntities orders entities by the given ordering, with the key path as
// the final tiebreak so that merged result streams are deterministic.
func SortEntities(entities []*Entity, ordering []Order) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		for _, o := range ordering {
			var av, bv any
			if o.Column == KeyColumn {
				av, bv = a.Key, b.Key
			} else {
				av, _ = a.Get(o.Column)
				bv, _ = b.Get(o.Column)
			}
			c, ok := CompareValues(av, bv)
			if !ok || c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return CompareKeys(a.Key, b.Key) < 0
	})
}
