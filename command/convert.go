package command

import (
	"time"
	"unicode/utf8"

	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
)

// typeTags returns the polymorphic tag list for a model: the kinds of every
// model in its concrete hierarchy, root last.
func typeTags(m *model.Model) []any {
	var tags []any
	for cur := m; cur != nil; cur = cur.ConcreteParent {
		tags = append(tags, cur.Kind)
	}
	return tags
}

// splitValues coerces one row of column values into primary-record
// properties and descendant records, using the model's field metadata.
// Fields flagged with a descendant kind live in a child record parented
// under the primary entity; its key is derived deterministically so a later
// update overwrites in place.
func splitValues(m *model.Model, namespace string, values map[string]any) (map[string]any, []*datastore.Entity, error) {
	primary := map[string]any{}
	descendants := map[string]*datastore.Entity{}

	for column, value := range values {
		field := m.FieldByColumn(column)
		if field != nil && field.PrimaryKey {
			continue
		}

		coerced, err := coerceForSave(field, value)
		if err != nil {
			return nil, nil, err
		}

		if field != nil && field.DescendantKind != "" {
			d, ok := descendants[field.DescendantKind]
			if !ok {
				d = datastore.NewEntity(datastore.NameKey(field.DescendantKind, m.Kind, namespace))
				descendants[field.DescendantKind] = d
			}
			d.Set(column, coerced)
			continue
		}
		primary[column] = coerced
	}

	var out []*datastore.Entity
	for _, d := range descendants {
		out = append(out, d)
	}
	return primary, out, nil
}

func coerceForSave(field *model.Field, value any) (any, error) {
	if b, ok := value.([]byte); ok {
		if !utf8.Valid(b) {
			return nil, datastore.ErrBadEncoding
		}
		if field == nil || field.Type != model.Bytes {
			return string(b), nil
		}
		return b, nil
	}
	if field == nil {
		return datastore.NormalizeValue(value), nil
	}
	switch field.Type {
	case model.Decimal:
		return model.CoerceDecimal(value, *field), nil
	case model.DateTime, model.Date, model.Time:
		if t, ok := value.(time.Time); ok {
			return t.UTC(), nil
		}
		return value, nil
	default:
		return datastore.NormalizeValue(value), nil
	}
}

// keyForPK builds the entity key from a primary-key value. A nil value
// yields an incomplete key for the store to complete.
func keyForPK(m *model.Model, namespace string, pkValue any) *datastore.Key {
	kind := m.Concrete().Kind
	switch v := datastore.NormalizeValue(pkValue).(type) {
	case int64:
		return datastore.IDKey(kind, v, namespace)
	case string:
		return datastore.NameKey(kind, v, namespace)
	default:
		return datastore.IncompleteKey(kind, namespace)
	}
}

// buildEntities converts one row of values into the primary entity plus
// its descendant records.
func buildEntities(m *model.Model, namespace string, values map[string]any) (*datastore.Entity, []*datastore.Entity, error) {
	var pkValue any
	if pk := m.PK(); pk != nil {
		pkValue = values[pk.Column]
	}

	props, descendants, err := splitValues(m, namespace, values)
	if err != nil {
		return nil, nil, err
	}

	primary := datastore.NewEntity(keyForPK(m, namespace, pkValue))
	for column, v := range props {
		primary.Set(column, v)
	}
	if m.HasConcreteParents() {
		primary.Set(model.TypeTagColumn, typeTags(m))
	}
	return primary, descendants, nil
}
