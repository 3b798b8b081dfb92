package command

import (
	"fmt"
	"unicode/utf8"

	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/query"
)

// The per-result transform pipeline. Every step passes nil through
// unchanged so results dropped by an earlier step fall out cleanly.

// ignoreExcludedKeys drops results whose identity is in the excluded set.
func ignoreExcludedKeys(excluded map[string]bool, e *datastore.Entity) *datastore.Entity {
	if e == nil {
		return nil
	}
	if excluded[e.Key.String()] {
		return nil
	}
	return e
}

// convertDatetimeFields coerces temporal columns back to their canonical
// time.Time form.
func convertDatetimeFields(m *model.Model, e *datastore.Entity) *datastore.Entity {
	if e == nil {
		return nil
	}
	for _, f := range m.Fields {
		if !f.Temporal() {
			continue
		}
		if v, ok := e.Get(f.Column); ok && v != nil {
			e.Properties[f.Column] = model.CoerceTemporal(v)
		}
	}
	return e
}

// fixProjectedText normalizes text columns that came back as raw bytes
// from a projection.
func fixProjectedText(m *model.Model, e *datastore.Entity) *datastore.Entity {
	if e == nil {
		return nil
	}
	for _, f := range m.Fields {
		if f.Type != model.String && f.Type != model.Text {
			continue
		}
		if v, ok := e.Get(f.Column); ok {
			if b, isBytes := v.([]byte); isBytes && utf8.Valid(b) {
				e.Properties[f.Column] = string(b)
			}
		}
	}
	return e
}

// renamePKColumn exposes the key's id under both the declared model's and
// the root concrete model's primary-key columns, which is what lets
// multi-table inheritance alias the same record by either name.
func renamePKColumn(m *model.Model, e *datastore.Entity) *datastore.Entity {
	if e == nil {
		return nil
	}
	value := e.Key.IDOrName()
	if pk := m.PK(); pk != nil {
		e.Set(pk.Column, value)
	}
	if pk := m.Concrete().PK(); pk != nil {
		e.Set(pk.Column, value)
	}
	return e
}

// processExtraSelects evaluates computed columns against the record.
func processExtraSelects(extras []query.ExtraSelect, e *datastore.Entity) (*datastore.Entity, error) {
	if e == nil {
		return nil, nil
	}
	for _, extra := range extras {
		v, err := extra.Expr.Eval(e)
		if err != nil {
			return nil, err
		}
		e.Set(extra.Column, v)
	}
	return e, nil
}

// distinctSignature builds the dedupe key for distinct queries with
// computed columns: the tuple of non-identity selected column values.
func distinctSignature(columns []string, e *datastore.Entity) string {
	sig := ""
	for _, col := range columns {
		if v, ok := e.Get(col); ok {
			sig += fmt.Sprintf("%v\x00", v)
		}
	}
	return sig
}
