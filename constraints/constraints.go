// Package constraints layers unique-field enforcement on top of a store
// that has none. Each currently-held unique value combination is
// represented by a marker record whose deterministic name is derived from
// the combination's values; at most one marker per combination exists at a
// time.
//
// Markers are acquired and released in independent flat transactions, never
// inside the entity write's own transaction. The write commands therefore
// compensate manually: a failed mutation deletes the markers it acquired,
// and a failed update re-acquires the markers of the pre-update state.
package constraints

import (
	"context"
	"fmt"
	"time"

	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/internal/markerkey"
	"github.com/jacentio/lattice/model"
)

const (
	// MarkerKind is the kind unique markers are stored under.
	MarkerKind = "_lattice_unique_marker"

	// PropInstance is the marker column referencing the owning entity.
	PropInstance = "instance"

	// PropCreated is the marker column holding the acquisition time.
	PropCreated = "created"
)

// HasActiveConstraints reports whether the model has unique constraints to
// enforce beyond what the store's key space already guarantees.
func HasActiveConstraints(m *model.Model) bool {
	return m.EnforceConstraints && len(m.UniqueCombinations(true)) > 0
}

// MarkerKeyFor returns the marker key for one combination with the given
// values, or nil when any value of the combination is nil; null never
// participates in uniqueness.
func MarkerKeyFor(m *model.Model, combo []string, values map[string]any, namespace string) *datastore.Key {
	for _, col := range combo {
		if values[col] == nil {
			return nil
		}
	}
	name := markerkey.Name(m.Concrete().Kind, combo, values)
	return datastore.NameKey(MarkerKind, name, namespace)
}

// MarkerKeys computes the marker keys an entity's current values hold, one
// per active combination.
func MarkerKeys(m *model.Model, e *datastore.Entity, namespace string) []*datastore.Key {
	var keys []*datastore.Key
	for _, combo := range m.UniqueCombinations(true) {
		values := map[string]any{}
		for _, col := range combo {
			values[col], _ = e.Get(col)
		}
		if k := MarkerKeyFor(m, combo, values, namespace); k != nil {
			keys = append(keys, k)
		}
	}
	return keys
}

// AcquireMarkers creates the given markers on behalf of owner, each in an
// independent transaction. It returns the markers actually created so far;
// on error the caller must delete them to compensate, since their
// transactions have already committed.
//
// A marker whose referenced instance no longer exists is stale (a swallowed
// release or a crashed compensation) and is silently reclaimed.
func AcquireMarkers(ctx context.Context, client datastore.Client, markers []*datastore.Key, owner *datastore.Key) ([]*datastore.Key, error) {
	var acquired []*datastore.Key
	for _, marker := range markers {
		err := client.RunInTransaction(ctx, func(tx datastore.Transaction) error {
			existing, err := tx.Get(ctx, []*datastore.Key{marker})
			if err != nil {
				return err
			}
			if existing[0] != nil {
				instance, _ := existing[0].Get(PropInstance)
				instanceKey, _ := instance.(*datastore.Key)
				if instanceKey != nil && instanceKey.Equal(owner) {
					// Already held by this entity.
					return nil
				}
				if instanceKey != nil {
					live, err := tx.Get(ctx, []*datastore.Key{instanceKey})
					if err != nil {
						return err
					}
					if live[0] != nil {
						return fmt.Errorf("%w: unique value combination already in use", datastore.ErrIntegrity)
					}
				}
				// Stale marker, reclaim it below.
			}
			m := datastore.NewEntity(marker)
			m.Set(PropInstance, owner)
			m.Set(PropCreated, time.Now().UTC())
			return tx.Put(ctx, m)
		})
		if err != nil {
			return acquired, err
		}
		acquired = append(acquired, marker)
	}
	return acquired, nil
}

// ReleaseMarkers deletes the owner's markers in an independent transaction.
// A marker another instance holds is left alone: releases arrive late (the
// stream janitor, a swallowed delete retried), and by then the value may
// have been legitimately re-acquired.
func ReleaseMarkers(ctx context.Context, client datastore.Client, markers []*datastore.Key, owner *datastore.Key) error {
	if len(markers) == 0 {
		return nil
	}
	return client.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		existing, err := tx.Get(ctx, markers)
		if err != nil {
			return err
		}
		for i, marker := range existing {
			if marker == nil {
				continue
			}
			instance, _ := marker.Get(PropInstance)
			instanceKey, _ := instance.(*datastore.Key)
			if instanceKey == nil || !instanceKey.Equal(owner) {
				continue
			}
			if err := tx.Delete(ctx, markers[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReleaseForEntity releases every marker the entity's current values hold.
func ReleaseForEntity(ctx context.Context, client datastore.Client, m *model.Model, e *datastore.Entity, namespace string) error {
	return ReleaseMarkers(ctx, client, MarkerKeys(m, e, namespace), e.Key)
}

// CheckBulkInMemory detects duplicate unique combinations within a single
// uncommitted batch. The store's transaction isolation hides markers
// created earlier in the same batch from later reads, so this check is the
// only guard against intra-batch duplicates.
func CheckBulkInMemory(m *model.Model, entities []*datastore.Entity, namespace string) error {
	seen := map[string]bool{}
	for _, e := range entities {
		for _, marker := range MarkerKeys(m, e, namespace) {
			if seen[marker.Name] {
				return fmt.Errorf("%w: duplicate unique value combination within one batch", datastore.ErrIntegrity)
			}
			seen[marker.Name] = true
		}
	}
	return nil
}

// Diff splits marker transitions for an update: markers only the new state
// holds (to acquire) and markers only the old state holds (to release).
// Combinations whose values did not change keep their marker untouched, so
// the record never passes through a zero-marker window.
func Diff(oldKeys, newKeys []*datastore.Key) (toAcquire, toRelease []*datastore.Key) {
	oldSet := map[string]bool{}
	for _, k := range oldKeys {
		oldSet[k.Name] = true
	}
	newSet := map[string]bool{}
	for _, k := range newKeys {
		newSet[k.Name] = true
	}
	for _, k := range newKeys {
		if !oldSet[k.Name] {
			toAcquire = append(toAcquire, k)
		}
	}
	for _, k := range oldKeys {
		if !newSet[k.Name] {
			toRelease = append(toRelease, k)
		}
	}
	return toAcquire, toRelease
}
