// Package stream provides the DynamoDB Streams janitor: when an entity row
// is removed, its leftover unique markers are released and its secondary
// indexes cleaned up. Marker release during delete is best effort, so this
// handler is what eventually reclaims the ones that slipped through.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/lattice/constraints"
	"github.com/jacentio/lattice/datastore"
	"github.com/jacentio/lattice/model"
)

// Handler processes DynamoDB stream events for removed entities.
type Handler struct {
	client   datastore.Client
	registry *model.Registry
	logger   *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(client datastore.Client, registry *model.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client:   client,
		registry: registry,
		logger:   logger,
	}
}

// HandleRemovals processes DynamoDB stream events, reclaiming constraint
// markers and index records for every removed entity. This function is
// designed to be used as an AWS Lambda handler.
func (h *Handler) HandleRemovals(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" {
		return nil
	}

	entity, err := decodeStreamEntity(record.Change.OldImage)
	if err != nil {
		return fmt.Errorf("decode removed item: %w", err)
	}
	if entity == nil || entity.Key.Kind == constraints.MarkerKind {
		return nil
	}

	m := h.registry.ByKind(entity.Key.Kind)
	if m == nil {
		h.logger.Debug("no model registered for removed kind", "kind", entity.Key.Kind)
		return nil
	}

	if constraints.HasActiveConstraints(m) {
		if err := constraints.ReleaseForEntity(ctx, h.client, m, entity, entity.Key.Namespace); err != nil {
			return fmt.Errorf("release markers for %s: %w", entity.Key, err)
		}
	}

	for _, indexer := range h.registry.IndexersFor(m) {
		if err := indexer.Cleanup(ctx, h.client, entity.Key); err != nil {
			return fmt.Errorf("index cleanup for %s: %w", entity.Key, err)
		}
	}

	h.logger.Info("reclaimed removed entity",
		"key", entity.Key.String(),
		"kind", entity.Key.Kind,
	)
	return nil
}

// decodeStreamEntity rebuilds an entity from a stream image of the entity
// table's item layout. A nil entity with nil error means the image is not
// an entity row.
func decodeStreamEntity(image map[string]events.DynamoDBAttributeValue) (*datastore.Entity, error) {
	rawKey, ok := image["key"]
	if !ok || rawKey.DataType() != events.DataTypeMap {
		return nil, nil
	}
	key, err := decodeStreamKey(rawKey.Map())
	if err != nil {
		return nil, err
	}

	e := datastore.NewEntity(key)
	if rawProps, ok := image["props"]; ok && rawProps.DataType() == events.DataTypeMap {
		for column, av := range rawProps.Map() {
			v, err := decodeStreamValue(av)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", column, err)
			}
			e.Properties[column] = v
		}
	}
	return e, nil
}

func decodeStreamKey(item map[string]events.DynamoDBAttributeValue) (*datastore.Key, error) {
	kind, ok := item["kind"]
	if !ok {
		return nil, fmt.Errorf("lattice: key image has no kind")
	}
	key := &datastore.Key{Kind: kind.String()}
	if v, ok := item["ns"]; ok {
		key.Namespace = v.String()
	}
	if v, ok := item["id"]; ok && v.DataType() == events.DataTypeNumber {
		id, err := strconv.ParseInt(v.Number(), 10, 64)
		if err != nil {
			return nil, err
		}
		key.ID = id
	}
	if v, ok := item["name"]; ok && v.DataType() == events.DataTypeString {
		key.Name = v.String()
	}
	if v, ok := item["parent"]; ok && v.DataType() == events.DataTypeMap {
		parent, err := decodeStreamKey(v.Map())
		if err != nil {
			return nil, err
		}
		key.Parent = parent
	}
	return key, nil
}

func decodeStreamValue(av events.DynamoDBAttributeValue) (any, error) {
	switch av.DataType() {
	case events.DataTypeNull:
		return nil, nil
	case events.DataTypeNumber:
		if strings.ContainsAny(av.Number(), ".eE") {
			return strconv.ParseFloat(av.Number(), 64)
		}
		return strconv.ParseInt(av.Number(), 10, 64)
	case events.DataTypeString:
		return av.String(), nil
	case events.DataTypeBoolean:
		return av.Boolean(), nil
	case events.DataTypeBinary:
		return av.Binary(), nil
	case events.DataTypeMap:
		m := av.Map()
		if t, ok := m["__time"]; ok {
			return time.Parse(time.RFC3339Nano, t.String())
		}
		if k, ok := m["__key"]; ok && k.DataType() == events.DataTypeMap {
			return decodeStreamKey(k.Map())
		}
		return nil, fmt.Errorf("lattice: unexpected map value")
	case events.DataTypeList:
		list := av.List()
		out := make([]any, len(list))
		for i, item := range list {
			v, err := decodeStreamValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("lattice: unsupported stream attribute type %v", av.DataType())
	}
}
