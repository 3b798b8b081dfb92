package dynamo

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/datastore"
)

// Item layout: one DynamoDB item per entity.
//
//	pk     S  canonical key string, the table's partition key
//	kindns S  namespace-qualified kind, the GSI's partition key
//	key    M  structured key, decoded back into a *datastore.Key
//	props  M  entity properties
const (
	attrPK     = "pk"
	attrKindNS = "kindns"
	attrKey    = "key"
	attrProps  = "props"
)

// Wrapper attribute names that distinguish rich property values from plain
// maps. DynamoDB numbers carry no int/float distinction, so the codec keeps
// the type in the encoding instead.
const (
	wrapTime = "__time"
	wrapKey  = "__key"
)

func kindNS(kind, namespace string) string {
	return namespace + "/" + kind
}

func encodeEntity(e *datastore.Entity) map[string]types.AttributeValue {
	props := map[string]types.AttributeValue{}
	for column, v := range e.Properties {
		props[column] = encodeValue(v)
	}
	return map[string]types.AttributeValue{
		attrPK:     &types.AttributeValueMemberS{Value: e.Key.String()},
		attrKindNS: &types.AttributeValueMemberS{Value: kindNS(e.Key.Kind, e.Key.Namespace)},
		attrKey:    &types.AttributeValueMemberM{Value: encodeKey(e.Key)},
		attrProps:  &types.AttributeValueMemberM{Value: props},
	}
}

func decodeEntity(item map[string]types.AttributeValue) (*datastore.Entity, error) {
	rawKey, ok := item[attrKey].(*types.AttributeValueMemberM)
	if !ok {
		return nil, fmt.Errorf("lattice: item has no structured key")
	}
	key, err := decodeKey(rawKey.Value)
	if err != nil {
		return nil, err
	}

	e := datastore.NewEntity(key)
	if rawProps, ok := item[attrProps].(*types.AttributeValueMemberM); ok {
		for column, av := range rawProps.Value {
			v, err := decodeValue(av)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", column, err)
			}
			e.Properties[column] = v
		}
	}
	return e, nil
}

func encodeKey(k *datastore.Key) map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{
		"kind": &types.AttributeValueMemberS{Value: k.Kind},
	}
	if k.Namespace != "" {
		out["ns"] = &types.AttributeValueMemberS{Value: k.Namespace}
	}
	if k.ID != 0 {
		out["id"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(k.ID, 10)}
	}
	if k.Name != "" {
		out["name"] = &types.AttributeValueMemberS{Value: k.Name}
	}
	if k.Parent != nil {
		out["parent"] = &types.AttributeValueMemberM{Value: encodeKey(k.Parent)}
	}
	return out
}

func decodeKey(item map[string]types.AttributeValue) (*datastore.Key, error) {
	kind, ok := item["kind"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("lattice: key item has no kind")
	}
	key := &datastore.Key{Kind: kind.Value}
	if v, ok := item["ns"].(*types.AttributeValueMemberS); ok {
		key.Namespace = v.Value
	}
	if v, ok := item["id"].(*types.AttributeValueMemberN); ok {
		id, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, err
		}
		key.ID = id
	}
	if v, ok := item["name"].(*types.AttributeValueMemberS); ok {
		key.Name = v.Value
	}
	if v, ok := item["parent"].(*types.AttributeValueMemberM); ok {
		parent, err := decodeKey(v.Value)
		if err != nil {
			return nil, err
		}
		key.Parent = parent
	}
	return key, nil
}

func encodeValue(v any) types.AttributeValue {
	switch v := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			// Keep the float/int distinction through the numeric encoding.
			s += ".0"
		}
		return &types.AttributeValueMemberN{Value: s}
	case string:
		return &types.AttributeValueMemberS{Value: v}
	case bool:
		return &types.AttributeValueMemberBOOL{Value: v}
	case []byte:
		return &types.AttributeValueMemberB{Value: v}
	case time.Time:
		return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			wrapTime: &types.AttributeValueMemberS{Value: v.UTC().Format(time.RFC3339Nano)},
		}}
	case *datastore.Key:
		return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			wrapKey: &types.AttributeValueMemberM{Value: encodeKey(v)},
		}}
	case []any:
		list := make([]types.AttributeValue, len(v))
		for i, item := range v {
			list[i] = encodeValue(item)
		}
		return &types.AttributeValueMemberL{Value: list}
	default:
		return &types.AttributeValueMemberS{Value: fmt.Sprintf("%v", v)}
	}
}

func decodeValue(av types.AttributeValue) (any, error) {
	switch av := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberN:
		if strings.ContainsAny(av.Value, ".eE") {
			return strconv.ParseFloat(av.Value, 64)
		}
		return strconv.ParseInt(av.Value, 10, 64)
	case *types.AttributeValueMemberS:
		return av.Value, nil
	case *types.AttributeValueMemberBOOL:
		return av.Value, nil
	case *types.AttributeValueMemberB:
		return av.Value, nil
	case *types.AttributeValueMemberM:
		if t, ok := av.Value[wrapTime].(*types.AttributeValueMemberS); ok {
			return time.Parse(time.RFC3339Nano, t.Value)
		}
		if k, ok := av.Value[wrapKey].(*types.AttributeValueMemberM); ok {
			return decodeKey(k.Value)
		}
		return nil, fmt.Errorf("lattice: unexpected map value")
	case *types.AttributeValueMemberL:
		out := make([]any, len(av.Value))
		for i, item := range av.Value {
			v, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("lattice: unsupported attribute type %T", av)
	}
}
