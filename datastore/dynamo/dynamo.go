// Package dynamo implements the store contract on DynamoDB: one table
// holding every entity keyed by its canonical key string, a GSI keyed by
// namespace-qualified kind for scans, and a counter table backing the id
// allocation ledger.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/lattice/datastore"
)

const (
	batchGetLimit   = 100
	batchWriteLimit = 25
)

// Client implements [datastore.Client] on DynamoDB.
type Client struct {
	db     *dynamodb.Client
	config Config
}

// New creates a client on an existing DynamoDB connection.
func New(db *dynamodb.Client, config Config) *Client {
	config.validate()
	return &Client{db: db, config: config}
}

// Connect builds a client from the default AWS configuration chain.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(awsCfg), cfg), nil
}

// RunQuery implements datastore.Client. The kind's partition on the GSI is
// scanned with as much of the filter pushed down as DynamoDB expressions
// can carry; the full predicate, ordering and windowing are re-applied
// client-side, since the pushdown is a bandwidth optimization, not the
// source of truth.
func (c *Client) RunQuery(ctx context.Context, q *datastore.Query, opts datastore.RunOptions) ([]*datastore.Entity, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(c.config.Table),
		IndexName:              aws.String(c.config.KindIndex),
		KeyConditionExpression: aws.String("#kindns = :kindns"),
		ExpressionAttributeNames: map[string]string{
			"#kindns": attrKindNS,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":kindns": &types.AttributeValueMemberS{Value: kindNS(q.Kind, q.Namespace)},
		},
	}
	if filter := buildFilterExpression(q, input.ExpressionAttributeNames, input.ExpressionAttributeValues); filter != "" {
		input.FilterExpression = aws.String(filter)
	}

	var matched []*datastore.Entity
	paginator := dynamodb.NewQueryPaginator(c.db, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			e, err := decodeEntity(raw)
			if err != nil {
				return nil, err
			}
			ok, err := q.Matches(e)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, e)
			}
		}
	}

	datastore.SortEntities(matched, q.Ordering)

	if len(q.DistinctOn) > 0 {
		matched = dedupeOn(matched, q.DistinctOn)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*datastore.Entity, len(matched))
	for i, e := range matched {
		out[i] = shapeResult(q, e)
	}
	return out, nil
}

// buildFilterExpression pushes simple scalar predicates into the query's
// filter expression. Clauses the expression grammar cannot carry (key
// predicates, nil comparisons, rich values) are skipped; the client-side
// match picks them up.
func buildFilterExpression(q *datastore.Query, names map[string]string, values map[string]types.AttributeValue) string {
	var groups []string
	n := 0
	for _, clause := range q.Clauses() {
		if clause.Column == datastore.KeyColumn {
			continue
		}
		var alts []string
		pushable := true
		for _, v := range clause.Values {
			switch v.(type) {
			case string, int64, float64, bool:
			default:
				pushable = false
			}
			if !pushable {
				break
			}
			nameKey := fmt.Sprintf("#attr%d", n)
			valueKey := fmt.Sprintf(":val%d", n)
			n++
			names["#props"] = attrProps
			names[nameKey] = clause.Column
			values[valueKey] = encodeValue(v)
			alts = append(alts, fmt.Sprintf("#props.%s %s %s", nameKey, clause.Op, valueKey))
		}
		if !pushable || len(alts) == 0 {
			continue
		}
		groups = append(groups, "("+strings.Join(alts, " OR ")+")")
	}
	return strings.Join(groups, " AND ")
}

func dedupeOn(entities []*datastore.Entity, columns []string) []*datastore.Entity {
	seen := map[string]bool{}
	var out []*datastore.Entity
	for _, e := range entities {
		sig := ""
		for _, col := range columns {
			v, _ := e.Get(col)
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

func shapeResult(q *datastore.Query, e *datastore.Entity) *datastore.Entity {
	switch {
	case q.KeysOnly:
		return &datastore.Entity{Key: e.Key}
	case len(q.Projection) > 0:
		projected := datastore.NewEntity(e.Key)
		for _, col := range q.Projection {
			if v, ok := e.Get(col); ok {
				projected.Properties[col] = v
			}
		}
		return projected
	default:
		return e
	}
}

// Get implements datastore.Client: a batch get in store-limit chunks, with
// unprocessed keys retried and results returned in input slot order.
func (c *Client) Get(ctx context.Context, keys []*datastore.Key) ([]*datastore.Entity, error) {
	byPK := map[string]*datastore.Entity{}

	for start := 0; start < len(keys); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(keys) {
			end = len(keys)
		}

		request := make([]map[string]types.AttributeValue, 0, end-start)
		seen := map[string]bool{}
		for _, k := range keys[start:end] {
			pk := k.String()
			if seen[pk] {
				continue
			}
			seen[pk] = true
			request = append(request, map[string]types.AttributeValue{
				attrPK: &types.AttributeValueMemberS{Value: pk},
			})
		}

		for len(request) > 0 {
			result, err := c.db.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{
					c.config.Table: {Keys: request},
				},
			})
			if err != nil {
				return nil, err
			}
			for _, raw := range result.Responses[c.config.Table] {
				e, err := decodeEntity(raw)
				if err != nil {
					return nil, err
				}
				byPK[e.Key.String()] = e
			}
			request = result.UnprocessedKeys[c.config.Table].Keys
		}
	}

	out := make([]*datastore.Entity, len(keys))
	for i, k := range keys {
		out[i] = byPK[k.String()]
	}
	return out, nil
}

// Put implements datastore.Client.
func (c *Client) Put(ctx context.Context, entities ...*datastore.Entity) error {
	for _, e := range entities {
		if e.Key.Incomplete() {
			return fmt.Errorf("%w: put %s", datastore.ErrIncompleteKey, e.Key.Kind)
		}
	}
	requests := make([]types.WriteRequest, len(entities))
	for i, e := range entities {
		requests[i] = types.WriteRequest{PutRequest: &types.PutRequest{Item: encodeEntity(e)}}
	}
	return c.batchWrite(ctx, requests)
}

// Delete implements datastore.Client.
func (c *Client) Delete(ctx context.Context, keys ...*datastore.Key) error {
	requests := make([]types.WriteRequest, len(keys))
	for i, k := range keys {
		requests[i] = types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{
				attrPK: &types.AttributeValueMemberS{Value: k.String()},
			},
		}}
	}
	return c.batchWrite(ctx, requests)
}

func (c *Client) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}
		chunk := requests[start:end]
		for len(chunk) > 0 {
			result, err := c.db.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{
					c.config.Table: chunk,
				},
			})
			if err != nil {
				return err
			}
			chunk = result.UnprocessedItems[c.config.Table]
		}
	}
	return nil
}

// AllocateID implements datastore.Client with an atomic counter item per
// kind and namespace.
func (c *Client) AllocateID(ctx context.Context, kind, namespace string) (int64, error) {
	result, err := c.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.config.CounterTable),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: kindNS(kind, namespace)},
		},
		UpdateExpression: aws.String("SET #n = if_not_exists(#n, :zero) + :one"),
		ExpressionAttributeNames: map[string]string{
			"#n": "n",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":one":  &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, err
	}
	var counter struct {
		N int64 `dynamodbav:"n"`
	}
	if err := attributevalue.UnmarshalMap(result.Attributes, &counter); err != nil {
		return 0, fmt.Errorf("decode counter item: %w", err)
	}
	return counter.N, nil
}

// ReserveID implements datastore.Client: a conditional max on the counter
// item so future allocations never revisit the reserved id.
func (c *Client) ReserveID(ctx context.Context, kind string, id int64, namespace string) error {
	_, err := c.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.config.CounterTable),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: kindNS(kind, namespace)},
		},
		UpdateExpression:    aws.String("SET #n = :id"),
		ConditionExpression: aws.String("attribute_not_exists(#n) OR #n < :id"),
		ExpressionAttributeNames: map[string]string{
			"#n": "n",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
		},
	})

	// Condition failure means the counter is already past the id.
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// RunInTransaction implements datastore.Client. Writes buffer in memory and
// commit through one TransactWriteItems call with an idempotency token;
// reads inside the transaction observe committed state.
func (c *Client) RunInTransaction(ctx context.Context, fn func(tx datastore.Transaction) error) error {
	t := &txn{client: c}
	if err := fn(t); err != nil {
		return err
	}
	return t.commit(ctx)
}

type txnOp struct {
	put *datastore.Entity
	del *datastore.Key
}

type txn struct {
	client *Client
	// ops keyed by pk, last write wins; DynamoDB rejects transactions
	// touching the same item twice.
	ops   map[string]txnOp
	order []string
}

func (t *txn) Get(ctx context.Context, keys []*datastore.Key) ([]*datastore.Entity, error) {
	return t.client.Get(ctx, keys)
}

func (t *txn) Put(ctx context.Context, entities ...*datastore.Entity) error {
	for _, e := range entities {
		if e.Key.Incomplete() {
			return fmt.Errorf("%w: put %s", datastore.ErrIncompleteKey, e.Key.Kind)
		}
		t.record(e.Key.String(), txnOp{put: e})
	}
	return nil
}

func (t *txn) Delete(ctx context.Context, keys ...*datastore.Key) error {
	for _, k := range keys {
		t.record(k.String(), txnOp{del: k})
	}
	return nil
}

func (t *txn) record(pk string, op txnOp) {
	if t.ops == nil {
		t.ops = map[string]txnOp{}
	}
	if _, exists := t.ops[pk]; !exists {
		t.order = append(t.order, pk)
	}
	t.ops[pk] = op
}

func (t *txn) commit(ctx context.Context) error {
	if len(t.order) == 0 {
		return nil
	}
	if len(t.order) > datastore.TransactionWriteLimit {
		return fmt.Errorf("%w: transaction exceeds %d write operations",
			datastore.ErrBulkLimit, datastore.TransactionWriteLimit)
	}

	items := make([]types.TransactWriteItem, 0, len(t.order))
	for _, pk := range t.order {
		op := t.ops[pk]
		if op.put != nil {
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(t.client.config.Table),
					Item:      encodeEntity(op.put),
				},
			})
			continue
		}
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(t.client.config.Table),
				Key: map[string]types.AttributeValue{
					attrPK: &types.AttributeValueMemberS{Value: pk},
				},
			},
		})
	}

	_, err := t.client.db.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	return mapTransactionError(err)
}

// mapTransactionError surfaces a cancelled transaction's conditional
// failures as integrity errors; everything else passes through.
func mapTransactionError(err error) error {
	if err == nil {
		return nil
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return fmt.Errorf("%w: transaction condition failed", datastore.ErrIntegrity)
			}
		}
	}
	return err
}
