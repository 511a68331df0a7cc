package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/sicko7947/shopstore"
)

// DynamoDBStore holds the table handle shared by every repository
type DynamoDBStore struct {
	client    DynamoDBClient
	tableName string
	config    shopstore.Config
	logger    zerolog.Logger
	now       func() time.Time

	counters      *CounterService
	products      *ProductRepository
	categories    *CategoryRepository
	orders        *OrderRepository
	carts         *CartRepository
	discounts     *DiscountRepository
	notifications *NotificationRepository
	audit         *AuditRepository
}

// Option configures the store
type Option func(*DynamoDBStore)

// WithLogger sets a custom logger for the store
func WithLogger(logger zerolog.Logger) Option {
	return func(s *DynamoDBStore) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for timestamps, ttl and order numbers
func WithClock(now func() time.Time) Option {
	return func(s *DynamoDBStore) {
		s.now = now
	}
}

// NewDynamoDBStore creates a new DynamoDB-backed store.
// If no logger is provided, a default stdout logger with Info level is used.
func NewDynamoDBStore(client DynamoDBClient, cfg shopstore.Config, opts ...Option) *DynamoDBStore {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	s := &DynamoDBStore{
		client:    client,
		tableName: cfg.TableName,
		config:    cfg,
		logger:    defaultLogger,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.counters = &CounterService{db: s}
	s.products = newProductRepository(s)
	s.categories = newCategoryRepository(s)
	s.orders = newOrderRepository(s)
	s.carts = newCartRepository(s)
	s.discounts = newDiscountRepository(s)
	s.notifications = newNotificationRepository(s)
	s.audit = newAuditRepository(s)

	return s
}

func (s *DynamoDBStore) Client() DynamoDBClient          { return s.client }
func (s *DynamoDBStore) TableName() string               { return s.tableName }
func (s *DynamoDBStore) Config() shopstore.Config        { return s.config }
func (s *DynamoDBStore) Logger() zerolog.Logger          { return s.logger }
func (s *DynamoDBStore) Now() time.Time                  { return s.now() }
func (s *DynamoDBStore) Counters() *CounterService       { return s.counters }
func (s *DynamoDBStore) Products() *ProductRepository    { return s.products }
func (s *DynamoDBStore) Categories() *CategoryRepository { return s.categories }
func (s *DynamoDBStore) Orders() *OrderRepository        { return s.orders }
func (s *DynamoDBStore) Carts() *CartRepository          { return s.carts }
func (s *DynamoDBStore) Discounts() *DiscountRepository  { return s.discounts }
func (s *DynamoDBStore) Audit() *AuditRepository         { return s.audit }

func (s *DynamoDBStore) Notifications() *NotificationRepository {
	return s.notifications
}

// Low-level table access shared by the repositories

func (s *DynamoDBStore) getItem(ctx context.Context, key Key, consistent bool) (map[string]types.AttributeValue, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key.AttributeValues(),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, err
	}
	return result.Item, nil
}

// queryAll reads every row of a partition whose SK starts with prefix,
// soft-deleted rows included
func (s *DynamoDBStore) queryAll(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	kc := expression.Key(AttrPK).Equal(expression.Value(pk))
	if skPrefix != "" {
		kc = kc.And(expression.Key(AttrSK).BeginsWith(skPrefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(kc).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	var items []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ConsistentRead:            aws.Bool(true),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return nil, err
		}

		items = append(items, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		lastKey = result.LastEvaluatedKey
	}

	return items, nil
}

// transact submits a TransactWriteItems call. A non-empty token makes the
// call idempotent for the store's token window.
func (s *DynamoDBStore) transact(ctx context.Context, items []types.TransactWriteItem, token string) error {
	if len(items) > s.config.MaxTransactItems {
		return shopstore.NewValidationError("transaction has %d items, limit is %d", len(items), s.config.MaxTransactItems)
	}
	input := &dynamodb.TransactWriteItemsInput{TransactItems: items}
	if token != "" {
		input.ClientRequestToken = aws.String(token)
	}
	_, err := s.client.TransactWriteItems(ctx, input)
	return err
}

// Transact exposes the transactional write primitive to coordinators in
// other packages. Errors are returned unclassified so callers can inspect
// cancellation reasons by index.
func (s *DynamoDBStore) Transact(ctx context.Context, items []types.TransactWriteItem, token string) error {
	return s.transact(ctx, items, token)
}

// batchWrite sends write requests in chunks of the configured batch size and
// resubmits unprocessed items with backoff. It returns the requests that were
// still unprocessed when retries ran out.
func (s *DynamoDBStore) batchWrite(ctx context.Context, requests []types.WriteRequest) ([]types.WriteRequest, error) {
	size := s.config.BatchSize
	if size <= 0 || size > 25 {
		size = 25
	}

	for start := 0; start < len(requests); start += size {
		end := start + size
		if end > len(requests) {
			end = len(requests)
		}

		pending := map[string][]types.WriteRequest{s.tableName: requests[start:end]}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > s.config.WriteRetries {
				var left []types.WriteRequest
				left = append(left, pending[s.tableName]...)
				left = append(left, requests[end:]...)
				return left, fmt.Errorf("failed to write batch: %d requests unprocessed", len(left))
			}
			if delay := shopstore.CalculateBackoff(s.config.RetryDelayMs, attempt, s.config.RetryBackoff); delay > 0 {
				select {
				case <-ctx.Done():
					return append(pending[s.tableName], requests[end:]...), ctx.Err()
				case <-time.After(delay):
				}
			}

			result, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return append(pending[s.tableName], requests[end:]...), classify(err, "write batch", "", Key{})
			}
			if len(result.UnprocessedItems) > 0 {
				pending = result.UnprocessedItems
			} else {
				pending = nil
			}
		}
	}
	return nil, nil
}

// BatchPut writes items outside any transaction. Items still unprocessed
// after retries are returned with the error.
func (s *DynamoDBStore) BatchPut(ctx context.Context, items []map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	requests := make([]types.WriteRequest, len(items))
	for i, item := range items {
		requests[i] = types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
	}

	left, err := s.batchWrite(ctx, requests)
	var unprocessed []map[string]types.AttributeValue
	for _, r := range left {
		if r.PutRequest != nil {
			unprocessed = append(unprocessed, r.PutRequest.Item)
		}
	}
	return unprocessed, err
}

// deleteKeys removes rows by key without conditions
func (s *DynamoDBStore) deleteKeys(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	requests := make([]types.WriteRequest, len(keys))
	for i, k := range keys {
		requests[i] = types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k.AttributeValues()}}
	}
	_, err := s.batchWrite(ctx, requests)
	return err
}

// Transaction item builders

func (s *DynamoDBStore) putIfAbsent(item map[string]types.AttributeValue) (types.TransactWriteItem, error) {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(AttrPK))).
		Build()
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 aws.String(s.tableName),
			Item:                      item,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		},
	}, nil
}

// checkActive asserts that key exists and is not soft-deleted
func (s *DynamoDBStore) checkActive(key Key) (types.TransactWriteItem, error) {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name(AttrPK)).And(activeFilter())).
		Build()
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                           aws.String(s.tableName),
			Key:                                 key.AttributeValues(),
			ConditionExpression:                 expr.Condition(),
			ExpressionAttributeNames:            expr.Names(),
			ExpressionAttributeValues:           expr.Values(),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, nil
}

func (s *DynamoDBStore) deleteItem(key Key, mustExist bool) (types.TransactWriteItem, error) {
	del := &types.Delete{
		TableName: aws.String(s.tableName),
		Key:       key.AttributeValues(),
	}
	if mustExist {
		expr, err := expression.NewBuilder().
			WithCondition(expression.AttributeExists(expression.Name(AttrPK))).
			Build()
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		del.ConditionExpression = expr.Condition()
		del.ExpressionAttributeNames = expr.Names()
		del.ExpressionAttributeValues = expr.Values()
	}
	return types.TransactWriteItem{Delete: del}, nil
}

// PutIfAbsent builds a transactional put conditioned on the key being unused
func (s *DynamoDBStore) PutIfAbsent(item map[string]types.AttributeValue) (types.TransactWriteItem, error) {
	return s.putIfAbsent(item)
}

// GuardPut builds the transactional put that reserves a unique value for owner
func (s *DynamoDBStore) GuardPut(field, value string, owner Key) (types.TransactWriteItem, error) {
	return s.putIfAbsent(guardItem(Guard{Field: field, Value: value}, owner, s.now()))
}
