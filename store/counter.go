package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
)

// CounterService hands out unique increasing integers from reserved
// COUNTER rows. Each call is a single atomic update; values handed to a
// caller that later fails are skipped, never reused.
type CounterService struct {
	db *DynamoDBStore
}

var _ shopstore.CounterStore = (*CounterService)(nil)

// Next increments the named counter and returns the new value.
// Throttling surfaces as a retryable THROTTLED error; the increment is
// never retried here because a blind retry could consume two values.
func (c *CounterService) Next(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, shopstore.NewValidationError("counter name is required")
	}

	update := expression.Set(
		expression.Name(AttrValue),
		expression.Plus(
			expression.IfNotExists(expression.Name(AttrValue), expression.Value(0)),
			expression.Value(1),
		),
	).Set(
		expression.Name(AttrEntityType), expression.Value(EntityTypeCounter),
	).Set(
		expression.Name(AttrUpdatedAt), expression.Value(c.db.now().UTC().Format(time.RFC3339Nano)),
	)

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build counter expression: %w", err)
	}

	key := CounterKey(name)
	result, err := c.db.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.db.tableName),
		Key:                       key.AttributeValues(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, classify(err, "increment counter", EntityTypeCounter, key)
	}

	var value int64
	raw, ok := result.Attributes[AttrValue]
	if !ok {
		return 0, fmt.Errorf("failed to increment counter %s: no value returned", name)
	}
	if err := attributevalue.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("failed to decode counter %s: %w", name, err)
	}

	shopstore.LogCounterReserved(c.db.logger, name, value)
	return value, nil
}

// NextOrderNumber reserves the next ORD-YYYYMMDD-XXXX for the UTC day of now
func (c *CounterService) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := c.Next(ctx, OrderNumberCounter(now))
	if err != nil {
		return "", err
	}
	return FormatOrderNumber(now, seq), nil
}

// Current reads a counter without incrementing it. Missing counters read as 0.
func (c *CounterService) Current(ctx context.Context, name string) (int64, error) {
	key := CounterKey(name)
	item, err := c.db.getItem(ctx, key, true)
	if err != nil {
		return 0, classify(err, "read counter", EntityTypeCounter, key)
	}
	n, _ := numberAttr(item, AttrValue)
	return n, nil
}

// allocate returns id unchanged when set, otherwise reserves one from counter
func (c *CounterService) allocate(ctx context.Context, id *int64, counter string) error {
	if *id != 0 {
		if *id < 0 {
			return shopstore.NewValidationError("id must be positive, got %d", *id)
		}
		return nil
	}
	next, err := c.Next(ctx, counter)
	if err != nil {
		return err
	}
	*id = next
	return nil
}
