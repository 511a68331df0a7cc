package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
)

func discountSchema() Schema[*shopstore.DiscountCode] {
	return Schema[*shopstore.DiscountCode]{
		EntityType: EntityTypeDiscountCode,
		New:        func() *shopstore.DiscountCode { return &shopstore.DiscountCode{} },
		Key:        func(d *shopstore.DiscountCode) Key { return DiscountKey(d.ID) },
		Indexes: func(d *shopstore.DiscountCode) []IndexKey {
			return []IndexKey{discountCodeIndex(d)}
		},
		Guards: func(d *shopstore.DiscountCode) []Guard {
			return []Guard{{Field: UniqueDiscountCode, Value: NormalizeCode(d.Code)}}
		},
		Required: []string{"id", "code", "kind", "amount"},
	}
}

// DiscountRepository persists discount codes. Codes are stored upper case.
type DiscountRepository struct {
	db        *DynamoDBStore
	discounts *Repository[*shopstore.DiscountCode]
}

var _ shopstore.DiscountStore = (*DiscountRepository)(nil)

func newDiscountRepository(db *DynamoDBStore) *DiscountRepository {
	return &DiscountRepository{
		db:        db,
		discounts: NewRepository(db, discountSchema()),
	}
}

func validateDiscount(d *shopstore.DiscountCode) error {
	if d.Code == "" || strings.ContainsAny(d.Code, "# ") {
		return shopstore.NewValidationError("discount code %q is invalid", d.Code)
	}
	switch d.Kind {
	case shopstore.DiscountPercent:
		if d.Amount <= 0 || d.Amount > 100 {
			return shopstore.NewValidationError("percent discount must be between 1 and 100")
		}
	case shopstore.DiscountFixed:
		if d.Amount <= 0 {
			return shopstore.NewValidationError("fixed discount must be positive")
		}
	default:
		return shopstore.NewValidationError("unknown discount kind %q", d.Kind)
	}
	if d.MaxRedemptions < 0 || d.Redemptions < 0 {
		return shopstore.NewValidationError("redemption counts must not be negative")
	}
	if d.StartsAt != nil && d.EndsAt != nil && !d.EndsAt.After(*d.StartsAt) {
		return shopstore.NewValidationError("discount window ends before it starts")
	}
	return nil
}

func (r *DiscountRepository) Create(ctx context.Context, d *shopstore.DiscountCode) (*shopstore.DiscountCode, error) {
	d.Code = NormalizeCode(d.Code)
	if err := validateDiscount(d); err != nil {
		return nil, err
	}
	if err := r.db.counters.allocate(ctx, &d.ID, CounterDiscountID); err != nil {
		return nil, err
	}
	return r.discounts.Create(ctx, d)
}

func (r *DiscountRepository) Get(ctx context.Context, id int64, includeDeleted bool) (*shopstore.DiscountCode, error) {
	return r.discounts.Get(ctx, DiscountKey(id), includeDeleted)
}

// GetByCode looks a code up case-insensitively
func (r *DiscountRepository) GetByCode(ctx context.Context, code string) (*shopstore.DiscountCode, error) {
	return r.discounts.FindUnique(ctx, UniqueDiscountCode, NormalizeCode(code))
}

func (r *DiscountRepository) Update(ctx context.Context, id int64, mutate func(*shopstore.DiscountCode) error) (*shopstore.DiscountCode, error) {
	return r.discounts.Update(ctx, DiscountKey(id), func(d *shopstore.DiscountCode) error {
		if err := mutate(d); err != nil {
			return err
		}
		d.Code = NormalizeCode(d.Code)
		return validateDiscount(d)
	})
}

func (r *DiscountRepository) SoftDelete(ctx context.Context, id int64) error {
	return r.discounts.SoftDelete(ctx, DiscountKey(id))
}

func (r *DiscountRepository) Restore(ctx context.Context, id int64) error {
	return r.discounts.Restore(ctx, DiscountKey(id))
}

// Redeem consumes one redemption of an active code outside any order
func (r *DiscountRepository) Redeem(ctx context.Context, code string) (*shopstore.DiscountCode, error) {
	d, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !d.Redeemable(r.db.now()) {
		return nil, shopstore.NewConflictError(EntityTypeDiscountCode, DiscountKey(d.ID).String(), "discount code is not redeemable")
	}

	expr, err := r.redeemExpression()
	if err != nil {
		return nil, err
	}

	key := DiscountKey(d.ID)
	result, err := r.db.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.db.tableName),
		Key:                                 key.AttributeValues(),
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if old, ok := ConditionFailedItem(err); ok {
			return nil, r.discounts.conditionFailure(old, key, "discount code is not redeemable", err)
		}
		return nil, classify(err, "redeem discount", EntityTypeDiscountCode, key)
	}
	return r.discounts.Codec().Decode(result.Attributes)
}

// RedeemUpdate is the transactional form of Redeem for a code already read
func (r *DiscountRepository) RedeemUpdate(d *shopstore.DiscountCode) (types.TransactWriteItem, error) {
	expr, err := r.redeemExpression()
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                           aws.String(r.db.tableName),
			Key:                                 DiscountKey(d.ID).AttributeValues(),
			UpdateExpression:                    expr.Update(),
			ConditionExpression:                 expr.Condition(),
			ExpressionAttributeNames:            expr.Names(),
			ExpressionAttributeValues:           expr.Values(),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, nil
}

// redeemExpression increments redemptions on an active code that is below
// its cap. The validity window is checked by the caller before writing.
func (r *DiscountRepository) redeemExpression() (expression.Expression, error) {
	update := expression.Add(expression.Name("redemptions"), expression.Value(1)).
		Set(expression.Name(AttrVersion), expression.Name(AttrVersion).Plus(expression.Value(1))).
		Set(expression.Name(AttrUpdatedAt), expression.Value(r.db.now().UTC().Format(time.RFC3339Nano)))

	cond := expression.AttributeExists(expression.Name(AttrPK)).
		And(activeFilter()).
		And(expression.Name("active").Equal(expression.Value(true))).
		And(expression.Or(
			expression.AttributeNotExists(expression.Name("max_redemptions")),
			expression.Name("redemptions").LessThan(expression.Name("max_redemptions")),
		))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("failed to build redeem expression: %w", err)
	}
	return expr, nil
}

// Discount computes the discount in cents that d grants on subtotal
func Discount(d *shopstore.DiscountCode, subtotal int64) int64 {
	var off int64
	switch d.Kind {
	case shopstore.DiscountPercent:
		off = subtotal * d.Amount / 100
	case shopstore.DiscountFixed:
		off = d.Amount
	}
	if off > subtotal {
		off = subtotal
	}
	return off
}
