package store

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
)

// Guard reserves a globally unique value through a dedicated row
type Guard struct {
	Field string
	Value string
}

// Key returns the guard row key
func (g Guard) Key() Key {
	return GuardKey(g.Field, g.Value)
}

// IndexPartition is the unique-index partition holding the owner row
func (g Guard) IndexPartition() string {
	return g.Field + "#" + g.Value
}

// Schema describes how one entity type maps onto the table
type Schema[T shopstore.Entity] struct {
	EntityType string
	New        func() T
	Key        func(T) Key
	Indexes    func(T) []IndexKey
	Guards     func(T) []Guard
	Required   []string
}

// Codec converts between typed entities and generic items
type Codec[T shopstore.Entity] struct {
	schema Schema[T]
}

// NewCodec creates a codec for schema
func NewCodec[T shopstore.Entity](schema Schema[T]) Codec[T] {
	return Codec[T]{schema: schema}
}

// Encode populates key fields, index projections and the type discriminator
// and copies the payload
func (c Codec[T]) Encode(v T) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", c.schema.EntityType, err)
	}

	for _, attr := range structuralAttrs {
		delete(item, attr)
	}

	key := c.schema.Key(v)
	item[AttrPK] = &types.AttributeValueMemberS{Value: key.PK}
	item[AttrSK] = &types.AttributeValueMemberS{Value: key.SK}
	item[AttrEntityType] = &types.AttributeValueMemberS{Value: c.schema.EntityType}

	if c.schema.Indexes != nil {
		for _, ik := range c.schema.Indexes(v) {
			// Index key attributes may not be empty strings
			if ik.PK == "" || ik.SK == "" {
				continue
			}
			pkAttr, skAttr := IndexAttributes(ik.Index)
			item[pkAttr] = &types.AttributeValueMemberS{Value: ik.PK}
			item[skAttr] = &types.AttributeValueMemberS{Value: ik.SK}
		}
	}

	return item, nil
}

// Decode is the strict inverse of Encode. It fails when the discriminator
// does not match or a required payload attribute is missing.
func (c Codec[T]) Decode(item map[string]types.AttributeValue) (T, error) {
	var zero T
	key := itemKey(item)

	if len(item) == 0 {
		return zero, shopstore.NewDecodeError(c.schema.EntityType, key.String(), "empty item")
	}

	et, ok := item[AttrEntityType].(*types.AttributeValueMemberS)
	if !ok || et.Value != c.schema.EntityType {
		got := "<missing>"
		if ok {
			got = et.Value
		}
		return zero, shopstore.NewDecodeError(c.schema.EntityType, key.String(),
			fmt.Sprintf("entity_type mismatch: got %s", got))
	}

	for _, attr := range c.schema.Required {
		v, ok := item[attr]
		if !ok {
			return zero, shopstore.NewDecodeError(c.schema.EntityType, key.String(),
				fmt.Sprintf("missing required attribute %q", attr))
		}
		if _, isNull := v.(*types.AttributeValueMemberNULL); isNull {
			return zero, shopstore.NewDecodeError(c.schema.EntityType, key.String(),
				fmt.Sprintf("required attribute %q is null", attr))
		}
	}

	payload := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		payload[k] = v
	}
	for _, attr := range structuralAttrs {
		delete(payload, attr)
	}

	out := c.schema.New()
	if err := attributevalue.UnmarshalMap(payload, out); err != nil {
		return zero, shopstore.NewDecodeError(c.schema.EntityType, key.String(), err.Error()).WithCause(err)
	}
	return out, nil
}

// guards returns the guard rows owned by v
func (c Codec[T]) guards(v T) []Guard {
	if c.schema.Guards == nil {
		return nil
	}
	var out []Guard
	for _, g := range c.schema.Guards(v) {
		if g.Value != "" {
			out = append(out, g)
		}
	}
	return out
}

// guardItem builds the row that reserves g for owner
func guardItem(g Guard, owner Key, now time.Time) map[string]types.AttributeValue {
	k := g.Key()
	return map[string]types.AttributeValue{
		AttrPK:         &types.AttributeValueMemberS{Value: k.PK},
		AttrSK:         &types.AttributeValueMemberS{Value: k.SK},
		AttrEntityType: &types.AttributeValueMemberS{Value: EntityTypeGuard},
		AttrOwnerPK:    &types.AttributeValueMemberS{Value: owner.PK},
		AttrOwnerSK:    &types.AttributeValueMemberS{Value: owner.SK},
		AttrCreatedAt:  &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
	}
}

// itemKey extracts PK/SK from an item, tolerating absent attributes
func itemKey(item map[string]types.AttributeValue) Key {
	return Key{PK: stringAttr(item, AttrPK), SK: stringAttr(item, AttrSK)}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numberAttr(item map[string]types.AttributeValue, name string) (int64, bool) {
	v, ok := item[name]
	if !ok {
		return 0, false
	}
	var n int64
	if err := attributevalue.Unmarshal(v, &n); err != nil {
		return 0, false
	}
	return n, true
}
