package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/sicko7947/shopstore"
)

// Repository is the CRUD and query façade for one entity type. It is the
// only writer of its rows, which keeps index projections in step with the
// payload fields they derive from.
type Repository[T shopstore.Entity] struct {
	db     *DynamoDBStore
	codec  Codec[T]
	logger zerolog.Logger
}

// NewRepository creates a repository for schema on db
func NewRepository[T shopstore.Entity](db *DynamoDBStore, schema Schema[T]) *Repository[T] {
	return &Repository[T]{
		db:     db,
		codec:  NewCodec(schema),
		logger: shopstore.RepositoryLogger(db.logger, schema.EntityType),
	}
}

// Codec returns the entity codec
func (r *Repository[T]) Codec() Codec[T] {
	return r.codec
}

func (r *Repository[T]) entityType() string {
	return r.codec.schema.EntityType
}

// ListQuery selects the index partition and sort-key range for List
type ListQuery struct {
	// Index is empty for the base table
	Index     string
	Partition string

	// At most one of SKPrefix and SKBetween applies
	SKPrefix  string
	SKBetween *[2]string

	Descending     bool
	IncludeDeleted bool
	Filter         *expression.ConditionBuilder
}

// Create writes v under the condition that its key is unused. Guarded
// unique values are reserved in the same transaction. parents are rows that
// must exist and be active for the create to succeed.
func (r *Repository[T]) Create(ctx context.Context, v T, parents ...Key) (T, error) {
	var zero T
	now := r.db.now()

	meta := v.Meta()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	meta.DeletedAt = nil
	meta.Version = 1

	key := r.codec.schema.Key(v)
	guards := r.codec.guards(v)

	if err := r.precheckUnique(ctx, key, guards); err != nil {
		return zero, err
	}

	item, err := r.codec.Encode(v)
	if err != nil {
		return zero, err
	}

	if len(guards) == 0 && len(parents) == 0 {
		if err := r.putNew(ctx, key, item); err != nil {
			return zero, err
		}
		shopstore.LogEntityCreated(r.logger, r.entityType(), key.PK, key.SK)
		return v, nil
	}

	put, err := r.db.putIfAbsent(item)
	if err != nil {
		return zero, err
	}
	tx := []types.TransactWriteItem{put}
	for _, g := range guards {
		gp, err := r.db.putIfAbsent(guardItem(g, key, now))
		if err != nil {
			return zero, err
		}
		tx = append(tx, gp)
	}
	for _, p := range parents {
		cc, err := r.db.checkActive(p)
		if err != nil {
			return zero, err
		}
		tx = append(tx, cc)
	}

	if err := r.db.transact(ctx, tx, ""); err != nil {
		return zero, r.createCancelled(err, key, guards, parents)
	}

	shopstore.LogEntityCreated(r.logger, r.entityType(), key.PK, key.SK)
	return v, nil
}

func (r *Repository[T]) putNew(ctx context.Context, key Key, item map[string]types.AttributeValue) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(AttrPK))).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build condition: %w", err)
	}

	_, err = r.db.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.db.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if _, ok := ConditionFailedItem(err); ok {
			return shopstore.NewConflictError(r.entityType(), key.String(), "already exists").WithCause(err)
		}
		return classify(err, "create "+r.entityType(), r.entityType(), key)
	}
	return nil
}

// createCancelled maps the reasons of a cancelled create transaction. The
// layout is [entity, guards..., parents...].
func (r *Repository[T]) createCancelled(err error, key Key, guards []Guard, parents []Key) error {
	reasons, ok := CancellationReasons(err)
	if !ok || len(reasons) != 1+len(guards)+len(parents) {
		return classify(err, "create "+r.entityType(), r.entityType(), key)
	}

	for i, p := range parents {
		if reasonFailed(reasons[1+len(guards)+i]) {
			return shopstore.NewNotFoundError("parent", p.String()).WithCause(err)
		}
	}
	if reasonFailed(reasons[0]) {
		return shopstore.NewConflictError(r.entityType(), key.String(), "already exists").WithCause(err)
	}
	for i, g := range guards {
		if reasonFailed(reasons[1+i]) {
			return shopstore.NewConflictError(r.entityType(), key.String(),
				fmt.Sprintf("%s %q is already taken", g.Field, g.Value)).
				WithDetails(map[string]interface{}{"field": g.Field, "value": g.Value}).
				WithCause(err)
		}
	}
	return classify(err, "create "+r.entityType(), r.entityType(), key)
}

// precheckUnique is the advisory look-before-write on the unique index. The
// guard rows written with the entity are what actually enforce uniqueness.
func (r *Repository[T]) precheckUnique(ctx context.Context, owner Key, guards []Guard) error {
	for _, g := range guards {
		item, err := r.queryFirst(ctx, IndexUnique, g.IndexPartition())
		if err != nil {
			return err
		}
		if item != nil && itemKey(item) != owner {
			return shopstore.NewConflictError(r.entityType(), owner.String(),
				fmt.Sprintf("%s %q is already taken", g.Field, g.Value)).
				WithDetails(map[string]interface{}{"field": g.Field, "value": g.Value})
		}
	}
	return nil
}

// Get is a strongly consistent point read
func (r *Repository[T]) Get(ctx context.Context, key Key, includeDeleted bool) (T, error) {
	var zero T
	item, err := r.db.getItem(ctx, key, true)
	if err != nil {
		return zero, classify(err, "get "+r.entityType(), r.entityType(), key)
	}
	if item == nil {
		return zero, shopstore.NewNotFoundError(r.entityType(), key.String())
	}
	if IsDeleted(item) && !includeDeleted {
		return zero, shopstore.NewNotFoundError(r.entityType(), key.String())
	}
	return r.codec.Decode(item)
}

// FindUnique looks a guarded value up on the unique index. The read is
// eventually consistent.
func (r *Repository[T]) FindUnique(ctx context.Context, field, value string) (T, error) {
	var zero T
	partition := Guard{Field: field, Value: value}.IndexPartition()

	item, err := r.queryFirst(ctx, IndexUnique, partition)
	if err != nil {
		return zero, err
	}
	if item == nil || IsDeleted(item) {
		return zero, shopstore.NewNotFoundError(r.entityType(), partition)
	}
	return r.codec.Decode(item)
}

func (r *Repository[T]) queryFirst(ctx context.Context, index, partition string) (map[string]types.AttributeValue, error) {
	pkAttr, _ := IndexAttributes(index)
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(pkAttr).Equal(expression.Value(partition))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	result, err := r.db.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.db.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, classify(err, "query "+index, r.entityType(), Key{PK: partition})
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	return result.Items[0], nil
}

// Children returns every row under parentPK whose SK starts with prefix,
// ordered by SK
func (r *Repository[T]) Children(ctx context.Context, parentPK, prefix string, includeDeleted bool) ([]T, error) {
	items, err := r.db.queryAll(ctx, parentPK, prefix)
	if err != nil {
		return nil, classify(err, "query children", r.entityType(), Key{PK: parentPK, SK: prefix})
	}

	out := make([]T, 0, len(items))
	for _, item := range items {
		if IsDeleted(item) && !includeDeleted {
			continue
		}
		v, err := r.codec.Decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// List returns one page of q. Soft-deleted rows are filtered by the store;
// pages are refilled until the limit is reached or the partition is
// exhausted. The cursor is built from the last returned row and is only
// set when at least one more matching row exists, so the last page never
// hands out a cursor to an empty page.
func (r *Repository[T]) List(ctx context.Context, q ListQuery, page shopstore.PageRequest) (shopstore.Page[T], error) {
	out := shopstore.Page[T]{Items: []T{}}
	limit := r.db.config.PageLimit(page.Limit)

	startKey, err := DecodeCursor(page.Cursor, q.Index, q.Partition)
	if err != nil {
		return out, err
	}

	// one row past the page answers whether a next page exists
	input, err := r.buildQuery(q, limit+1)
	if err != nil {
		return out, err
	}
	input.ExclusiveStartKey = startKey

	for {
		result, err := r.db.client.Query(ctx, input)
		if err != nil {
			return out, classify(err, "list "+r.entityType(), r.entityType(), Key{PK: q.Partition})
		}

		for i, item := range result.Items {
			v, err := r.codec.Decode(item)
			if err != nil {
				return out, err
			}
			out.Items = append(out.Items, v)

			if len(out.Items) == limit {
				more := i < len(result.Items)-1
				if !more && result.LastEvaluatedKey != nil {
					more, err = r.hasMore(ctx, input, q.Partition, result.LastEvaluatedKey)
					if err != nil {
						return out, err
					}
				}
				if more {
					out.NextCursor, err = EncodeCursor(q.Index, q.Partition, item)
					if err != nil {
						return out, err
					}
				}
				return out, nil
			}
		}

		if result.LastEvaluatedKey == nil {
			return out, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// hasMore reports whether the query continuing at startKey yields a row
// that survives the filter
func (r *Repository[T]) hasMore(ctx context.Context, input *dynamodb.QueryInput, partition string, startKey map[string]types.AttributeValue) (bool, error) {
	peek := *input
	peek.ExclusiveStartKey = startKey
	for {
		result, err := r.db.client.Query(ctx, &peek)
		if err != nil {
			return false, classify(err, "list "+r.entityType(), r.entityType(), Key{PK: partition})
		}
		if len(result.Items) > 0 {
			return true, nil
		}
		if result.LastEvaluatedKey == nil {
			return false, nil
		}
		peek.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// ListAll drains every page of q
func (r *Repository[T]) ListAll(ctx context.Context, q ListQuery) ([]T, error) {
	var all []T
	page := shopstore.PageRequest{Limit: r.db.config.MaxPageSize}
	for {
		p, err := r.List(ctx, q, page)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Items...)
		if p.NextCursor == "" {
			return all, nil
		}
		page.Cursor = p.NextCursor
	}
}

func (r *Repository[T]) buildQuery(q ListQuery, limit int) (*dynamodb.QueryInput, error) {
	pkAttr, skAttr := AttrPK, AttrSK
	if q.Index != "" {
		pkAttr, skAttr = IndexAttributes(q.Index)
	}

	kc := expression.Key(pkAttr).Equal(expression.Value(q.Partition))
	switch {
	case q.SKBetween != nil:
		kc = kc.And(expression.Key(skAttr).Between(expression.Value(q.SKBetween[0]), expression.Value(q.SKBetween[1])))
	case q.SKPrefix != "":
		kc = kc.And(expression.Key(skAttr).BeginsWith(q.SKPrefix))
	}

	builder := expression.NewBuilder().WithKeyCondition(kc)

	var filter *expression.ConditionBuilder
	if !q.IncludeDeleted {
		f := activeFilter()
		filter = &f
	}
	if q.Filter != nil {
		if filter == nil {
			filter = q.Filter
		} else {
			f := filter.And(*q.Filter)
			filter = &f
		}
	}
	if filter != nil {
		builder = builder.WithFilter(*filter)
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.db.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!q.Descending),
		Limit:                     aws.Int32(int32(limit)),
	}
	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	} else {
		input.ConsistentRead = aws.Bool(true)
	}
	return input, nil
}

// Update reads the current row, applies mutate and writes the result in a
// single conditional write. Every index projection is recomputed from the
// mutated entity, so changing a field that feeds an index rewrites the
// index attributes in that same write. The write is conditioned on the row
// still existing, not being soft-deleted and carrying the version that was
// read. Changed unique values swap their guard rows in the same transaction.
func (r *Repository[T]) Update(ctx context.Context, key Key, mutate func(T) error) (T, error) {
	var zero T

	oldItem, err := r.db.getItem(ctx, key, true)
	if err != nil {
		return zero, classify(err, "get "+r.entityType(), r.entityType(), key)
	}
	if oldItem == nil || IsDeleted(oldItem) {
		return zero, shopstore.NewNotFoundError(r.entityType(), key.String())
	}

	v, err := r.codec.Decode(oldItem)
	if err != nil {
		return zero, err
	}

	oldGuards := r.codec.guards(v)
	meta := v.Meta()
	expected := meta.Version
	createdAt := meta.CreatedAt

	if err := mutate(v); err != nil {
		return zero, err
	}

	if r.codec.schema.Key(v) != key {
		return zero, shopstore.NewValidationError("key fields of %s are immutable", r.entityType())
	}

	now := r.db.now()
	meta = v.Meta()
	meta.CreatedAt = createdAt
	meta.UpdatedAt = now
	meta.DeletedAt = nil
	meta.Version = expected + 1

	newItem, err := r.codec.Encode(v)
	if err != nil {
		return zero, err
	}

	added, removed := diffGuards(oldGuards, r.codec.guards(v))
	if err := r.precheckUnique(ctx, key, added); err != nil {
		return zero, err
	}

	upd := replaceUpdate(oldItem, newItem, expected)

	if len(added) == 0 && len(removed) == 0 {
		_, err = r.db.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                           aws.String(r.db.tableName),
			Key:                                 key.AttributeValues(),
			UpdateExpression:                    aws.String(upd.update),
			ConditionExpression:                 aws.String(upd.condition),
			ExpressionAttributeNames:            upd.names,
			ExpressionAttributeValues:           upd.values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		})
		if err != nil {
			return zero, r.updateFailed(err, key)
		}
		shopstore.LogEntityUpdated(r.logger, r.entityType(), key.PK, key.SK, meta.Version)
		return v, nil
	}

	tx := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                           aws.String(r.db.tableName),
			Key:                                 key.AttributeValues(),
			UpdateExpression:                    aws.String(upd.update),
			ConditionExpression:                 aws.String(upd.condition),
			ExpressionAttributeNames:            upd.names,
			ExpressionAttributeValues:           upd.values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}}
	for _, g := range removed {
		del, err := r.db.deleteItem(g.Key(), false)
		if err != nil {
			return zero, err
		}
		tx = append(tx, del)
	}
	for _, g := range added {
		put, err := r.db.putIfAbsent(guardItem(g, key, now))
		if err != nil {
			return zero, err
		}
		tx = append(tx, put)
	}

	if err := r.db.transact(ctx, tx, ""); err != nil {
		reasons, ok := CancellationReasons(err)
		if !ok || len(reasons) != len(tx) {
			return zero, classify(err, "update "+r.entityType(), r.entityType(), key)
		}
		if reasonFailed(reasons[0]) {
			return zero, r.conditionFailure(reasons[0].Item, key, "was modified concurrently", err)
		}
		for i, g := range added {
			if reasonFailed(reasons[1+len(removed)+i]) {
				return zero, shopstore.NewConflictError(r.entityType(), key.String(),
					fmt.Sprintf("%s %q is already taken", g.Field, g.Value)).
					WithDetails(map[string]interface{}{"field": g.Field, "value": g.Value}).
					WithCause(err)
			}
		}
		return zero, classify(err, "update "+r.entityType(), r.entityType(), key)
	}

	shopstore.LogEntityUpdated(r.logger, r.entityType(), key.PK, key.SK, meta.Version)
	return v, nil
}

func (r *Repository[T]) updateFailed(err error, key Key) error {
	if old, ok := ConditionFailedItem(err); ok {
		return r.conditionFailure(old, key, "was modified concurrently", err)
	}
	return classify(err, "update "+r.entityType(), r.entityType(), key)
}

// conditionFailure tells a missing or deleted row (NOT_FOUND) apart from a
// row in an unexpected state (CONFLICT) using the ALL_OLD image
func (r *Repository[T]) conditionFailure(old map[string]types.AttributeValue, key Key, conflict string, cause error) error {
	if old == nil || IsDeleted(old) {
		return shopstore.NewNotFoundError(r.entityType(), key.String()).WithCause(cause)
	}
	return shopstore.NewConflictError(r.entityType(), key.String(), conflict).WithCause(cause)
}

// SoftDelete sets the deletion marker on an active row
func (r *Repository[T]) SoftDelete(ctx context.Context, key Key) error {
	now := r.db.now().UTC().Format(time.RFC3339Nano)
	update := expression.Set(expression.Name(AttrDeletedAt), expression.Value(now)).
		Set(expression.Name(AttrUpdatedAt), expression.Value(now)).
		Set(expression.Name(AttrVersion), expression.Name(AttrVersion).Plus(expression.Value(1)))
	cond := expression.AttributeExists(expression.Name(AttrPK)).And(activeFilter())

	err := r.lifecycleUpdate(ctx, key, update, cond)
	if err == nil {
		shopstore.LogEntitySoftDeleted(r.logger, r.entityType(), key.PK, key.SK)
		return nil
	}
	if old, ok := ConditionFailedItem(err); ok {
		if old == nil {
			return shopstore.NewNotFoundError(r.entityType(), key.String()).WithCause(err)
		}
		return shopstore.NewConflictError(r.entityType(), key.String(), "already deleted").WithCause(err)
	}
	return classify(err, "soft delete "+r.entityType(), r.entityType(), key)
}

// Restore clears the deletion marker. It fails unless the marker is present.
func (r *Repository[T]) Restore(ctx context.Context, key Key) error {
	now := r.db.now().UTC().Format(time.RFC3339Nano)
	update := expression.Remove(expression.Name(AttrDeletedAt)).
		Set(expression.Name(AttrUpdatedAt), expression.Value(now)).
		Set(expression.Name(AttrVersion), expression.Name(AttrVersion).Plus(expression.Value(1)))
	cond := expression.AttributeExists(expression.Name(AttrPK)).
		And(expression.AttributeExists(expression.Name(AttrDeletedAt)))

	err := r.lifecycleUpdate(ctx, key, update, cond)
	if err == nil {
		shopstore.LogEntityRestored(r.logger, r.entityType(), key.PK, key.SK)
		return nil
	}
	if old, ok := ConditionFailedItem(err); ok {
		if old == nil {
			return shopstore.NewNotFoundError(r.entityType(), key.String()).WithCause(err)
		}
		return shopstore.NewConflictError(r.entityType(), key.String(), "not deleted").WithCause(err)
	}
	return classify(err, "restore "+r.entityType(), r.entityType(), key)
}

func (r *Repository[T]) lifecycleUpdate(ctx context.Context, key Key, update expression.UpdateBuilder, cond expression.ConditionBuilder) error {
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build update expression: %w", err)
	}

	_, err = r.db.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.db.tableName),
		Key:                                 key.AttributeValues(),
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	return err
}

// HardDelete removes the row and releases its guard rows
func (r *Repository[T]) HardDelete(ctx context.Context, key Key) error {
	item, err := r.db.getItem(ctx, key, true)
	if err != nil {
		return classify(err, "get "+r.entityType(), r.entityType(), key)
	}
	if item == nil {
		return shopstore.NewNotFoundError(r.entityType(), key.String())
	}

	v, err := r.codec.Decode(item)
	if err != nil {
		return err
	}
	guards := r.codec.guards(v)

	del, err := r.db.deleteItem(key, true)
	if err != nil {
		return err
	}

	if len(guards) == 0 {
		_, err = r.db.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String(r.db.tableName),
			Key:                       del.Delete.Key,
			ConditionExpression:       del.Delete.ConditionExpression,
			ExpressionAttributeNames:  del.Delete.ExpressionAttributeNames,
			ExpressionAttributeValues: del.Delete.ExpressionAttributeValues,
		})
		if err != nil {
			if _, ok := ConditionFailedItem(err); ok {
				return shopstore.NewNotFoundError(r.entityType(), key.String()).WithCause(err)
			}
			return classify(err, "delete "+r.entityType(), r.entityType(), key)
		}
		shopstore.LogEntityHardDeleted(r.logger, r.entityType(), key.PK, key.SK)
		return nil
	}

	tx := []types.TransactWriteItem{del}
	for _, g := range guards {
		gd, err := r.db.deleteItem(g.Key(), false)
		if err != nil {
			return err
		}
		tx = append(tx, gd)
	}
	if err := r.db.transact(ctx, tx, ""); err != nil {
		if reasons, ok := CancellationReasons(err); ok && len(reasons) > 0 && reasonFailed(reasons[0]) {
			return shopstore.NewNotFoundError(r.entityType(), key.String()).WithCause(err)
		}
		return classify(err, "delete "+r.entityType(), r.entityType(), key)
	}

	shopstore.LogEntityHardDeleted(r.logger, r.entityType(), key.PK, key.SK)
	return nil
}

// Replace-style update expressions

type rawUpdate struct {
	update    string
	condition string
	names     map[string]string
	values    map[string]types.AttributeValue
}

// replaceUpdate builds "SET every new attribute, REMOVE every attribute that
// disappeared" conditioned on existence, not deleted and expected version.
// Attribute names are sorted so the expression is deterministic.
func replaceUpdate(oldItem, newItem map[string]types.AttributeValue, expected int64) rawUpdate {
	u := rawUpdate{
		names:  map[string]string{"#pk": AttrPK, "#del": AttrDeletedAt, "#ver": AttrVersion},
		values: map[string]types.AttributeValue{":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)}},
	}

	var setNames, removeNames []string
	for name := range newItem {
		if name != AttrPK && name != AttrSK {
			setNames = append(setNames, name)
		}
	}
	for name := range oldItem {
		if _, still := newItem[name]; !still && name != AttrPK && name != AttrSK {
			removeNames = append(removeNames, name)
		}
	}
	sort.Strings(setNames)
	sort.Strings(removeNames)

	var set, remove string
	for i, name := range setNames {
		n, v := fmt.Sprintf("#s%d", i), fmt.Sprintf(":s%d", i)
		u.names[n] = name
		u.values[v] = newItem[name]
		if set != "" {
			set += ", "
		}
		set += n + " = " + v
	}
	for i, name := range removeNames {
		n := fmt.Sprintf("#r%d", i)
		u.names[n] = name
		if remove != "" {
			remove += ", "
		}
		remove += n
	}

	u.update = "SET " + set
	if remove != "" {
		u.update += " REMOVE " + remove
	}
	u.condition = "attribute_exists(#pk) AND attribute_not_exists(#del) AND #ver = :expected"
	return u
}

func diffGuards(before, after []Guard) (added, removed []Guard) {
	has := func(list []Guard, g Guard) bool {
		for _, x := range list {
			if x == g {
				return true
			}
		}
		return false
	}
	for _, g := range after {
		if !has(before, g) {
			added = append(added, g)
		}
	}
	for _, g := range before {
		if !has(after, g) {
			removed = append(removed, g)
		}
	}
	return added, removed
}

// TransactUpdate builds the transactional form of Update for a row that was
// read as before. after must keep the key and unique values of before; its
// version and timestamps are set here.
func (r *Repository[T]) TransactUpdate(before, after T) (types.TransactWriteItem, error) {
	key := r.codec.schema.Key(before)
	if r.codec.schema.Key(after) != key {
		return types.TransactWriteItem{}, shopstore.NewValidationError("key fields of %s are immutable", r.entityType())
	}
	if added, removed := diffGuards(r.codec.guards(before), r.codec.guards(after)); len(added)+len(removed) > 0 {
		return types.TransactWriteItem{}, shopstore.NewValidationError("unique fields of %s cannot change in this update", r.entityType())
	}

	oldItem, err := r.codec.Encode(before)
	if err != nil {
		return types.TransactWriteItem{}, err
	}

	prev := before.Meta()
	meta := after.Meta()
	meta.CreatedAt = prev.CreatedAt
	meta.UpdatedAt = r.db.now()
	meta.DeletedAt = nil
	meta.Version = prev.Version + 1

	newItem, err := r.codec.Encode(after)
	if err != nil {
		return types.TransactWriteItem{}, err
	}

	upd := replaceUpdate(oldItem, newItem, prev.Version)
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                           aws.String(r.db.tableName),
			Key:                                 key.AttributeValues(),
			UpdateExpression:                    aws.String(upd.update),
			ConditionExpression:                 aws.String(upd.condition),
			ExpressionAttributeNames:            upd.names,
			ExpressionAttributeValues:           upd.values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, nil
}
