package localddb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// expressions holds the parsed expressions of one request
type expressions struct {
	condition condition
	keyCond   condition
	filter    condition
	update    *update
}

type expressionInput struct {
	names     map[string]string
	values    map[string]types.AttributeValue
	condition *string
	keyCond   *string
	filter    *string
	update    *string
}

func compile(in expressionInput) (*expressions, error) {
	u := newUsage(in.names, in.values)
	out := &expressions{}
	var err error

	parse := func(src *string, dst *condition) {
		if err != nil || src == nil {
			return
		}
		*dst, err = parseCondition(*src, u)
	}
	parse(in.condition, &out.condition)
	parse(in.keyCond, &out.keyCond)
	parse(in.filter, &out.filter)
	if err == nil && in.update != nil {
		out.update, err = parseUpdate(*in.update, u)
	}
	if err != nil {
		return nil, err
	}
	if err := u.unused(); err != nil {
		return nil, err
	}
	return out, nil
}

// check evaluates the condition expression against item; no condition passes
func (e *expressions) check(item map[string]types.AttributeValue) (bool, error) {
	if e.condition == nil {
		return true, nil
	}
	if item == nil {
		item = map[string]types.AttributeValue{}
	}
	return evalCondition(e.condition, item)
}

func conditionFailed(old map[string]types.AttributeValue, rv types.ReturnValuesOnConditionCheckFailure) error {
	err := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	if rv == types.ReturnValuesOnConditionCheckFailureAllOld && old != nil {
		err.Item = old
	}
	return err
}

// keyOf extracts the primary key of a full item or a key map
func (t *tableMeta) keyOf(item map[string]types.AttributeValue) (string, string, error) {
	get := func(attr string) (string, error) {
		v, ok := item[attr].(*types.AttributeValueMemberS)
		if !ok {
			return "", validationError("One of the required keys was not given a value: %s", attr)
		}
		if v.Value == "" {
			return "", validationError("One or more parameter values are not valid. The AttributeValue for a key attribute cannot contain an empty string value. Key: %s", attr)
		}
		return v.Value, nil
	}
	pk, err := get(t.PartKey)
	if err != nil {
		return "", "", err
	}
	if t.SortKey == "" {
		return pk, "", nil
	}
	sk, err := get(t.SortKey)
	return pk, sk, err
}

// keyOnly validates a Key parameter, which may hold nothing but key attributes
func (t *tableMeta) keyOnly(key map[string]types.AttributeValue) (string, string, error) {
	if len(key) != len(t.keyAttrs()) {
		return "", "", validationError("The provided key element does not match the schema")
	}
	return t.keyOf(key)
}

func (t *tableMeta) validateItem(item map[string]types.AttributeValue) error {
	for name, g := range t.Indexes {
		for _, attr := range []string{g.PartKey, g.SortKey} {
			if attr == "" {
				continue
			}
			v, ok := item[attr]
			if !ok {
				continue
			}
			s, isS := v.(*types.AttributeValueMemberS)
			if !isS {
				return validationError("One or more parameter values were invalid: Type mismatch for Index Key %s Expected: S Index: %s", attr, name)
			}
			if s.Value == "" {
				return validationError("One or more parameter values are not valid. A value specified for a secondary index key is not supported. The AttributeValue for a key attribute cannot contain an empty string value. IndexName: %s, IndexKey: %s", name, attr)
			}
		}
	}
	return nil
}

func (t *tableMeta) project(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	key := make(map[string]types.AttributeValue, 2)
	for _, k := range t.keyAttrs() {
		key[k] = item[k]
	}
	return key
}

func readItem(txn *badger.Txn, t *tableMeta, pk, sk string) (map[string]types.AttributeValue, error) {
	it, err := txn.Get(itemKey(t.Name, pk, sk))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var item map[string]types.AttributeValue
	err = it.Value(func(val []byte) error {
		item, err = decodeItem(val)
		return err
	})
	return item, err
}

// indexEntry is the value of a GSI row: the base table key of the item
type indexEntry struct {
	PK string `json:"pk"`
	SK string `json:"sk"`
}

func (t *tableMeta) indexKeys(item map[string]types.AttributeValue, pk, sk string) [][]byte {
	var keys [][]byte
	for name, g := range t.Indexes {
		gpk, ok := item[g.PartKey].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		gsk := ""
		if g.SortKey != "" {
			v, ok := item[g.SortKey].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			gsk = v.Value
		}
		keys = append(keys, indexKey(t.Name, name, gpk.Value, gsk, pk, sk))
	}
	return keys
}

// writeItem replaces old with item, or deletes old when item is nil, keeping
// index rows in step
func writeItem(txn *badger.Txn, t *tableMeta, pk, sk string, old, item map[string]types.AttributeValue) error {
	if old != nil {
		for _, k := range t.indexKeys(old, pk, sk) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
	}

	key := itemKey(t.Name, pk, sk)
	if item == nil {
		if old == nil {
			return nil
		}
		return txn.Delete(key)
	}

	data, err := encodeItem(item)
	if err != nil {
		return err
	}
	if err := txn.Set(key, data); err != nil {
		return err
	}

	entry, err := json.Marshal(indexEntry{PK: pk, SK: sk})
	if err != nil {
		return err
	}
	for _, k := range t.indexKeys(item, pk, sk) {
		if err := txn.Set(k, entry); err != nil {
			return err
		}
	}
	return nil
}

// PutItem writes a whole item
func (s *Store) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if params == nil {
		return nil, validationError("params is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tableLocked(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	pk, sk, err := t.keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	if err := t.validateItem(params.Item); err != nil {
		return nil, err
	}
	exprs, err := compile(expressionInput{
		names:     params.ExpressionAttributeNames,
		values:    params.ExpressionAttributeValues,
		condition: params.ConditionExpression,
	})
	if err != nil {
		return nil, err
	}

	var old map[string]types.AttributeValue
	err = s.db.Update(func(txn *badger.Txn) error {
		if old, err = readItem(txn, t, pk, sk); err != nil {
			return err
		}
		ok, err := exprs.check(old)
		if err != nil {
			return err
		}
		if !ok {
			return conditionFailed(old, params.ReturnValuesOnConditionCheckFailure)
		}
		return writeItem(txn, t, pk, sk, old, copyItem(params.Item))
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.PutItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

// GetItem reads one item. Reads are always strongly consistent.
func (s *Store) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if params == nil {
		return nil, validationError("params is required")
	}
	t, err := s.table(params.TableName)
	if err != nil {
		return nil, err
	}
	pk, sk, err := t.keyOnly(params.Key)
	if err != nil {
		return nil, err
	}

	var item map[string]types.AttributeValue
	err = s.db.View(func(txn *badger.Txn) error {
		item, err = readItem(txn, t, pk, sk)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// DeleteItem removes one item
func (s *Store) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if params == nil {
		return nil, validationError("params is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tableLocked(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	pk, sk, err := t.keyOnly(params.Key)
	if err != nil {
		return nil, err
	}
	exprs, err := compile(expressionInput{
		names:     params.ExpressionAttributeNames,
		values:    params.ExpressionAttributeValues,
		condition: params.ConditionExpression,
	})
	if err != nil {
		return nil, err
	}

	var old map[string]types.AttributeValue
	err = s.db.Update(func(txn *badger.Txn) error {
		if old, err = readItem(txn, t, pk, sk); err != nil {
			return err
		}
		ok, err := exprs.check(old)
		if err != nil {
			return err
		}
		if !ok {
			return conditionFailed(old, params.ReturnValuesOnConditionCheckFailure)
		}
		return writeItem(txn, t, pk, sk, old, nil)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.DeleteItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

// UpdateItem edits one item, creating it when it does not exist
func (s *Store) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if params == nil {
		return nil, validationError("params is required")
	}
	if params.UpdateExpression == nil {
		return nil, validationError("UpdateExpression is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tableLocked(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	pk, sk, err := t.keyOnly(params.Key)
	if err != nil {
		return nil, err
	}
	exprs, err := compile(expressionInput{
		names:     params.ExpressionAttributeNames,
		values:    params.ExpressionAttributeValues,
		condition: params.ConditionExpression,
		update:    params.UpdateExpression,
	})
	if err != nil {
		return nil, err
	}

	var old, item map[string]types.AttributeValue
	var touched []string
	err = s.db.Update(func(txn *badger.Txn) error {
		if old, err = readItem(txn, t, pk, sk); err != nil {
			return err
		}
		ok, err := exprs.check(old)
		if err != nil {
			return err
		}
		if !ok {
			return conditionFailed(old, params.ReturnValuesOnConditionCheckFailure)
		}
		if item, touched, err = s.applyUpdate(t, exprs.update, old, params.Key); err != nil {
			return err
		}
		return writeItem(txn, t, pk, sk, old, item)
	})
	if err != nil {
		return nil, err
	}

	return &dynamodb.UpdateItemOutput{Attributes: returnValues(params.ReturnValues, old, item, touched)}, nil
}

func (s *Store) applyUpdate(t *tableMeta, u *update, old, key map[string]types.AttributeValue) (map[string]types.AttributeValue, []string, error) {
	base := old
	if base == nil {
		base = copyItem(key)
	}
	item, touched, err := u.apply(base, t.keyAttrs())
	if err != nil {
		return nil, nil, err
	}
	if err := t.validateItem(item); err != nil {
		return nil, nil, err
	}
	return item, touched, nil
}

func returnValues(rv types.ReturnValue, old, item map[string]types.AttributeValue, touched []string) map[string]types.AttributeValue {
	pick := func(src map[string]types.AttributeValue) map[string]types.AttributeValue {
		if src == nil {
			return nil
		}
		out := make(map[string]types.AttributeValue)
		for _, name := range touched {
			if v, ok := src[name]; ok {
				out[name] = v
			}
		}
		return out
	}
	switch rv {
	case types.ReturnValueAllNew:
		return item
	case types.ReturnValueAllOld:
		return old
	case types.ReturnValueUpdatedNew:
		return pick(item)
	case types.ReturnValueUpdatedOld:
		return pick(old)
	}
	return nil
}
