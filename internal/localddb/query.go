package localddb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// Query reads one partition of the table or of a global secondary index in
// sort key order. Limit bounds the items evaluated, before the filter runs.
func (s *Store) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if params == nil || params.KeyConditionExpression == nil {
		return nil, validationError("KeyConditionExpression is required")
	}
	t, err := s.table(params.TableName)
	if err != nil {
		return nil, err
	}

	index := aws.ToString(params.IndexName)
	partAttr, sortAttr := t.PartKey, t.SortKey
	if index != "" {
		g, ok := t.Indexes[index]
		if !ok {
			return nil, validationError("The table does not have the specified index: %s", index)
		}
		if aws.ToBool(params.ConsistentRead) {
			return nil, validationError("Consistent reads are not supported on global secondary indexes")
		}
		partAttr, sortAttr = g.PartKey, g.SortKey
	}

	exprs, err := compile(expressionInput{
		names:   params.ExpressionAttributeNames,
		values:  params.ExpressionAttributeValues,
		keyCond: params.KeyConditionExpression,
		filter:  params.FilterExpression,
	})
	if err != nil {
		return nil, err
	}
	partition, ok := partitionValue(exprs.keyCond, partAttr)
	if !ok {
		return nil, validationError("Query condition missed key schema element: %s", partAttr)
	}

	var prefix, start []byte
	if index == "" {
		prefix = partitionPrefix(t.Name, partition)
	} else {
		prefix = indexPrefix(t.Name, index, partition)
	}
	if esk := params.ExclusiveStartKey; esk != nil {
		pk, sk, err := t.keyOf(esk)
		if err != nil {
			return nil, err
		}
		if index == "" {
			start = itemKey(t.Name, pk, sk)
		} else {
			gsk := ""
			if v, ok := esk[sortAttr].(*types.AttributeValueMemberS); ok {
				gsk = v.Value
			}
			start = indexKey(t.Name, index, partition, gsk, pk, sk)
		}
	}

	limit := int(aws.ToInt32(params.Limit))
	forward := params.ScanIndexForward == nil || *params.ScanIndexForward

	out := &dynamodb.QueryOutput{}
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = !forward
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		switch {
		case start != nil:
			it.Seek(start)
			if it.Valid() && bytes.Equal(it.Item().Key(), start) {
				it.Next()
			}
		case forward:
			it.Seek(prefix)
		default:
			it.Seek(append(append([]byte(nil), prefix...), 0xFF))
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			item, err := s.queryItem(txn, t, index, it.Item())
			if err != nil {
				return err
			}
			if item == nil {
				continue
			}

			match, err := evalCondition(exprs.keyCond, item)
			if err != nil {
				return err
			}
			if !match {
				continue
			}

			out.ScannedCount++
			keep := true
			if exprs.filter != nil {
				if keep, err = evalCondition(exprs.filter, item); err != nil {
					return err
				}
			}
			if keep {
				out.Items = append(out.Items, item)
				out.Count++
			}

			if limit > 0 && int(out.ScannedCount) >= limit {
				last := t.project(item)
				if index != "" {
					last[partAttr] = item[partAttr]
					if sortAttr != "" {
						last[sortAttr] = item[sortAttr]
					}
				}
				out.LastEvaluatedKey = last
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return out, nil
}

func (s *Store) queryItem(txn *badger.Txn, t *tableMeta, index string, it *badger.Item) (map[string]types.AttributeValue, error) {
	if index == "" {
		var item map[string]types.AttributeValue
		err := it.Value(func(val []byte) error {
			var err error
			item, err = decodeItem(val)
			return err
		})
		return item, err
	}

	var entry indexEntry
	if err := it.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
		return nil, err
	}
	return readItem(txn, t, entry.PK, entry.SK)
}

// partitionValue finds the "attr = :value" clause of a key condition
func partitionValue(c condition, attr string) (string, bool) {
	switch c := c.(type) {
	case andCond:
		if v, ok := partitionValue(c.left, attr); ok {
			return v, true
		}
		return partitionValue(c.right, attr)
	case compareCond:
		if c.op != tokEQ {
			return "", false
		}
		p, pok := c.left.(pathOperand)
		v, vok := c.right.(valueOperand)
		if !pok || !vok {
			p, pok = c.right.(pathOperand)
			v, vok = c.left.(valueOperand)
		}
		if !pok || !vok || len(p.path) != 1 || p.path[0].name != attr {
			return "", false
		}
		s, ok := v.value.(*types.AttributeValueMemberS)
		if !ok {
			return "", false
		}
		return s.Value, true
	}
	return "", false
}
