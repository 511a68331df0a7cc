package localddb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

const maxBatchWrite = 25

// BatchWriteItem applies up to 25 puts and deletes. Every request is
// processed, so UnprocessedItems is always empty.
func (s *Store) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if params == nil || len(params.RequestItems) == 0 {
		return nil, validationError("RequestItems is required")
	}
	total := 0
	for _, reqs := range params.RequestItems {
		total += len(reqs)
	}
	if total > maxBatchWrite {
		return nil, validationError("Too many items requested for the BatchWriteItem call")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type write struct {
		table  *tableMeta
		pk, sk string
		item   map[string]types.AttributeValue
	}
	var writes []write
	seen := make(map[string]bool)

	for name, reqs := range params.RequestItems {
		t, err := s.tableLocked(name)
		if err != nil {
			return nil, err
		}
		for _, r := range reqs {
			var w write
			var err error
			switch {
			case r.PutRequest != nil:
				if w.pk, w.sk, err = t.keyOf(r.PutRequest.Item); err == nil {
					err = t.validateItem(r.PutRequest.Item)
				}
				w.item = copyItem(r.PutRequest.Item)
			case r.DeleteRequest != nil:
				w.pk, w.sk, err = t.keyOnly(r.DeleteRequest.Key)
			default:
				err = validationError("a WriteRequest needs a PutRequest or a DeleteRequest")
			}
			if err != nil {
				return nil, err
			}

			id := string(itemKey(name, w.pk, w.sk))
			if seen[id] {
				return nil, validationError("Provided list of item keys contains duplicates")
			}
			seen[id] = true
			w.table = t
			writes = append(writes, w)
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, w := range writes {
			old, err := readItem(txn, w.table, w.pk, w.sk)
			if err != nil {
				return err
			}
			if err := writeItem(txn, w.table, w.pk, w.sk, old, w.item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}, nil
}
