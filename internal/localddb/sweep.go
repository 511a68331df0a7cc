package localddb

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// Expired is an item removed by the TTL sweeper
type Expired struct {
	Table string
	Item  map[string]types.AttributeValue
}

// SweepExpired deletes every item whose TTL attribute holds an epoch second
// at or before now, in tables with TTL enabled. Items without the attribute,
// or with a non-numeric one, never expire.
func (s *Store) SweepExpired(ctx context.Context) ([]Expired, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tables))
	for name, t := range s.tables {
		if t.TTLEnabled && t.TTLAttr != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	cutoff := new(big.Rat).SetInt64(s.now().Unix())
	var swept []Expired
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		t := s.tables[name]

		var expired []map[string]types.AttributeValue
		err := s.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: tablePrefix(t.Name), PrefetchValues: true, PrefetchSize: 100})
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				var item map[string]types.AttributeValue
				if err := it.Item().Value(func(val []byte) error {
					var err error
					item, err = decodeItem(val)
					return err
				}); err != nil {
					return err
				}
				n, ok := item[t.TTLAttr].(*types.AttributeValueMemberN)
				if !ok {
					continue
				}
				at, ok := parseNumber(n.Value)
				if ok && at.Cmp(cutoff) <= 0 {
					expired = append(expired, item)
				}
			}
			return nil
		})
		if err != nil {
			return swept, fmt.Errorf("scan %s for expired items: %w", t.Name, err)
		}

		for _, item := range expired {
			pk, sk, err := t.keyOf(item)
			if err != nil {
				return swept, err
			}
			if err := s.db.Update(func(txn *badger.Txn) error {
				return writeItem(txn, t, pk, sk, item, nil)
			}); err != nil {
				return swept, fmt.Errorf("delete expired item: %w", err)
			}
			swept = append(swept, Expired{Table: t.Name, Item: item})
		}
	}
	return swept, nil
}
