package localddb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

const maxTransactItems = 100

type transactOp struct {
	table  *tableMeta
	pk, sk string
	exprs  *expressions
	rv     types.ReturnValuesOnConditionCheckFailure

	put    map[string]types.AttributeValue
	key    map[string]types.AttributeValue
	delete bool
	check  bool
}

// TransactWriteItems applies up to 100 writes atomically. Every condition is
// evaluated before anything is written; one failure cancels the whole
// transaction with index-aligned cancellation reasons. A ClientRequestToken
// makes the call idempotent for ten minutes.
func (s *Store) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if params == nil || len(params.TransactItems) == 0 {
		return nil, validationError("TransactItems is required")
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, validationError("Member must have length less than or equal to %d", maxTransactItems)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ops := make([]transactOp, len(params.TransactItems))
	seen := make(map[string]bool)
	for i, ti := range params.TransactItems {
		op, err := s.transactOp(ti)
		if err != nil {
			return nil, err
		}
		id := string(itemKey(op.table.Name, op.pk, op.sk))
		if seen[id] {
			return nil, validationError("Transaction request cannot include multiple operations on one item")
		}
		seen[id] = true
		ops[i] = op
	}

	token := aws.ToString(params.ClientRequestToken)
	var fingerprint string
	if token != "" {
		fingerprint = transactFingerprint(params.TransactItems)
		s.expireTokens()
		if prior, ok := s.tokens[token]; ok {
			if prior.fingerprint != fingerprint {
				return nil, &types.IdempotentParameterMismatchException{
					Message: aws.String("The request uses the same client token as a previous, but non-identical request"),
				}
			}
			return &dynamodb.TransactWriteItemsOutput{}, nil
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		olds := make([]map[string]types.AttributeValue, len(ops))
		reasons := make([]types.CancellationReason, len(ops))
		failed := false
		for i, op := range ops {
			old, err := readItem(txn, op.table, op.pk, op.sk)
			if err != nil {
				return err
			}
			olds[i] = old
			reasons[i] = types.CancellationReason{Code: aws.String("None")}

			ok, err := op.exprs.check(old)
			if err != nil {
				return err
			}
			if !ok {
				failed = true
				reasons[i] = types.CancellationReason{
					Code:    aws.String("ConditionalCheckFailed"),
					Message: aws.String("The conditional request failed"),
				}
				if op.rv == types.ReturnValuesOnConditionCheckFailureAllOld && old != nil {
					reasons[i].Item = old
				}
			}
		}
		if failed {
			return cancelled(reasons)
		}

		for i, op := range ops {
			var item map[string]types.AttributeValue
			switch {
			case op.check:
				continue
			case op.delete:
			case op.put != nil:
				item = op.put
			default:
				var err error
				if item, _, err = s.applyUpdate(op.table, op.exprs.update, olds[i], op.key); err != nil {
					return err
				}
			}
			if err := writeItem(txn, op.table, op.pk, op.sk, olds[i], item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if token != "" {
		s.tokens[token] = tokenEntry{fingerprint: fingerprint, at: s.now()}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (s *Store) transactOp(ti types.TransactWriteItem) (transactOp, error) {
	var (
		op    transactOp
		table *string
		in    expressionInput
		err   error
	)

	switch {
	case ti.Put != nil:
		p := ti.Put
		table, op.rv, op.put = p.TableName, p.ReturnValuesOnConditionCheckFailure, copyItem(p.Item)
		in = expressionInput{names: p.ExpressionAttributeNames, values: p.ExpressionAttributeValues, condition: p.ConditionExpression}
	case ti.Update != nil:
		u := ti.Update
		table, op.rv, op.key = u.TableName, u.ReturnValuesOnConditionCheckFailure, u.Key
		in = expressionInput{names: u.ExpressionAttributeNames, values: u.ExpressionAttributeValues, condition: u.ConditionExpression, update: u.UpdateExpression}
		if u.UpdateExpression == nil {
			return op, validationError("UpdateExpression is required")
		}
	case ti.Delete != nil:
		d := ti.Delete
		table, op.rv, op.key, op.delete = d.TableName, d.ReturnValuesOnConditionCheckFailure, d.Key, true
		in = expressionInput{names: d.ExpressionAttributeNames, values: d.ExpressionAttributeValues, condition: d.ConditionExpression}
	case ti.ConditionCheck != nil:
		c := ti.ConditionCheck
		table, op.rv, op.key, op.check = c.TableName, c.ReturnValuesOnConditionCheckFailure, c.Key, true
		in = expressionInput{names: c.ExpressionAttributeNames, values: c.ExpressionAttributeValues, condition: c.ConditionExpression}
		if c.ConditionExpression == nil {
			return op, validationError("ConditionCheck requires a ConditionExpression")
		}
	default:
		return op, validationError("a TransactWriteItem needs exactly one action")
	}

	if op.table, err = s.tableLocked(aws.ToString(table)); err != nil {
		return op, err
	}
	if op.put != nil {
		if op.pk, op.sk, err = op.table.keyOf(op.put); err == nil {
			err = op.table.validateItem(op.put)
		}
	} else {
		op.pk, op.sk, err = op.table.keyOnly(op.key)
	}
	if err != nil {
		return op, err
	}
	op.exprs, err = compile(in)
	return op, err
}

func cancelled(reasons []types.CancellationReason) error {
	codes := make([]string, len(reasons))
	for i, r := range reasons {
		codes[i] = aws.ToString(r.Code)
	}
	return &types.TransactionCanceledException{
		Message:             aws.String(fmt.Sprintf("Transaction cancelled, please refer cancellation reasons for specific reasons [%s]", strings.Join(codes, ", "))),
		CancellationReasons: reasons,
	}
}

func (s *Store) expireTokens() {
	cutoff := s.now().Add(-tokenWindow)
	for token, e := range s.tokens {
		if e.at.Before(cutoff) {
			delete(s.tokens, token)
		}
	}
}

// transactFingerprint digests a request so token reuse with different
// parameters can be told apart from a retry
func transactFingerprint(items []types.TransactWriteItem) string {
	h := sha256.New()
	writeAttrs := func(m map[string]types.AttributeValue) {
		data, _ := encodeItem(m)
		h.Write(data)
		h.Write([]byte{sep})
	}
	writeNames := func(m map[string]string) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%s;", k, m[k])
		}
		h.Write([]byte{sep})
	}
	writeStr := func(parts ...*string) {
		for _, p := range parts {
			h.Write([]byte(aws.ToString(p)))
			h.Write([]byte{sep})
		}
	}

	for _, ti := range items {
		switch {
		case ti.Put != nil:
			h.Write([]byte("put"))
			writeStr(ti.Put.TableName, ti.Put.ConditionExpression)
			writeAttrs(ti.Put.Item)
			writeNames(ti.Put.ExpressionAttributeNames)
			writeAttrs(ti.Put.ExpressionAttributeValues)
		case ti.Update != nil:
			h.Write([]byte("update"))
			writeStr(ti.Update.TableName, ti.Update.ConditionExpression, ti.Update.UpdateExpression)
			writeAttrs(ti.Update.Key)
			writeNames(ti.Update.ExpressionAttributeNames)
			writeAttrs(ti.Update.ExpressionAttributeValues)
		case ti.Delete != nil:
			h.Write([]byte("delete"))
			writeStr(ti.Delete.TableName, ti.Delete.ConditionExpression)
			writeAttrs(ti.Delete.Key)
			writeNames(ti.Delete.ExpressionAttributeNames)
			writeAttrs(ti.Delete.ExpressionAttributeValues)
		case ti.ConditionCheck != nil:
			h.Write([]byte("check"))
			writeStr(ti.ConditionCheck.TableName, ti.ConditionCheck.ConditionExpression)
			writeAttrs(ti.ConditionCheck.Key)
			writeNames(ti.ConditionCheck.ExpressionAttributeNames)
			writeAttrs(ti.ConditionCheck.ExpressionAttributeValues)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
