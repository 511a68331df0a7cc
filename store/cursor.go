package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
)

// cursorToken is the JSON body of an opaque pagination cursor. It records
// which index and partition produced it so a cursor cannot be replayed
// against a different query.
type cursorToken struct {
	Index     string            `json:"i,omitempty"`
	Partition string            `json:"p"`
	Key       map[string]string `json:"k"`
}

// cursorAttrs returns the attributes that make up a continuation key
func cursorAttrs(index string) []string {
	attrs := []string{AttrPK, AttrSK}
	if index != "" {
		pk, sk := IndexAttributes(index)
		attrs = append(attrs, pk, sk)
	}
	return attrs
}

// EncodeCursor wraps the continuation key of item as an opaque token
func EncodeCursor(index, partition string, item map[string]types.AttributeValue) (string, error) {
	keyItem := make(map[string]types.AttributeValue)
	for _, attr := range cursorAttrs(index) {
		if v, ok := item[attr]; ok {
			keyItem[attr] = v
		}
	}

	var key map[string]string
	if err := attributevalue.UnmarshalMap(keyItem, &key); err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}

	raw, err := json.Marshal(cursorToken{Index: index, Partition: partition, Key: key})
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor unwraps a token produced by EncodeCursor for the same index
// and partition. An empty token yields a nil start key.
func DecodeCursor(token, index, partition string) (map[string]types.AttributeValue, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, shopstore.NewValidationError("malformed cursor")
	}

	var ct cursorToken
	if err := json.Unmarshal(raw, &ct); err != nil {
		return nil, shopstore.NewValidationError("malformed cursor")
	}
	if ct.Index != index || ct.Partition != partition {
		return nil, shopstore.NewValidationError("cursor does not belong to this query")
	}
	for _, attr := range cursorAttrs(index) {
		if ct.Key[attr] == "" {
			return nil, shopstore.NewValidationError("cursor is missing %s", attr)
		}
	}

	key, err := attributevalue.MarshalMap(ct.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}
	return key, nil
}
