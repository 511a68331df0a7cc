package localddb

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Badger key layout. Every component is escaped so the 0x00 separator keeps
// byte order equal to DynamoDB string order.
//
//	table meta:  t 0x00 <table>
//	item:        i 0x00 <table> 0x00 <pk> 0x00 <sk>
//	index entry: g 0x00 <table> 0x00 <index> 0x00 <gpk> 0x00 <gsk> 0x00 <pk> 0x00 <sk>
const sep byte = 0x00

func escape(s string) []byte {
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0x00:
			buf.Write([]byte{0x01, 0x01})
		case 0x01:
			buf.Write([]byte{0x01, 0x02})
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

func joinKey(kind byte, parts ...string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(kind)
	for _, p := range parts {
		buf.WriteByte(sep)
		buf.Write(escape(p))
	}
	return buf.Bytes()
}

func tableKey(table string) []byte {
	return joinKey('t', table)
}

func itemKey(table, pk, sk string) []byte {
	return joinKey('i', table, pk, sk)
}

// partitionPrefix covers every item key of one partition
func partitionPrefix(table, pk string) []byte {
	return append(joinKey('i', table, pk), sep)
}

func tablePrefix(table string) []byte {
	return append(joinKey('i', table), sep)
}

func indexKey(table, index, gpk, gsk, pk, sk string) []byte {
	return joinKey('g', table, index, gpk, gsk, pk, sk)
}

func indexPrefix(table, index, gpk string) []byte {
	return append(joinKey('g', table, index, gpk), sep)
}

// Values are stored as type-tagged JSON

type wireValue struct {
	T    string               `json:"t"`
	S    string               `json:"s,omitempty"`
	B    []byte               `json:"b,omitempty"`
	Bool bool                 `json:"bool,omitempty"`
	Set  []string             `json:"set,omitempty"`
	BSet [][]byte             `json:"bset,omitempty"`
	M    map[string]wireValue `json:"m,omitempty"`
	L    []wireValue          `json:"l,omitempty"`
}

func encodeItem(item map[string]types.AttributeValue) ([]byte, error) {
	w := make(map[string]wireValue, len(item))
	for k, v := range item {
		wv, err := toWire(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		w[k] = wv
	}
	return json.Marshal(w)
}

func decodeItem(data []byte) (map[string]types.AttributeValue, error) {
	var w map[string]wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	item := make(map[string]types.AttributeValue, len(w))
	for k, v := range w {
		av, err := fromWire(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		item[k] = av
	}
	return item, nil
}

func toWire(av types.AttributeValue) (wireValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return wireValue{T: "S", S: v.Value}, nil
	case *types.AttributeValueMemberN:
		return wireValue{T: "N", S: v.Value}, nil
	case *types.AttributeValueMemberB:
		return wireValue{T: "B", B: v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return wireValue{T: "BOOL", Bool: v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return wireValue{T: "NULL", Bool: v.Value}, nil
	case *types.AttributeValueMemberSS:
		return wireValue{T: "SS", Set: v.Value}, nil
	case *types.AttributeValueMemberNS:
		return wireValue{T: "NS", Set: v.Value}, nil
	case *types.AttributeValueMemberBS:
		return wireValue{T: "BS", BSet: v.Value}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]wireValue, len(v.Value))
		for k, e := range v.Value {
			w, err := toWire(e)
			if err != nil {
				return wireValue{}, err
			}
			m[k] = w
		}
		return wireValue{T: "M", M: m}, nil
	case *types.AttributeValueMemberL:
		l := make([]wireValue, len(v.Value))
		for i, e := range v.Value {
			w, err := toWire(e)
			if err != nil {
				return wireValue{}, err
			}
			l[i] = w
		}
		return wireValue{T: "L", L: l}, nil
	}
	return wireValue{}, fmt.Errorf("unsupported attribute value %T", av)
}

func fromWire(w wireValue) (types.AttributeValue, error) {
	switch w.T {
	case "S":
		return &types.AttributeValueMemberS{Value: w.S}, nil
	case "N":
		return &types.AttributeValueMemberN{Value: w.S}, nil
	case "B":
		return &types.AttributeValueMemberB{Value: w.B}, nil
	case "BOOL":
		return &types.AttributeValueMemberBOOL{Value: w.Bool}, nil
	case "NULL":
		return &types.AttributeValueMemberNULL{Value: w.Bool}, nil
	case "SS":
		return &types.AttributeValueMemberSS{Value: w.Set}, nil
	case "NS":
		return &types.AttributeValueMemberNS{Value: w.Set}, nil
	case "BS":
		return &types.AttributeValueMemberBS{Value: w.BSet}, nil
	case "M":
		m := make(map[string]types.AttributeValue, len(w.M))
		for k, e := range w.M {
			av, err := fromWire(e)
			if err != nil {
				return nil, err
			}
			m[k] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case "L":
		l := make([]types.AttributeValue, len(w.L))
		for i, e := range w.L {
			av, err := fromWire(e)
			if err != nil {
				return nil, err
			}
			l[i] = av
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	}
	return nil, fmt.Errorf("unknown value type %q", w.T)
}

// copyItem is a shallow copy; attribute values are never mutated in place
func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
