package localddb

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func getPath(item map[string]types.AttributeValue, path docPath) (types.AttributeValue, bool) {
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: item}
	for _, e := range path {
		switch v := cur.(type) {
		case *types.AttributeValueMemberM:
			if e.isIndex {
				return nil, false
			}
			next, ok := v.Value[e.name]
			if !ok {
				return nil, false
			}
			cur = next
		case *types.AttributeValueMemberL:
			if !e.isIndex || e.index >= len(v.Value) {
				return nil, false
			}
			cur = v.Value[e.index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// setPath returns a copy of item with value stored at path. Maps and lists
// along the path are copied rather than mutated.
func setPath(item map[string]types.AttributeValue, path docPath, value types.AttributeValue) (map[string]types.AttributeValue, error) {
	root, err := setIn(&types.AttributeValueMemberM{Value: item}, path, value)
	if err != nil {
		return nil, err
	}
	return root.(*types.AttributeValueMemberM).Value, nil
}

func setIn(cur types.AttributeValue, path docPath, value types.AttributeValue) (types.AttributeValue, error) {
	if len(path) == 0 {
		return value, nil
	}
	e := path[0]
	switch v := cur.(type) {
	case *types.AttributeValueMemberM:
		if e.isIndex {
			return nil, validationError("The document path provided in the update expression is invalid for update")
		}
		child, ok := v.Value[e.name]
		if !ok && len(path) > 1 {
			return nil, validationError("The document path provided in the update expression is invalid for update")
		}
		updated, err := setIn(child, path[1:], value)
		if err != nil {
			return nil, err
		}
		m := copyItem(v.Value)
		if m == nil {
			m = make(map[string]types.AttributeValue)
		}
		m[e.name] = updated
		return &types.AttributeValueMemberM{Value: m}, nil

	case *types.AttributeValueMemberL:
		if !e.isIndex {
			return nil, validationError("The document path provided in the update expression is invalid for update")
		}
		l := append([]types.AttributeValue(nil), v.Value...)
		if e.index >= len(l) {
			if len(path) > 1 {
				return nil, validationError("The document path provided in the update expression is invalid for update")
			}
			return &types.AttributeValueMemberL{Value: append(l, value)}, nil
		}
		updated, err := setIn(l[e.index], path[1:], value)
		if err != nil {
			return nil, err
		}
		l[e.index] = updated
		return &types.AttributeValueMemberL{Value: l}, nil
	}
	return nil, validationError("The document path provided in the update expression is invalid for update")
}

func removePath(item map[string]types.AttributeValue, path docPath) map[string]types.AttributeValue {
	return removeIn(&types.AttributeValueMemberM{Value: item}, path).(*types.AttributeValueMemberM).Value
}

func removeIn(cur types.AttributeValue, path docPath) types.AttributeValue {
	e := path[0]
	switch v := cur.(type) {
	case *types.AttributeValueMemberM:
		child, ok := v.Value[e.name]
		if e.isIndex || !ok {
			return cur
		}
		m := copyItem(v.Value)
		if len(path) == 1 {
			delete(m, e.name)
		} else {
			m[e.name] = removeIn(child, path[1:])
		}
		return &types.AttributeValueMemberM{Value: m}

	case *types.AttributeValueMemberL:
		if !e.isIndex || e.index >= len(v.Value) {
			return cur
		}
		l := append([]types.AttributeValue(nil), v.Value...)
		if len(path) == 1 {
			l = append(l[:e.index], l[e.index+1:]...)
		} else {
			l[e.index] = removeIn(l[e.index], path[1:])
		}
		return &types.AttributeValueMemberL{Value: l}
	}
	return cur
}

func evalCondition(c condition, item map[string]types.AttributeValue) (bool, error) {
	switch c := c.(type) {
	case andCond:
		ok, err := evalCondition(c.left, item)
		if err != nil || !ok {
			return false, err
		}
		return evalCondition(c.right, item)

	case orCond:
		ok, err := evalCondition(c.left, item)
		if err != nil || ok {
			return ok, err
		}
		return evalCondition(c.right, item)

	case notCond:
		ok, err := evalCondition(c.inner, item)
		return !ok, err

	case compareCond:
		l, lok := resolve(c.left, item)
		r, rok := resolve(c.right, item)
		if !lok || !rok {
			return false, nil
		}
		switch c.op {
		case tokEQ:
			return equalValues(l, r), nil
		case tokNE:
			return !equalValues(l, r), nil
		}
		cmp, ok := compareValues(l, r)
		if !ok {
			return false, nil
		}
		switch c.op {
		case tokLT:
			return cmp < 0, nil
		case tokLE:
			return cmp <= 0, nil
		case tokGT:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}

	case betweenCond:
		v, ok := resolve(c.value, item)
		lo, lok := resolve(c.lower, item)
		hi, hok := resolve(c.upper, item)
		if !ok || !lok || !hok {
			return false, nil
		}
		if cmp, ok := compareValues(lo, hi); !ok || cmp > 0 {
			return false, validationError("Invalid KeyConditionExpression: The BETWEEN operator requires upper bound to be greater than or equal to lower bound")
		}
		a, aok := compareValues(v, lo)
		b, bok := compareValues(v, hi)
		return aok && bok && a >= 0 && b <= 0, nil

	case inCond:
		v, ok := resolve(c.value, item)
		if !ok {
			return false, nil
		}
		for _, o := range c.list {
			if e, ok := resolve(o, item); ok && equalValues(v, e) {
				return true, nil
			}
		}
		return false, nil

	case funcCond:
		return evalFunc(c, item)
	}
	return false, validationError("unsupported condition %T", c)
}

func evalFunc(c funcCond, item map[string]types.AttributeValue) (bool, error) {
	switch c.name {
	case "attribute_exists":
		_, ok := getPath(item, c.args[0].(pathOperand).path)
		return ok, nil

	case "attribute_not_exists":
		_, ok := getPath(item, c.args[0].(pathOperand).path)
		return !ok, nil

	case "attribute_type":
		v, ok := resolve(c.args[0], item)
		want, wok := resolve(c.args[1], item)
		s, sok := want.(*types.AttributeValueMemberS)
		if !ok || !wok || !sok {
			return false, nil
		}
		return typeName(v) == s.Value, nil

	case "begins_with":
		v, ok := resolve(c.args[0], item)
		prefix, pok := resolve(c.args[1], item)
		if !ok || !pok {
			return false, nil
		}
		switch v := v.(type) {
		case *types.AttributeValueMemberS:
			p, ok := prefix.(*types.AttributeValueMemberS)
			return ok && strings.HasPrefix(v.Value, p.Value), nil
		case *types.AttributeValueMemberB:
			p, ok := prefix.(*types.AttributeValueMemberB)
			return ok && bytes.HasPrefix(v.Value, p.Value), nil
		}
		return false, nil

	case "contains":
		v, ok := resolve(c.args[0], item)
		needle, nok := resolve(c.args[1], item)
		if !ok || !nok {
			return false, nil
		}
		return containsValue(v, needle), nil
	}
	return false, validationError("unsupported function %s", c.name)
}

func containsValue(v, needle types.AttributeValue) bool {
	switch v := v.(type) {
	case *types.AttributeValueMemberS:
		n, ok := needle.(*types.AttributeValueMemberS)
		return ok && strings.Contains(v.Value, n.Value)
	case *types.AttributeValueMemberB:
		n, ok := needle.(*types.AttributeValueMemberB)
		return ok && bytes.Contains(v.Value, n.Value)
	case *types.AttributeValueMemberSS:
		n, ok := needle.(*types.AttributeValueMemberS)
		return ok && containsString(v.Value, n.Value)
	case *types.AttributeValueMemberNS:
		n, ok := needle.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		for _, e := range v.Value {
			if numbersEqual(e, n.Value) {
				return true
			}
		}
	case *types.AttributeValueMemberL:
		for _, e := range v.Value {
			if equalValues(e, needle) {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func resolve(o operand, item map[string]types.AttributeValue) (types.AttributeValue, bool) {
	switch o := o.(type) {
	case valueOperand:
		return o.value, true
	case pathOperand:
		return getPath(item, o.path)
	case sizeOperand:
		v, ok := getPath(item, o.path)
		if !ok {
			return nil, false
		}
		n, ok := sizeOf(v)
		if !ok {
			return nil, false
		}
		return &types.AttributeValueMemberN{Value: big.NewInt(int64(n)).String()}, true
	}
	return nil, false
}

func sizeOf(v types.AttributeValue) (int, bool) {
	switch v := v.(type) {
	case *types.AttributeValueMemberS:
		return len(v.Value), true
	case *types.AttributeValueMemberB:
		return len(v.Value), true
	case *types.AttributeValueMemberSS:
		return len(v.Value), true
	case *types.AttributeValueMemberNS:
		return len(v.Value), true
	case *types.AttributeValueMemberBS:
		return len(v.Value), true
	case *types.AttributeValueMemberM:
		return len(v.Value), true
	case *types.AttributeValueMemberL:
		return len(v.Value), true
	}
	return 0, false
}

func typeName(v types.AttributeValue) string {
	switch v.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	case *types.AttributeValueMemberM:
		return "M"
	case *types.AttributeValueMemberL:
		return "L"
	}
	return ""
}

// compareValues orders two scalars of the same type. ok is false when the
// values cannot be ordered.
func compareValues(a, b types.AttributeValue) (int, bool) {
	switch a := a.(type) {
	case *types.AttributeValueMemberS:
		b, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(a.Value, b.Value), true
	case *types.AttributeValueMemberN:
		b, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, xok := parseNumber(a.Value)
		y, yok := parseNumber(b.Value)
		if !xok || !yok {
			return 0, false
		}
		return x.Cmp(y), true
	case *types.AttributeValueMemberB:
		b, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, false
		}
		return bytes.Compare(a.Value, b.Value), true
	}
	return 0, false
}

func equalValues(a, b types.AttributeValue) bool {
	if typeName(a) != typeName(b) {
		return false
	}
	switch a := a.(type) {
	case *types.AttributeValueMemberS, *types.AttributeValueMemberN, *types.AttributeValueMemberB:
		cmp, ok := compareValues(a, b)
		return ok && cmp == 0
	case *types.AttributeValueMemberBOOL:
		return a.Value == b.(*types.AttributeValueMemberBOOL).Value
	case *types.AttributeValueMemberNULL:
		return true
	case *types.AttributeValueMemberSS:
		return sameStrings(a.Value, b.(*types.AttributeValueMemberSS).Value)
	case *types.AttributeValueMemberNS:
		bv := b.(*types.AttributeValueMemberNS).Value
		if len(a.Value) != len(bv) {
			return false
		}
		for _, x := range a.Value {
			found := false
			for _, y := range bv {
				if numbersEqual(x, y) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberBS:
		bv := b.(*types.AttributeValueMemberBS).Value
		if len(a.Value) != len(bv) {
			return false
		}
		for _, x := range a.Value {
			found := false
			for _, y := range bv {
				if bytes.Equal(x, y) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberM:
		bm := b.(*types.AttributeValueMemberM).Value
		if len(a.Value) != len(bm) {
			return false
		}
		for k, v := range a.Value {
			w, ok := bm[k]
			if !ok || !equalValues(v, w) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberL:
		bl := b.(*types.AttributeValueMemberL).Value
		if len(a.Value) != len(bl) {
			return false
		}
		for i := range a.Value {
			if !equalValues(a.Value[i], bl[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, s := range a {
		if !containsString(b, s) {
			return false
		}
	}
	return true
}

func parseNumber(s string) (*big.Rat, bool) {
	return new(big.Rat).SetString(strings.TrimSpace(s))
}

func numbersEqual(a, b string) bool {
	x, xok := parseNumber(a)
	y, yok := parseNumber(b)
	return xok && yok && x.Cmp(y) == 0
}

// formatNumber renders integers without a fraction and everything else
// with up to 38 significant decimals, trimming trailing zeros.
func formatNumber(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	s := r.FloatString(38)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
