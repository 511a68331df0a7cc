package localddb

import (
	"bytes"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// apply evaluates u against old and returns the new item together with the
// top-level attribute names the expression touched. Every operand reads the
// old item, so the order of actions inside a clause does not matter.
func (u *update) apply(old map[string]types.AttributeValue, keyAttrs []string) (map[string]types.AttributeValue, []string, error) {
	item := copyItem(old)
	if item == nil {
		item = make(map[string]types.AttributeValue)
	}
	var touched []string
	touch := func(p docPath) error {
		for _, k := range keyAttrs {
			if p[0].name == k {
				return validationError("Cannot update attribute %s. This attribute is part of the key", k)
			}
		}
		for _, t := range touched {
			if t == p[0].name && len(p) == 1 {
				return validationError("Two document paths overlap with each other; must remove or rewrite one of these paths; path one: [%s]", p)
			}
		}
		touched = append(touched, p[0].name)
		return nil
	}

	for _, a := range u.set {
		if err := touch(a.path); err != nil {
			return nil, nil, err
		}
		v, err := evalSetValue(a.value, old)
		if err != nil {
			return nil, nil, err
		}
		if item, err = setPath(item, a.path, v); err != nil {
			return nil, nil, err
		}
	}

	for _, p := range u.remove {
		if err := touch(p); err != nil {
			return nil, nil, err
		}
		item = removePath(item, p)
	}

	for _, a := range u.add {
		if err := touch(a.path); err != nil {
			return nil, nil, err
		}
		cur, exists := getPath(old, a.path)
		v, err := addValues(cur, exists, a.value)
		if err != nil {
			return nil, nil, err
		}
		if item, err = setPath(item, a.path, v); err != nil {
			return nil, nil, err
		}
	}

	for _, a := range u.delete {
		if err := touch(a.path); err != nil {
			return nil, nil, err
		}
		cur, exists := getPath(old, a.path)
		if !exists {
			continue
		}
		v, err := subtractSet(cur, a.value)
		if err != nil {
			return nil, nil, err
		}
		if v == nil {
			item = removePath(item, a.path)
			continue
		}
		if item, err = setPath(item, a.path, v); err != nil {
			return nil, nil, err
		}
	}

	return item, touched, nil
}

func evalSetValue(v setValue, old map[string]types.AttributeValue) (types.AttributeValue, error) {
	switch v := v.(type) {
	case operandValue:
		av, ok := resolve(v.operand, old)
		if !ok {
			return nil, validationError("The provided expression refers to an attribute that does not exist in the item")
		}
		return av, nil

	case ifNotExistsValue:
		if av, ok := getPath(old, v.path); ok {
			return av, nil
		}
		return evalSetValue(v.fallback, old)

	case arithValue:
		l, err := evalSetValue(v.left, old)
		if err != nil {
			return nil, err
		}
		r, err := evalSetValue(v.right, old)
		if err != nil {
			return nil, err
		}
		ln, lok := l.(*types.AttributeValueMemberN)
		rn, rok := r.(*types.AttributeValueMemberN)
		if !lok || !rok {
			return nil, operandTypeError()
		}
		x, xok := parseNumber(ln.Value)
		y, yok := parseNumber(rn.Value)
		if !xok || !yok {
			return nil, operandTypeError()
		}
		if v.minus {
			x.Sub(x, y)
		} else {
			x.Add(x, y)
		}
		return &types.AttributeValueMemberN{Value: formatNumber(x)}, nil

	case listAppendValue:
		a, err := evalSetValue(v.first, old)
		if err != nil {
			return nil, err
		}
		b, err := evalSetValue(v.second, old)
		if err != nil {
			return nil, err
		}
		al, aok := a.(*types.AttributeValueMemberL)
		bl, bok := b.(*types.AttributeValueMemberL)
		if !aok || !bok {
			return nil, operandTypeError()
		}
		out := append(append([]types.AttributeValue(nil), al.Value...), bl.Value...)
		return &types.AttributeValueMemberL{Value: out}, nil
	}
	return nil, validationError("unsupported update value %T", v)
}

func addValues(cur types.AttributeValue, exists bool, delta types.AttributeValue) (types.AttributeValue, error) {
	switch d := delta.(type) {
	case *types.AttributeValueMemberN:
		if !exists {
			return d, nil
		}
		c, ok := cur.(*types.AttributeValueMemberN)
		if !ok {
			return nil, operandTypeError()
		}
		x, xok := parseNumber(c.Value)
		y, yok := parseNumber(d.Value)
		if !xok || !yok {
			return nil, operandTypeError()
		}
		return &types.AttributeValueMemberN{Value: formatNumber(x.Add(x, y))}, nil

	case *types.AttributeValueMemberSS:
		if !exists {
			return d, nil
		}
		c, ok := cur.(*types.AttributeValueMemberSS)
		if !ok {
			return nil, operandTypeError()
		}
		out := append([]string(nil), c.Value...)
		for _, s := range d.Value {
			if !containsString(out, s) {
				out = append(out, s)
			}
		}
		return &types.AttributeValueMemberSS{Value: out}, nil

	case *types.AttributeValueMemberNS:
		if !exists {
			return d, nil
		}
		c, ok := cur.(*types.AttributeValueMemberNS)
		if !ok {
			return nil, operandTypeError()
		}
		out := append([]string(nil), c.Value...)
		for _, n := range d.Value {
			found := false
			for _, e := range out {
				if numbersEqual(e, n) {
					found = true
					break
				}
			}
			if !found {
				out = append(out, n)
			}
		}
		return &types.AttributeValueMemberNS{Value: out}, nil

	case *types.AttributeValueMemberBS:
		if !exists {
			return d, nil
		}
		c, ok := cur.(*types.AttributeValueMemberBS)
		if !ok {
			return nil, operandTypeError()
		}
		out := append([][]byte(nil), c.Value...)
		for _, b := range d.Value {
			found := false
			for _, e := range out {
				if bytes.Equal(e, b) {
					found = true
					break
				}
			}
			if !found {
				out = append(out, b)
			}
		}
		return &types.AttributeValueMemberBS{Value: out}, nil
	}
	return nil, validationError("Incorrect operand type for operator or function; operator: ADD, operand type: %s", typeName(delta))
}

// subtractSet removes the members of delta from cur. A nil result means the
// set became empty and the attribute goes away.
func subtractSet(cur, delta types.AttributeValue) (types.AttributeValue, error) {
	switch d := delta.(type) {
	case *types.AttributeValueMemberSS:
		c, ok := cur.(*types.AttributeValueMemberSS)
		if !ok {
			return nil, operandTypeError()
		}
		var out []string
		for _, s := range c.Value {
			if !containsString(d.Value, s) {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return &types.AttributeValueMemberSS{Value: out}, nil

	case *types.AttributeValueMemberNS:
		c, ok := cur.(*types.AttributeValueMemberNS)
		if !ok {
			return nil, operandTypeError()
		}
		var out []string
		for _, n := range c.Value {
			drop := false
			for _, e := range d.Value {
				if numbersEqual(n, e) {
					drop = true
					break
				}
			}
			if !drop {
				out = append(out, n)
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return &types.AttributeValueMemberNS{Value: out}, nil

	case *types.AttributeValueMemberBS:
		c, ok := cur.(*types.AttributeValueMemberBS)
		if !ok {
			return nil, operandTypeError()
		}
		var out [][]byte
		for _, b := range c.Value {
			drop := false
			for _, e := range d.Value {
				if bytes.Equal(b, e) {
					drop = true
					break
				}
			}
			if !drop {
				out = append(out, b)
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return &types.AttributeValueMemberBS{Value: out}, nil
	}
	return nil, validationError("Incorrect operand type for operator or function; operator: DELETE, operand type: %s", typeName(delta))
}

func operandTypeError() error {
	return validationError("An operand in the update expression has an incorrect data type")
}
