package localddb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Expression syntax trees

type pathElem struct {
	name    string
	index   int
	isIndex bool
}

type docPath []pathElem

func (p docPath) String() string {
	var b strings.Builder
	for i, e := range p {
		switch {
		case e.isIndex:
			fmt.Fprintf(&b, "[%d]", e.index)
		case i > 0:
			b.WriteString("." + e.name)
		default:
			b.WriteString(e.name)
		}
	}
	return b.String()
}

type operand interface{ isOperand() }

type pathOperand struct{ path docPath }
type valueOperand struct{ value types.AttributeValue }
type sizeOperand struct{ path docPath }

func (pathOperand) isOperand()  {}
func (valueOperand) isOperand() {}
func (sizeOperand) isOperand()  {}

type condition interface{ isCondition() }

type andCond struct{ left, right condition }
type orCond struct{ left, right condition }
type notCond struct{ inner condition }
type compareCond struct {
	op          tokenKind
	left, right operand
}
type betweenCond struct{ value, lower, upper operand }
type inCond struct {
	value operand
	list  []operand
}
type funcCond struct {
	name string
	args []operand
}

func (andCond) isCondition()     {}
func (orCond) isCondition()      {}
func (notCond) isCondition()     {}
func (compareCond) isCondition() {}
func (betweenCond) isCondition() {}
func (inCond) isCondition()      {}
func (funcCond) isCondition()    {}

type setValue interface{ isSetValue() }

type operandValue struct{ operand operand }
type arithValue struct {
	minus       bool
	left, right setValue
}
type ifNotExistsValue struct {
	path     docPath
	fallback setValue
}
type listAppendValue struct{ first, second setValue }

func (operandValue) isSetValue()     {}
func (arithValue) isSetValue()       {}
func (ifNotExistsValue) isSetValue() {}
func (listAppendValue) isSetValue()  {}

type setAction struct {
	path  docPath
	value setValue
}

type valueAction struct {
	path  docPath
	value types.AttributeValue
}

type update struct {
	set    []setAction
	remove []docPath
	add    []valueAction
	delete []valueAction
}

// usage records which placeholders a request's expressions referenced.
// DynamoDB rejects requests that define placeholders they never use.
type usage struct {
	names  map[string]string
	values map[string]types.AttributeValue
	used   map[string]bool
}

func newUsage(names map[string]string, values map[string]types.AttributeValue) *usage {
	return &usage{names: names, values: values, used: make(map[string]bool)}
}

func (u *usage) unused() error {
	var names, values []string
	for k := range u.names {
		if !u.used[k] {
			names = append(names, k)
		}
	}
	for k := range u.values {
		if !u.used[k] {
			values = append(values, k)
		}
	}
	sort.Strings(names)
	sort.Strings(values)
	if len(names) > 0 {
		return validationError("Value provided in ExpressionAttributeNames unused in expressions: keys: {%s}", strings.Join(names, ", "))
	}
	if len(values) > 0 {
		return validationError("Value provided in ExpressionAttributeValues unused in expressions: keys: {%s}", strings.Join(values, ", "))
	}
	return nil
}

type parser struct {
	toks []token
	pos  int
	u    *usage
}

func newParser(src string, u *usage) (*parser, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, validationError("Invalid expression: %v", err)
	}
	return &parser{toks: toks, u: u}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf("expected %s, found %s", what, t)
	}
	return t, nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return validationError("Invalid expression: "+format, args...)
}

// parseCondition parses a condition, filter or key condition expression
func parseCondition(src string, u *usage) (condition, error) {
	p, err := newParser(src, u)
	if err != nil {
		return nil, err
	}
	c, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf("unexpected %s", t)
	}
	return c, nil
}

func (p *parser) parseOr() (condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orCond{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (condition, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andCond{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (condition, error) {
	if p.peek().keyword("NOT") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notCond{inner: inner}, nil
	}
	return p.parsePrimary()
}

var conditionFuncs = map[string]int{
	"attribute_exists":     1,
	"attribute_not_exists": 1,
	"attribute_type":       2,
	"begins_with":          2,
	"contains":             2,
}

func (p *parser) parsePrimary() (condition, error) {
	t := p.peek()

	if t.kind == tokLParen {
		p.next()
		c, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return c, nil
	}

	if t.kind == tokIdent && p.peekAt(1).kind == tokLParen {
		name := strings.ToLower(t.text)
		if arity, ok := conditionFuncs[name]; ok {
			p.next()
			p.next()
			args, err := p.parseOperandList()
			if err != nil {
				return nil, err
			}
			if len(args) != arity {
				return nil, p.errorf("%s takes %d arguments, got %d", name, arity, len(args))
			}
			if name == "attribute_exists" || name == "attribute_not_exists" {
				if _, ok := args[0].(pathOperand); !ok {
					return nil, p.errorf("%s needs a document path", name)
				}
			}
			return funcCond{name: name, args: args}, nil
		}
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	t = p.peek()
	switch {
	case t.kind >= tokEQ && t.kind <= tokGE:
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return compareCond{op: t.kind, left: left, right: right}, nil

	case t.keyword("BETWEEN"):
		p.next()
		lower, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.next().keyword("AND") {
			return nil, p.errorf("expected AND in BETWEEN")
		}
		upper, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return betweenCond{value: left, lower: lower, upper: upper}, nil

	case t.keyword("IN"):
		p.next()
		if _, err := p.expect(tokLParen, "'('"); err != nil {
			return nil, err
		}
		list, err := p.parseOperandList()
		if err != nil {
			return nil, err
		}
		return inCond{value: left, list: list}, nil
	}

	return nil, p.errorf("expected comparison, found %s", t)
}

// parseOperandList parses "a, b, c)" after an opening parenthesis
func (p *parser) parseOperandList() ([]operand, error) {
	var out []operand
	for {
		o, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		t := p.next()
		if t.kind == tokRParen {
			return out, nil
		}
		if t.kind != tokComma {
			return nil, p.errorf("expected ',' or ')', found %s", t)
		}
	}
}

func (p *parser) parseOperand() (operand, error) {
	t := p.peek()
	switch {
	case t.kind == tokValueRef:
		p.next()
		v, err := p.value(t)
		if err != nil {
			return nil, err
		}
		return valueOperand{value: v}, nil

	case t.kind == tokIdent && strings.EqualFold(t.text, "size") && p.peekAt(1).kind == tokLParen:
		p.next()
		p.next()
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return sizeOperand{path: path}, nil
	}

	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	return pathOperand{path: path}, nil
}

func (p *parser) parsePath() (docPath, error) {
	first, err := p.pathName()
	if err != nil {
		return nil, err
	}
	path := docPath{{name: first}}

	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			name, err := p.pathName()
			if err != nil {
				return nil, err
			}
			path = append(path, pathElem{name: name})
		case tokLBracket:
			p.next()
			t, err := p.expect(tokNumber, "list index")
			if err != nil {
				return nil, err
			}
			n, _ := strconv.Atoi(t.text)
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			path = append(path, pathElem{index: n, isIndex: true})
		default:
			return path, nil
		}
	}
}

func (p *parser) pathName() (string, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return t.text, nil
	case tokNameRef:
		name, ok := p.u.names[t.text]
		if !ok {
			return "", validationError("An expression attribute name used in the document path is not defined; attribute name: %s", t.text)
		}
		p.u.used[t.text] = true
		return name, nil
	}
	return "", p.errorf("expected attribute name, found %s", t)
}

func (p *parser) value(t token) (types.AttributeValue, error) {
	v, ok := p.u.values[t.text]
	if !ok {
		return nil, validationError("An expression attribute value used in expression is not defined; attribute value: %s", t.text)
	}
	p.u.used[t.text] = true
	return v, nil
}

// parseUpdate parses an update expression made of SET, REMOVE, ADD and
// DELETE clauses in any order, each at most once
func parseUpdate(src string, u *usage) (*update, error) {
	p, err := newParser(src, u)
	if err != nil {
		return nil, err
	}

	out := &update{}
	seen := make(map[string]bool)
	for p.peek().kind != tokEOF {
		t := p.next()
		clause := strings.ToUpper(t.text)
		if t.kind != tokIdent {
			return nil, p.errorf("expected SET, REMOVE, ADD or DELETE, found %s", t)
		}
		if seen[clause] {
			return nil, p.errorf("the %s section can only be used once in an update expression", clause)
		}
		seen[clause] = true

		switch clause {
		case "SET":
			err = p.commaList(func() error {
				path, err := p.parsePath()
				if err != nil {
					return err
				}
				if _, err := p.expect(tokEQ, "'='"); err != nil {
					return err
				}
				v, err := p.parseSetValue()
				if err != nil {
					return err
				}
				out.set = append(out.set, setAction{path: path, value: v})
				return nil
			})
		case "REMOVE":
			err = p.commaList(func() error {
				path, err := p.parsePath()
				if err != nil {
					return err
				}
				out.remove = append(out.remove, path)
				return nil
			})
		case "ADD", "DELETE":
			err = p.commaList(func() error {
				path, err := p.parsePath()
				if err != nil {
					return err
				}
				vt, err := p.expect(tokValueRef, "value placeholder")
				if err != nil {
					return err
				}
				v, err := p.value(vt)
				if err != nil {
					return err
				}
				if clause == "ADD" {
					out.add = append(out.add, valueAction{path: path, value: v})
				} else {
					out.delete = append(out.delete, valueAction{path: path, value: v})
				}
				return nil
			})
		default:
			return nil, p.errorf("unknown update clause %s", t)
		}
		if err != nil {
			return nil, err
		}
	}

	if len(seen) == 0 {
		return nil, p.errorf("empty update expression")
	}
	return out, nil
}

func (p *parser) commaList(item func() error) error {
	for {
		if err := item(); err != nil {
			return err
		}
		if p.peek().kind != tokComma {
			return nil
		}
		p.next()
	}
}

func (p *parser) parseSetValue() (setValue, error) {
	left, err := p.parseSetOperand()
	if err != nil {
		return nil, err
	}
	if k := p.peek().kind; k == tokPlus || k == tokMinus {
		p.next()
		right, err := p.parseSetOperand()
		if err != nil {
			return nil, err
		}
		return arithValue{minus: k == tokMinus, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseSetOperand() (setValue, error) {
	t := p.peek()

	if t.kind == tokLParen {
		p.next()
		v, err := p.parseSetValue()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return v, nil
	}

	if t.kind == tokIdent && p.peekAt(1).kind == tokLParen {
		switch strings.ToLower(t.text) {
		case "if_not_exists":
			p.next()
			p.next()
			path, err := p.parsePath()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokComma, "','"); err != nil {
				return nil, err
			}
			fallback, err := p.parseSetValue()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return ifNotExistsValue{path: path, fallback: fallback}, nil

		case "list_append":
			p.next()
			p.next()
			first, err := p.parseSetValue()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokComma, "','"); err != nil {
				return nil, err
			}
			second, err := p.parseSetValue()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return listAppendValue{first: first, second: second}, nil
		}
	}

	o, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, ok := o.(sizeOperand); ok {
		return nil, p.errorf("size is not allowed in an update expression")
	}
	return operandValue{operand: o}, nil
}
