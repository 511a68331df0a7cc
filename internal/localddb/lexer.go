package localddb

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNameRef  // #name
	tokValueRef // :value
	tokNumber   // list index
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokDot
	tokPlus
	tokMinus
	tokEQ
	tokNE
	tokLT
	tokLE
	tokGT
	tokGE
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

// keyword reports whether t is the identifier kw, ignoring case
func (t token) keyword(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)

	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
			continue

		case r == '#' || r == ':':
			start := i
			i++
			for i < len(rs) && isIdentRune(rs[i]) {
				i++
			}
			if i == start+1 {
				return nil, fmt.Errorf("empty placeholder at %d", start)
			}
			kind := tokNameRef
			if r == ':' {
				kind = tokValueRef
			}
			toks = append(toks, token{kind: kind, text: string(rs[start:i]), pos: start})
			continue

		case unicode.IsDigit(r):
			start := i
			for i < len(rs) && unicode.IsDigit(rs[i]) {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[start:i]), pos: start})
			continue

		case isIdentRune(r):
			start := i
			for i < len(rs) && isIdentRune(rs[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[start:i]), pos: start})
			continue
		}

		single := map[rune]tokenKind{
			'(': tokLParen, ')': tokRParen, '[': tokLBracket, ']': tokRBracket,
			',': tokComma, '.': tokDot, '+': tokPlus, '-': tokMinus, '=': tokEQ,
		}
		if kind, ok := single[r]; ok {
			toks = append(toks, token{kind: kind, text: string(r), pos: i})
			i++
			continue
		}

		next := rune(0)
		if i+1 < len(rs) {
			next = rs[i+1]
		}
		switch {
		case r == '<' && next == '>':
			toks = append(toks, token{kind: tokNE, text: "<>", pos: i})
			i += 2
		case r == '<' && next == '=':
			toks = append(toks, token{kind: tokLE, text: "<=", pos: i})
			i += 2
		case r == '>' && next == '=':
			toks = append(toks, token{kind: tokGE, text: ">=", pos: i})
			i += 2
		case r == '<':
			toks = append(toks, token{kind: tokLT, text: "<", pos: i})
			i++
		case r == '>':
			toks = append(toks, token{kind: tokGT, text: ">", pos: i})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", r, i)
		}
	}

	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
