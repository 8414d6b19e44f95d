// Package query parses and evaluates record filters for trace files.
//
// Grammar:
//
//	expr    = or
//	or      = and { "OR" and }
//	and     = not { ["AND"] not }
//	not     = "NOT" not | primary
//	primary = "(" expr ")" | field ":" value | field "!=" value
//	        | field ">" value | field "<" value | value
//
// Fields are name, cat, ph, id, pid, tid, ts and dur. ts and dur
// accept durations ("1.5ms") as well as integer nanoseconds. A bare
// value searches the record name and args.
//
//	ph:b AND tid:3
//	name:"get user" dur>2ms
//	NOT (ph:X OR cat:default)
package query

import (
	"github.com/cockroachdb/errors"
)

type parser struct {
	lex     *lexer
	current token
}

// Parse parses input. An empty input yields a nil Node, which matches
// every record.
func Parse(input string) (Node, error) {
	p := &parser{lex: &lexer{input: input}}
	p.advance()
	if p.current.typ == tokenEOF {
		return nil, nil
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.typ != tokenEOF {
		return nil, p.unexpected()
	}
	if err := check(node); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) advance() {
	p.current = p.lex.next()
}

func (p *parser) unexpected() error {
	return errors.Newf("query: unexpected %s %q at offset %d", p.current.typ, p.current.value, p.current.pos)
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current.typ == tokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

// parseAnd treats juxtaposition as AND.
func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		switch p.current.typ {
		case tokenAnd:
			p.advance()
		case tokenIdent, tokenString, tokenNot, tokenLParen:
		default:
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "AND", Left: left, Right: right}
	}
}

func (p *parser) parseNot() (Node, error) {
	if p.current.typ == tokenNot {
		p.advance()
		expr, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	switch p.current.typ {
	case tokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.typ != tokenRParen {
			return nil, p.unexpected()
		}
		p.advance()
		return expr, nil

	case tokenString:
		value := p.current.value
		p.advance()
		return MatchExpr{Value: value, Op: "CONTAINS"}, nil

	case tokenIdent:
		key := p.current.value
		p.advance()
		var op string
		switch p.current.typ {
		case tokenColon:
			op = "="
		case tokenNeq:
			op = "!="
		case tokenGt:
			op = ">"
		case tokenLt:
			op = "<"
		default:
			return MatchExpr{Value: key, Op: "CONTAINS"}, nil
		}
		p.advance()
		return p.parseValue(key, op)
	}
	return nil, p.unexpected()
}

func (p *parser) parseValue(key, op string) (Node, error) {
	switch p.current.typ {
	case tokenString, tokenIdent:
		value := p.current.value
		p.advance()
		return MatchExpr{Key: key, Value: value, Op: op}, nil
	}
	return nil, errors.Newf("query: expected value after %s%s, got %s", key, op, p.current.typ)
}

// check rejects unknown fields and non-numeric comparisons up front so
// evaluation never fails.
func check(n Node) error {
	switch n := n.(type) {
	case BinaryExpr:
		if err := check(n.Left); err != nil {
			return err
		}
		return check(n.Right)
	case NotExpr:
		return check(n.Expr)
	case MatchExpr:
		if n.Key == "" {
			return nil
		}
		f, ok := fields[n.Key]
		if !ok {
			return errors.Newf("query: unknown field %q", n.Key)
		}
		if f.numeric != nil {
			if _, err := f.parse(n.Value); err != nil {
				return errors.Wrapf(err, "query: field %q", n.Key)
			}
		} else if n.Op == ">" || n.Op == "<" {
			return errors.Newf("query: %s only applies to numeric fields, not %q", n.Op, n.Key)
		}
	}
	return nil
}
