package query

import (
	"strings"
	"unicode"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdent
	tokenString
	tokenColon
	tokenLParen
	tokenRParen
	tokenAnd
	tokenOr
	tokenNot
	tokenNeq
	tokenGt
	tokenLt
	tokenIllegal
)

func (t tokenType) String() string {
	switch t {
	case tokenEOF:
		return "end of input"
	case tokenIdent:
		return "identifier"
	case tokenString:
		return "string"
	case tokenColon:
		return "':'"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	case tokenAnd:
		return "AND"
	case tokenOr:
		return "OR"
	case tokenNot:
		return "NOT"
	case tokenNeq:
		return "'!='"
	case tokenGt:
		return "'>'"
	case tokenLt:
		return "'<'"
	}
	return "illegal character"
}

type token struct {
	typ   tokenType
	value string
	pos   int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() token {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{typ: tokenEOF, pos: l.pos}
	}

	start := l.pos
	switch ch := l.input[l.pos]; ch {
	case ':':
		l.pos++
		return token{typ: tokenColon, value: ":", pos: start}
	case '(':
		l.pos++
		return token{typ: tokenLParen, value: "(", pos: start}
	case ')':
		l.pos++
		return token{typ: tokenRParen, value: ")", pos: start}
	case '>':
		l.pos++
		return token{typ: tokenGt, value: ">", pos: start}
	case '<':
		l.pos++
		return token{typ: tokenLt, value: "<", pos: start}
	case '!':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '=' {
			l.pos += 2
			return token{typ: tokenNeq, value: "!=", pos: start}
		}
	case '"':
		return l.readString()
	default:
		if isIdentChar(ch) {
			return l.readIdent()
		}
	}
	l.pos++
	return token{typ: tokenIllegal, value: l.input[start:l.pos], pos: start}
}

func (l *lexer) readString() token {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) && l.input[l.pos] != '"' {
		if l.input[l.pos] == '\\' && l.pos+1 < len(l.input) {
			l.pos++
		}
		sb.WriteByte(l.input[l.pos])
		l.pos++
	}
	if l.pos < len(l.input) {
		l.pos++
	}
	return token{typ: tokenString, value: sb.String(), pos: start}
}

func (l *lexer) readIdent() token {
	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
		l.pos++
	}
	value := l.input[start:l.pos]
	switch strings.ToUpper(value) {
	case "AND":
		return token{typ: tokenAnd, value: "AND", pos: start}
	case "OR":
		return token{typ: tokenOr, value: "OR", pos: start}
	case "NOT":
		return token{typ: tokenNot, value: "NOT", pos: start}
	}
	return token{typ: tokenIdent, value: value, pos: start}
}

// Identifiers double as bare values, so digits and the characters of
// durations and negative numbers are allowed anywhere.
func isIdentChar(ch byte) bool {
	r := rune(ch)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || ch == '_' || ch == '-' || ch == '.'
}
