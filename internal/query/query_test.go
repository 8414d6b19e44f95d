package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coffersTech/loadtrace/internal/storage"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []tokenType
	}{
		{"ph:b", []tokenType{tokenIdent, tokenColon, tokenIdent, tokenEOF}},
		{`name:"get user"`, []tokenType{tokenIdent, tokenColon, tokenString, tokenEOF}},
		{"tid:3 AND dur>2ms", []tokenType{tokenIdent, tokenColon, tokenIdent, tokenAnd, tokenIdent, tokenGt, tokenIdent, tokenEOF}},
		{"NOT (a OR b)", []tokenType{tokenNot, tokenLParen, tokenIdent, tokenOr, tokenIdent, tokenRParen, tokenEOF}},
		{`cat!="x"`, []tokenType{tokenIdent, tokenNeq, tokenString, tokenEOF}},
		{"ts<100", []tokenType{tokenIdent, tokenLt, tokenIdent, tokenEOF}},
		{"a ! b", []tokenType{tokenIdent, tokenIllegal, tokenIdent, tokenEOF}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lex := &lexer{input: tt.input}
			for i, want := range tt.expected {
				tok := lex.next()
				require.Equal(t, want, tok.typ, "token %d (%q)", i, tok.value)
			}
		})
	}
}

func TestParse_Shapes(t *testing.T) {
	n, err := Parse("ph:b")
	require.NoError(t, err)
	require.Equal(t, MatchExpr{Key: "ph", Value: "b", Op: "="}, n)

	n, err = Parse(`"timeout"`)
	require.NoError(t, err)
	require.Equal(t, MatchExpr{Value: "timeout", Op: "CONTAINS"}, n)

	n, err = Parse("ph:b tid:2")
	require.NoError(t, err)
	require.Equal(t, BinaryExpr{
		Op:    "AND",
		Left:  MatchExpr{Key: "ph", Value: "b", Op: "="},
		Right: MatchExpr{Key: "tid", Value: "2", Op: "="},
	}, n)

	// AND binds tighter than OR.
	n, err = Parse("a OR b AND c")
	require.NoError(t, err)
	or, ok := n.(BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "OR", or.Op)
	require.Equal(t, "AND", or.Right.(BinaryExpr).Op)

	n, err = Parse("")
	require.NoError(t, err)
	require.Nil(t, n)
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{
		"(ph:b",
		"ph:",
		"color:red",
		"name>3",
		"dur>soon",
		"ph:b )",
		"a ! b",
	} {
		_, err := Parse(input)
		require.Error(t, err, input)
	}
}

func TestMatch(t *testing.T) {
	rec := &storage.Record{
		Name:  "Get User",
		Cat:   "default",
		Phase: "b",
		ID:    42,
		TID:   3,
		TS:    1500,
		Dur:   2_500_000,
		Args:  []byte(`{"route":"/users"}`),
	}
	tests := []struct {
		query string
		want  bool
	}{
		{"ph:b", true},
		{"ph:e", false},
		{"ph:B", true},
		{"tid:3 AND id:42", true},
		{"tid!=3", false},
		{"dur>2ms", true},
		{"dur<2ms", false},
		{"ts>1000 ts<2000", true},
		{`name:"get user"`, true},
		{"user", true},
		{"users", true},
		{"NOT ph:b", false},
		{"ph:e OR cat:default", true},
		{"NOT (ph:e OR tid:4)", true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			n, err := Parse(tt.query)
			require.NoError(t, err)
			require.Equal(t, tt.want, Match(n, rec))
		})
	}
	require.True(t, Match(nil, rec))
	require.Nil(t, Predicate(nil))
}
