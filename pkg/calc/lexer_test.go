package calc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"2 + 2", "2+2"},
		{"1,5", "1.5"},
		{"2 ** 3", "2^3"},
		{"2* *3", "2^3"},
		{"\t1\n+ 2\r", "1+2"},
		{"10 // 3", "10//3"},
		{"", ""},
		{"abc", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.input))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		input   string
		limit   int
		wantErr error
		wantPos int
	}{
		{"1+2", 0, nil, 0},
		{"(1+2)", 1, nil, 0},
		{"((1)+(2))", 2, nil, 0},
		{"((1)+(2))", 1, ErrDepthExceeded, 1},
		{"(", NoLimit, ErrUnbalancedParentheses, 1},
		{"())", NoLimit, ErrUnbalancedParentheses, 2},
		{")", NoLimit, ErrUnbalancedParentheses, 0},
		{"(()", 5, ErrUnbalancedParentheses, 3},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := Validate(tt.input, tt.limit)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantPos, err.(*Error).Pos)
		})
	}
}

func TestTokenize(t *testing.T) {
	tokens, err := NewLexer("12.5*-(3)//2").Tokenize()
	require.NoError(t, err)

	want := []Token{
		{Type: TokenNumber, Value: "12.5", Num: 12.5, Pos: 0, End: 4},
		{Type: TokenOperator, Value: "*-", Pos: 4, End: 6},
		{Type: TokenLParen, Value: "(", Pos: 6, End: 7},
		{Type: TokenNumber, Value: "3", Num: 3, Pos: 7, End: 8},
		{Type: TokenRParen, Value: ")", Pos: 8, End: 9},
		{Type: TokenOperator, Value: "//", Pos: 9, End: 11},
		{Type: TokenNumber, Value: "2", Num: 2, Pos: 11, End: 12},
		{Type: TokenEOF, Pos: 12, End: 12},
	}
	assert.Equal(t, want, tokens)
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		input   string
		wantErr error
		wantPos int
	}{
		{"1+a", ErrUnknownSymbol, 2},
		{"1 2", ErrUnknownSymbol, 1},
		{"3..1", ErrMalformedNumber, 0},
		{"2+.", ErrMalformedNumber, 2},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := NewLexer(tt.input).Tokenize()
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantPos, err.(*Error).Pos)
		})
	}
}

func TestTokenTypeString(t *testing.T) {
	assert.Equal(t, "NUMBER", TokenNumber.String())
	assert.Equal(t, "OPERATOR", TokenOperator.String())
	assert.Equal(t, "EOF", TokenEOF.String())
	assert.Equal(t, "UNKNOWN", TokenType(99).String())
}

func TestReduceSpans(t *testing.T) {
	c := New()
	tokens, err := NewLexer("-2+30*4").Tokenize()
	require.NoError(t, err)

	res, err := c.Reduce(context.Background(), tokens)
	require.NoError(t, err)
	assert.Equal(t, float64(118), res.Num)
	assert.Equal(t, "118", res.Value)
	assert.Equal(t, 0, res.Pos)
	assert.Equal(t, 7, res.End)
}

func TestReduceRejectsParentheses(t *testing.T) {
	tokens, err := NewLexer("(1)").Tokenize()
	require.NoError(t, err)

	_, err = New().Reduce(context.Background(), tokens)
	assert.ErrorIs(t, err, ErrOperandOperatorCountMismatch)
}
