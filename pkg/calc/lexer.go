package calc

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Lexer tokenizes a sanitized calculator expression.
type Lexer struct {
	input  string
	pos    int
	tokens []Token
}

// NewLexer creates a new lexer for the given input. The input is expected to
// have gone through Sanitize already: whitespace is not skipped.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize scans the entire input and returns all tokens, terminated by a
// TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return l.tokens, nil
}

func (l *Lexer) next() (Token, error) {
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos, End: l.pos}, nil
	}

	ch := l.input[l.pos]

	if isNumberChar(ch) {
		return l.readNumber()
	}

	// Operator characters are grouped into a single literal such as "//" or
	// "*-". Splitting off a unary sign is left to the reducer, which knows
	// what follows the run.
	if isOperatorChar(ch) {
		start := l.pos
		for l.pos < len(l.input) && isOperatorChar(l.input[l.pos]) {
			l.pos++
		}
		return Token{Type: TokenOperator, Value: l.input[start:l.pos], Pos: start, End: l.pos}, nil
	}

	switch ch {
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "(", Pos: l.pos - 1, End: l.pos}, nil
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")", Pos: l.pos - 1, End: l.pos}, nil
	}

	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return Token{}, newUnknownSymbolError(l.pos, r)
}

// readNumber reads a run of digits and decimal points.
func (l *Lexer) readNumber() (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && isNumberChar(l.input[l.pos]) {
		l.pos++
	}
	raw := l.input[start:l.pos]

	if strings.Count(raw, ".") > 1 || raw == "." {
		return Token{}, newMalformedNumberError(start, raw)
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return Token{}, newArithmeticError(start, "number "+raw+" is out of range")
		}
		return Token{}, newMalformedNumberError(start, raw)
	}

	return Token{Type: TokenNumber, Value: raw, Num: v, Pos: start, End: l.pos}, nil
}
