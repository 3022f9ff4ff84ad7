// Package calc implements the calculator's arithmetic expression evaluator.
// It handles numbers with decimal points, the binary operators + - * / // ^
// (with ** accepted for ^), unary minus and parenthesized groups.
package calc

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenNumber   TokenType = iota // numeric literal or collapsed group
	TokenOperator                  // run of operator characters
	TokenLParen                    // (
	TokenRParen                    // )
	TokenEOF                       // end of expression
)

// Token represents a single lexical token. Pos and End delimit the half-open
// byte span [Pos, End) the token covers in the sanitized expression.
type Token struct {
	Type  TokenType
	Value string  // raw text
	Num   float64 // parsed value (for TokenNumber)
	Pos   int
	End   int
}

// String returns a debug-friendly representation of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenNumber:
		return "NUMBER"
	case TokenOperator:
		return "OPERATOR"
	case TokenLParen:
		return "LPAREN"
	case TokenRParen:
		return "RPAREN"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

func isOperatorChar(ch byte) bool {
	switch ch {
	case '+', '-', '*', '/', '^':
		return true
	}
	return false
}

func isNumberChar(ch byte) bool {
	return (ch >= '0' && ch <= '9') || ch == '.'
}
