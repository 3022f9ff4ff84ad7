package calc

import (
	"context"
	"errors"
	"math"
	"strings"
)

// Operator priorities.
const (
	precAdditive       = 1
	precMultiplicative = 2
	precPower          = 3
)

var (
	errDivisionByZero = errors.New("division by zero")
	errZeroNegPower   = errors.New("zero cannot be raised to a negative power")
	errInvalidPower   = errors.New("invalid power operation")
	errOutOfRange     = errors.New("result is out of range")
)

// operator describes a binary operator.
type operator struct {
	symbol string
	prec   int
	right  bool // right-associative
	apply  func(a, b float64) (float64, error)
}

var operators = map[string]operator{
	"+":  {symbol: "+", prec: precAdditive, apply: func(a, b float64) (float64, error) { return a + b, nil }},
	"-":  {symbol: "-", prec: precAdditive, apply: func(a, b float64) (float64, error) { return a - b, nil }},
	"*":  {symbol: "*", prec: precMultiplicative, apply: func(a, b float64) (float64, error) { return a * b, nil }},
	"/":  {symbol: "/", prec: precMultiplicative, apply: divide},
	"//": {symbol: "//", prec: precMultiplicative, apply: floorDivide},
	"^":  {symbol: "^", prec: precPower, right: true, apply: power},
}

func divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errDivisionByZero
	}
	return a / b, nil
}

func floorDivide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errDivisionByZero
	}
	return math.Floor(a / b), nil
}

func power(a, b float64) (float64, error) {
	if a == 0 && b < 0 {
		return 0, errZeroNegPower
	}
	v := math.Pow(a, b)
	if math.IsNaN(v) {
		return 0, errInvalidPower
	}
	return v, nil
}

// operand is a value together with the span of text it was computed from.
type operand struct {
	val      float64
	pos, end int
}

// binaryOp is an operator occurrence in a flat group.
type binaryOp struct {
	op       operator
	pos, end int
}

// Reduce evaluates a flat run of tokens (numbers and operators, no
// parentheses) and returns the result as a single number token spanning the
// whole run.
func (c *Calculator) Reduce(ctx context.Context, flat []Token) (Token, error) {
	if err := c.yield(ctx); err != nil {
		return Token{}, err
	}

	operands, ops, err := classify(flat)
	if err != nil {
		return Token{}, err
	}

	res, err := c.reduce(ctx, operands, ops)
	if err != nil {
		return Token{}, err
	}
	return Token{Type: TokenNumber, Value: FormatNumber(res.val), Num: res.val, Pos: res.pos, End: res.end}, nil
}

// classify splits a flat run into operands and the binary operators between
// them. A '-' that starts the run, or ends a run of operator characters, and
// is followed by an operand is a sign of that operand rather than an
// operator. The result always has len(ops) == len(operands)-1.
func classify(flat []Token) ([]operand, []binaryOp, error) {
	var (
		operands      []operand
		ops           []binaryOp
		expectOperand = true
		negate        bool
		signPos       int
	)

	for i, tok := range flat {
		switch tok.Type {
		case TokenNumber:
			if !expectOperand {
				return nil, nil, newMismatchError(tok.Pos, "missing operator between operands")
			}
			o := operand{val: tok.Num, pos: tok.Pos, end: tok.End}
			if negate {
				o.val = -o.val
				o.pos = signPos
				negate = false
			}
			operands = append(operands, o)
			expectOperand = false

		case TokenOperator:
			lit := tok.Value
			nextIsOperand := i+1 < len(flat) && flat[i+1].Type == TokenNumber
			if nextIsOperand && strings.HasSuffix(lit, "-") && (i == 0 || len(lit) > 1) {
				lit = lit[:len(lit)-1]
				negate = true
				signPos = tok.End - 1
			}
			if lit == "" {
				continue
			}
			op, ok := operators[lit]
			if !ok {
				return nil, nil, newUnknownOperatorError(tok.Pos, lit)
			}
			if expectOperand {
				return nil, nil, newMismatchError(tok.Pos, "operator "+lit+" has no left operand")
			}
			ops = append(ops, binaryOp{op: op, pos: tok.Pos, end: tok.Pos + len(lit)})
			expectOperand = true

		case TokenEOF:
			// Tolerated so that a full lexer output can be reduced directly.

		default:
			return nil, nil, newMismatchError(tok.Pos, "unexpected "+tok.Value+" in flat expression")
		}
	}

	if expectOperand {
		pos := -1
		if len(flat) > 0 {
			pos = flat[len(flat)-1].Pos
		}
		if len(operands) == 0 {
			return nil, nil, newMismatchError(pos, "empty expression")
		}
		return nil, nil, newMismatchError(pos, "expression ends with an operator")
	}

	return operands, ops, nil
}

// reduce applies operators by priority using an operand stack and an
// operator stack. Equal-priority operators associate to the left, except ^
// which associates to the right.
func (c *Calculator) reduce(ctx context.Context, operands []operand, ops []binaryOp) (operand, error) {
	vals := make([]operand, 1, len(operands))
	vals[0] = operands[0]
	stack := make([]binaryOp, 0, len(ops))

	apply := func() error {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		a, b := vals[len(vals)-2], vals[len(vals)-1]
		v, err := top.op.apply(a.val, b.val)
		if err != nil {
			return newArithmeticError(top.pos, err.Error())
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return newArithmeticError(top.pos, errOutOfRange.Error())
		}
		vals = append(vals[:len(vals)-2], operand{val: v, pos: a.pos, end: b.end})
		return c.yield(ctx)
	}

	for i, cur := range ops {
		for len(stack) > 0 && bindsBefore(stack[len(stack)-1].op, cur.op) {
			if err := apply(); err != nil {
				return operand{}, err
			}
		}
		stack = append(stack, cur)
		vals = append(vals, operands[i+1])
	}
	for len(stack) > 0 {
		if err := apply(); err != nil {
			return operand{}, err
		}
	}

	return vals[0], nil
}

// bindsBefore reports whether the stacked operator top must be applied before
// pushing cur.
func bindsBefore(top, cur operator) bool {
	if top.prec != cur.prec {
		return top.prec > cur.prec
	}
	return !cur.right
}
