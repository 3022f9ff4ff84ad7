package calc

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"2+2", 4},
		{"2 + 2 * 2 - (2 + 2) ** 2", -10},
		{"-3+5", 2},
		{"10 // 3", 3},
		{"42", 42},
		{"2*3+4", 10},
		{"2+3*4", 14},
		{"(1+2)*3", 9},
		{"((2))", 2},
		{"1,5 + 1,5", 3},
		{".5+.5", 1},
		{"5.", 5},
		{"2**3", 8},
		{"2* *3", 8},
		{"(2)^(3)", 8},
		{"2*-3", -6},
		{"2--3", 5},
		{"2^-1", 0.5},
		{"-(2+3)", -5},
		{"-(-5)", 5},
		{"2*(3-(4-5))", 8},
		{"7//2", 3},
		{"7//-2", -4},
		{"-7//2", -4},
		{"7.5//2", 3},
		{"1/4", 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Evaluate(tt.input, DefaultParenthesesLimit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateFloatingPoint(t *testing.T) {
	got, err := Evaluate("0.1+0.2", NoLimit)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, got, 1e-12)

	got, err = Evaluate("2^(1/2)", NoLimit)
	require.NoError(t, err)
	assert.InDelta(t, 1.4142135623730951, got, 1e-12)
}

func TestAssociativity(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		// Left-associative.
		{"10-2-3", 5},
		{"100/10/5", 2},
		{"100//7//2", 7},
		{"2*3/4*8", 12},
		{"1-2+3", 2},
		// Right-associative.
		{"2^3^2", 512},
		{"2**3**2", 512},
		{"(2^3)^2", 64},
		// The sign belongs to the literal.
		{"-3^2", 9},
		{"-3**2", 9},
		{"0-3^2", -9},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Evaluate(tt.input, NoLimit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		input string
		want  error
	}{
		{"(1+2", ErrUnbalancedParentheses},
		{"1+2)", ErrUnbalancedParentheses},
		{")(", ErrUnbalancedParentheses},
		{"((1)", ErrUnbalancedParentheses},
		{"1..2+3", ErrMalformedNumber},
		{"1.2.3", ErrMalformedNumber},
		{".", ErrMalformedNumber},
		{"1+.", ErrMalformedNumber},
		{"1+", ErrOperandOperatorCountMismatch},
		{"", ErrOperandOperatorCountMismatch},
		{"   ", ErrOperandOperatorCountMismatch},
		{"()", ErrOperandOperatorCountMismatch},
		{"()()", ErrOperandOperatorCountMismatch},
		{"(1)(2)", ErrOperandOperatorCountMismatch},
		{"2(3)", ErrOperandOperatorCountMismatch},
		{"+5", ErrOperandOperatorCountMismatch},
		{"--5", ErrOperandOperatorCountMismatch},
		{"*", ErrOperandOperatorCountMismatch},
		{"(-)", ErrOperandOperatorCountMismatch},
		{"2*/3", ErrUnknownOperator},
		{"2---3", ErrUnknownOperator},
		{"2***3", ErrUnknownOperator},
		{"2+-+3", ErrUnknownOperator},
		{"2a", ErrUnknownSymbol},
		{"2%3", ErrUnknownSymbol},
		{"x", ErrUnknownSymbol},
		{"2×3", ErrUnknownSymbol},
		{"1/0", ErrArithmetic},
		{"1//0", ErrArithmetic},
		{"1/(2-2)", ErrArithmetic},
		{"0^-1", ErrArithmetic},
		{"(0-8)^(1/3)", ErrArithmetic},
		{"10^400", ErrArithmetic},
		{"1" + strings.Repeat("0", 400), ErrArithmetic},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Evaluate(tt.input, DefaultParenthesesLimit)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsIncorrectQuery(err))
		})
	}
}

func TestErrorDetails(t *testing.T) {
	_, err := Evaluate("12+3a", NoLimit)
	require.Error(t, err)

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindUnknownSymbol, ce.Kind)
	assert.Equal(t, 4, ce.Pos)
	assert.Contains(t, ce.Error(), "UnknownSymbol")
	assert.Contains(t, ce.Error(), "position 4")
	assert.Equal(t, KindUnknownSymbol, KindOf(err))

	_, err = Evaluate("4+2/0", NoLimit)
	require.Error(t, err)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindArithmeticError, ce.Kind)
	assert.Equal(t, 3, ce.Pos)
	assert.Contains(t, ce.Message, "division by zero")

	assert.Equal(t, Kind(""), KindOf(context.Canceled))
	assert.False(t, IsIncorrectQuery(context.Canceled))
}

func TestParenthesesLimit(t *testing.T) {
	nested := func(depth int) string {
		return strings.Repeat("(", depth) + "1" + strings.Repeat(")", depth)
	}

	tests := []struct {
		name    string
		limit   int
		input   string
		wantErr error
	}{
		{"exactly at limit", 3, nested(3), nil},
		{"one over limit", 3, nested(4), ErrDepthExceeded},
		{"sequential groups count by depth", 1, "(1)+(2)+(3)", nil},
		{"zero forbids parentheses", 0, "(1)", ErrDepthExceeded},
		{"zero allows flat expressions", 0, "1+1", nil},
		{"no limit", NoLimit, nested(500), nil},
		{"negative means no limit", -7, nested(150), nil},
		{"default limit", DefaultParenthesesLimit, nested(DefaultParenthesesLimit), nil},
		{"over default limit", DefaultParenthesesLimit, nested(DefaultParenthesesLimit + 1), ErrDepthExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.input, tt.limit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, got)
		})
	}
}

func TestSanitizeIdempotence(t *testing.T) {
	inputs := []string{
		"2 + 2 * 2 - (2 + 2) ** 2",
		"1,5 * 4",
		"  -3 +\t5\n",
		"2 ** 3 ** 2",
		"10 // 3",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			clean := Sanitize(in)
			assert.Equal(t, clean, Sanitize(clean))

			want, err := Evaluate(in, NoLimit)
			require.NoError(t, err)
			got, err := Evaluate(clean, NoLimit)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestGroupCollapseRoundTrip(t *testing.T) {
	tests := []struct {
		expr  string
		group string
	}{
		{"2*(3+4)-5", "(3+4)"},
		{"2*(1-4)", "(1-4)"},
		{"10/(4*(1+1))", "(1+1)"},
		{"10/(4*(1+1))", "(4*(1+1))"},
		{"(2^2)^3", "(2^2)"},
		{"1-(0.5*0.5)", "(0.5*0.5)"},
		{"3//(7-9)", "(7-9)"},
	}

	for _, tt := range tests {
		t.Run(tt.expr+" "+tt.group, func(t *testing.T) {
			whole, err := Evaluate(tt.expr, NoLimit)
			require.NoError(t, err)

			sub, err := Evaluate(tt.group, NoLimit)
			require.NoError(t, err)

			spliced := strings.Replace(tt.expr, tt.group, FormatNumber(sub), 1)
			got, err := Evaluate(spliced, NoLimit)
			require.NoError(t, err, "spliced expression %q", spliced)
			assert.Equal(t, whole, got)
		})
	}
}

type countingYielder struct {
	calls int
	stop  int
}

var errStopped = errors.New("stopped")

func (y *countingYielder) Yield(ctx context.Context) error {
	y.calls++
	if y.stop > 0 && y.calls >= y.stop {
		return errStopped
	}
	return ctx.Err()
}

func TestYieldPoints(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		// group + flat reduction + one per operation
		{"1", 2},
		{"1+2*3", 4},
		{"(1+2)*3", 6},
		{"((1))", 6},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			y := &countingYielder{}
			c := New(WithYielder(y))
			_, err := c.Evaluate(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, y.calls)
		})
	}
}

func TestYielderErrorAborts(t *testing.T) {
	y := &countingYielder{stop: 3}
	c := New(WithYielder(y))

	_, err := c.Evaluate(context.Background(), "1+2+3+4")
	assert.ErrorIs(t, err, errStopped)
	assert.False(t, IsIncorrectQuery(err))
	assert.Equal(t, 3, y.calls)
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Evaluate(ctx, "1+1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateConcurrentUse(t *testing.T) {
	c := New()
	done := make(chan float64, 50)
	for i := 0; i < 50; i++ {
		go func() {
			v, err := c.Evaluate(context.Background(), "2 + 2 * 2 - (2 + 2) ** 2")
			if err != nil {
				done <- 0
				return
			}
			done <- v
		}()
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, float64(-10), <-done)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{4, "4"},
		{-10, "-10"},
		{0.5, "0.5"},
		{sum(0.1, 0.2), "0.30000000000000004"},
		{1.0 / 3, "0.3333333333333333"},
		{0, "0"},
		{math.Copysign(0, -1), "0"},
		{1e15, "1000000000000000"},
		{1e16, "1e+16"},
		{1.5e20, "1.5e+20"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{-2.5e-7, "-2.5e-07"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatNumber(tt.in))
		})
	}
}

// sum adds at run time, so the result is not folded as an exact constant.
func sum(a, b float64) float64 {
	return a + b
}

func TestEvaluateKeepsFloatRounding(t *testing.T) {
	v, err := Evaluate("0.1+0.2", NoLimit)
	require.NoError(t, err)
	assert.Equal(t, "0.30000000000000004", FormatNumber(v))
}
