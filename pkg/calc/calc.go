package calc

import (
	"context"
	"math"
	"strconv"
)

// DefaultParenthesesLimit is the nesting limit used when none is configured.
const DefaultParenthesesLimit = 100

// Yielder hands control back to a cooperative scheduler. The calculator calls
// Yield at the start of every group resolution, at the start of every flat
// reduction and after every pairwise operation. A non-nil error aborts the
// evaluation.
type Yielder interface {
	Yield(ctx context.Context) error
}

// Calculator evaluates arithmetic expressions. A Calculator holds no
// per-evaluation state and is safe for concurrent use.
type Calculator struct {
	limit   int
	yielder Yielder
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithParenthesesLimit sets the maximum parentheses nesting depth. Use
// NoLimit to disable the check; 0 forbids parentheses.
func WithParenthesesLimit(n int) Option {
	return func(c *Calculator) {
		if n < 0 {
			n = NoLimit
		}
		c.limit = n
	}
}

// WithYielder sets the scheduler the calculator yields to.
func WithYielder(y Yielder) Option {
	return func(c *Calculator) {
		c.yielder = y
	}
}

// New creates a calculator.
func New(opts ...Option) *Calculator {
	c := &Calculator{limit: DefaultParenthesesLimit}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limit returns the configured parentheses nesting limit.
func (c *Calculator) Limit() int {
	return c.limit
}

// Evaluate sanitizes, validates and evaluates raw, returning a finite result
// or the first error encountered. Cancelling ctx stops the evaluation at the
// next yield point.
func (c *Calculator) Evaluate(ctx context.Context, raw string) (float64, error) {
	expr := Sanitize(raw)
	if err := Validate(expr, c.limit); err != nil {
		return 0, err
	}

	tokens, err := NewLexer(expr).Tokenize()
	if err != nil {
		return 0, err
	}

	return c.Resolve(ctx, tokens)
}

// Evaluate is a convenience wrapper evaluating raw with the given nesting
// limit and no scheduler.
func Evaluate(raw string, maxParens int) (float64, error) {
	return New(WithParenthesesLimit(maxParens)).Evaluate(context.Background(), raw)
}

func (c *Calculator) yield(ctx context.Context) error {
	if c.yielder != nil {
		return c.yielder.Yield(ctx)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// FormatNumber renders a result the way it is shown to users: the shortest
// representation that round-trips, without a trailing ".0", and in exponent
// form for very large or very small magnitudes.
func FormatNumber(v float64) string {
	if v == 0 {
		return "0"
	}
	if abs := math.Abs(v); abs >= 1e16 || abs < 1e-4 {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
