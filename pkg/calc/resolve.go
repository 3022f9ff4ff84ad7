package calc

import "context"

// Resolve evaluates a full token stream as produced by Lexer.Tokenize.
// Parenthesized groups are collapsed innermost first into number tokens and
// the remaining top-level run is reduced to the final value.
func (c *Calculator) Resolve(ctx context.Context, tokens []Token) (float64, error) {
	res, _, err := c.resolveGroup(ctx, tokens, 0, false)
	if err != nil {
		return 0, err
	}
	return res.Num, nil
}

// resolveGroup scans tokens from start until the group closes (or the input
// ends, for the top-level group) and returns the group's value along with
// the index just past the closing parenthesis.
func (c *Calculator) resolveGroup(ctx context.Context, tokens []Token, start int, nested bool) (Token, int, error) {
	if err := c.yield(ctx); err != nil {
		return Token{}, start, err
	}

	var flat []Token
	i := start
	for i < len(tokens) {
		tok := tokens[i]
		switch tok.Type {
		case TokenLParen:
			group, next, err := c.resolveGroup(ctx, tokens, i+1, true)
			if err != nil {
				return Token{}, next, err
			}
			group.Pos = tok.Pos
			flat = append(flat, group)
			i = next

		case TokenRParen:
			if !nested {
				return Token{}, i, newUnbalancedError(tok.Pos, "closing parenthesis without matching opening one")
			}
			res, err := c.Reduce(ctx, flat)
			if err != nil {
				return Token{}, i, err
			}
			res.End = tok.End
			return res, i + 1, nil

		case TokenEOF:
			i = len(tokens)

		default:
			flat = append(flat, tok)
			i++
		}
	}

	if nested {
		pos := 0
		if len(tokens) > 0 {
			pos = tokens[len(tokens)-1].Pos
		}
		return Token{}, i, newUnbalancedError(pos, "unclosed parenthesis")
	}

	res, err := c.Reduce(ctx, flat)
	return res, i, err
}
