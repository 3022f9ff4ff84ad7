package calc

import (
	"strings"
	"unicode"
)

// NoLimit disables the parentheses nesting limit.
const NoLimit = -1

// Sanitize normalizes raw user input: commas become decimal points, all
// whitespace is removed and the ** exponent operator is rewritten to ^.
func Sanitize(raw string) string {
	s := strings.ReplaceAll(raw, ",", ".")
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.ReplaceAll(s, "**", "^")
}

// Validate checks that parentheses in expr are balanced and nested no deeper
// than maxDepth. A negative maxDepth (see NoLimit) disables the depth check;
// zero forbids parentheses entirely.
func Validate(expr string, maxDepth int) error {
	depth := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
			if maxDepth >= 0 && depth > maxDepth {
				return newDepthExceededError(i, maxDepth)
			}
		case ')':
			depth--
			if depth < 0 {
				return newUnbalancedError(i, "closing parenthesis without matching opening one")
			}
		}
	}
	if depth != 0 {
		return newUnbalancedError(len(expr), "unclosed parenthesis")
	}
	return nil
}
