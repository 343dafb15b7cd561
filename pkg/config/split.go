package config

import (
	"strings"
	"unicode"
)

// SplitQuotedFields splits in at white space, like strings.Fields, except
// that white space between two quote characters is kept. A backslash
// inside a quoted area escapes the next character.
// It is used to split the argument string passed to scripts.
func SplitQuotedFields(in string, quote rune) []string {
	type stateEnum int
	const (
		inSpace stateEnum = iota
		inField
		inQuote
		inQuoteEscaped
	)
	state := inSpace
	r := []string{}
	var buf strings.Builder
	flush := func() {
		r = append(r, buf.String())
		buf.Reset()
	}

	for _, ch := range in {
		switch state {
		case inSpace:
			switch {
			case ch == quote:
				state = inQuote
			case !unicode.IsSpace(ch):
				buf.WriteRune(ch)
				state = inField
			}
		case inField:
			switch {
			case ch == quote:
				state = inQuote
			case unicode.IsSpace(ch):
				flush()
				state = inSpace
			default:
				buf.WriteRune(ch)
			}
		case inQuote:
			switch ch {
			case quote:
				state = inField
			case '\\':
				state = inQuoteEscaped
			default:
				buf.WriteRune(ch)
			}
		case inQuoteEscaped:
			buf.WriteRune(ch)
			state = inQuote
		}
	}

	if state != inSpace {
		flush()
	}

	return r
}
