package errormgr

// Match reports whether the sequence input matches the sequence of
// patterns patt. A pattern element for which isStar returns true matches
// zero or more input elements, one for which isQuery returns true matches
// exactly one. Any other pattern element matches one input element for
// which eq returns true.
//
// When matchAll is false a pattern exhausted before the input still
// matches: only a prefix of the input has to match.
func Match[P, I any](matchAll bool, patt []P, input []I, isStar, isQuery func(P) bool, eq func(P, I) bool) bool {
	for {
		havePatt, haveInput := len(patt) > 0, len(input) > 0
		if !havePatt && !haveInput {
			return true
		}
		if !matchAll && !havePatt {
			return true
		}
		if havePatt && isStar(patt[0]) {
			for i := 0; i <= len(input); i++ {
				if Match(matchAll, patt[1:], input[i:], isStar, isQuery, eq) {
					return true
				}
			}
			return false
		}
		if !havePatt || !haveInput {
			return false
		}
		if !isQuery(patt[0]) && !eq(patt[0], input[0]) {
			return false
		}
		patt, input = patt[1:], input[1:]
	}
}

// StringMatch reports whether s matches the glob pattern, where '*'
// matches any run of characters and '?' any single character.
func StringMatch(pattern, s string) bool {
	return Match(true, []rune(pattern), []rune(s),
		func(r rune) bool { return r == '*' },
		func(r rune) bool { return r == '?' },
		func(p, c rune) bool { return p == c })
}
