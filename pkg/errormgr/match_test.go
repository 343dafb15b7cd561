package errormgr

import "testing"

func TestStringMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"", "", true},
		{"*", "", true},
		{"*", "anything", true},
		{"?", "", false},
		{"f?o", "foo", true},
		{"f?o", "fo", false},
		{"foo", "foobar", false},
		{"foo*", "foobar", true},
		{"*bar", "foobar", true},
		{"*bar", "foobarx", false},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxbyy", false},
		{"lib*.so*", "libc.so.6", true},
		{"_ZN?ü*", "_ZNxü1", true},
	}
	for _, tc := range tests {
		if got := StringMatch(tc.pattern, tc.s); got != tc.want {
			t.Errorf("StringMatch(%q, %q): expected %v got %v", tc.pattern, tc.s, tc.want, got)
		}
	}
}

func TestMatchPrefix(t *testing.T) {
	isStar := func(p string) bool { return p == "..." }
	isQuery := func(string) bool { return false }
	eq := func(p, s string) bool { return StringMatch(p, s) }

	input := []string{"foo", "bar", "baz", "main", "extra"}
	tests := []struct {
		patt     []string
		matchAll bool
		want     bool
	}{
		{[]string{"foo", "...", "main"}, false, true},
		{[]string{"foo", "...", "main"}, true, false},
		{[]string{"foo", "...", "main", "..."}, true, true},
		{[]string{"foo", "b*"}, false, true},
		{[]string{"bar"}, false, false},
		{[]string{"...", "baz"}, false, true},
		{[]string{"foo", "...", "nothere"}, false, false},
		{[]string{"foo", "bar", "baz", "main", "extra", "more"}, false, false},
		{[]string{"foo", "bar", "baz", "main", "extra", "..."}, false, true},
		{nil, false, true},
		{nil, true, false},
	}
	for _, tc := range tests {
		if got := Match(tc.matchAll, tc.patt, input, isStar, isQuery, eq); got != tc.want {
			t.Errorf("%q (matchAll %v): expected %v got %v", tc.patt, tc.matchAll, tc.want, got)
		}
	}
}
