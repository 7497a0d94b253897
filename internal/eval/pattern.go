package eval

import (
	"strings"
	"unicode"

	"pgkv/internal/value"
)

// evalLike implements LIKE/ILIKE with `_`/`%` wildcards (spec §4.4). ILIKE
// folds both sides to simple Unicode lowercase before matching.
func evalLike(lv, pv value.Value, ci, negate bool) (value.Value, error) {
	if lv.IsNull() || pv.IsNull() {
		return value.Null(), nil
	}
	text := value.ToText(lv)
	pattern := value.ToText(pv)
	if ci {
		text = strings.ToLower(text)
		pattern = strings.ToLower(pattern)
	}
	match := likeMatch([]rune(text), []rune(pattern))
	if negate {
		match = !match
	}
	return value.Bool(match), nil
}

// likeMatch is a classic backtracking matcher over `_` (any one rune) and
// `%` (any run of runes, including empty).
func likeMatch(text, pattern []rune) bool {
	var ti, pi, starIdx, matchIdx int
	starIdx = -1
	for ti < len(text) {
		if pi < len(pattern) && pattern[pi] == '_' {
			ti++
			pi++
		} else if pi < len(pattern) && pattern[pi] != '%' && unicode.ToLower(pattern[pi]) == unicode.ToLower(text[ti]) {
			ti++
			pi++
		} else if pi < len(pattern) && pattern[pi] == '%' {
			starIdx = pi
			matchIdx = ti
			pi++
		} else if starIdx != -1 {
			pi = starIdx + 1
			matchIdx++
			ti = matchIdx
		} else {
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '%' {
		pi++
	}
	return pi == len(pattern)
}
