package route

import (
	"strings"
	"unicode"
)

// text is a command or keyword in comparable form: lowercase words
// separated by single spaces, plus the same with no spaces at all.
type text struct {
	spaced    string
	collapsed string
}

func normalize(s string) text {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, s)
	spaced := strings.Join(strings.Fields(mapped), " ")
	return text{spaced: spaced, collapsed: strings.ReplaceAll(spaced, " ", "")}
}

// contains reports whether keyword occurs in t, with or without its inner
// spaces.
func (t text) contains(keyword text) bool {
	if keyword.spaced == "" {
		return false
	}
	return strings.Contains(t.spaced, keyword.spaced) || strings.Contains(t.collapsed, keyword.collapsed)
}
