package text_match

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// canon rewrites tokens the recognizer is known to confuse.
var canon = map[string]string{
	"twins": "twin",
	"skull": "scout",
	"alfa":  "alpha",
}

// Normalize lowercases text, turns '-', '_' and anything outside [a-z0-9] into spaces,
// collapses whitespace and applies the canonical token table.
func Normalize(text string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return ' '
	}, text)

	tokens := strings.Fields(mapped)
	for i, tok := range tokens {
		if c, ok := canon[tok]; ok {
			tokens[i] = c
		}
	}

	return strings.Join(tokens, " ")
}

// Ratio is the SequenceMatcher similarity of a and b over characters, in [0, 1].
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	return difflib.NewMatcher(chars(a), chars(b)).Ratio()
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// bestRatio is the highest Ratio between target and any token.
func bestRatio(target string, tokens []string) float64 {
	best := 0.0
	for _, tok := range tokens {
		if r := Ratio(target, tok); r > best {
			best = r
		}
	}
	return best
}
