package text_match

import (
	"fmt"
	"strings"
)

// Thresholds holds every cutoff used by the matchers.
type Thresholds struct {
	// CallsignMinRatio is the strict cutoff for the token that tells sibling units apart.
	CallsignMinRatio float64
	// PrefixMinRatio is the loose cutoff for the shared prefix words.
	PrefixMinRatio float64

	FirstTokenCutoff    float64
	InteriorTokenCutoff float64
	LastTokenCutoff     float64
	PhraseMinHits       int
}

var DefaultThresholds = Thresholds{
	CallsignMinRatio:    0.82,
	PrefixMinRatio:      0.70,
	FirstTokenCutoff:    0.85,
	InteriorTokenCutoff: 0.80,
	LastTokenCutoff:     0.90,
	PhraseMinHits:       3,
}

type MatchKind string

const (
	MatchKindName   MatchKind = "name"
	MatchKindPhrase MatchKind = "phrase"
)

// MatchEvent describes one successful match. It is logged and dropped.
type MatchEvent struct {
	Kind       MatchKind
	Raw        string
	Normalized string
	Target     string
	Score      float64
}

type WakeOptions struct {
	Prefixes          []string
	AllowCallsignOnly bool
	Thresholds        Thresholds
}

type WakeResult struct {
	Matched bool
	Score   float64
	Reason  string
}

// MatchWakeName decides whether normalized text names this unit. The callsign must match
// strongly somewhere in the utterance; a prefix word may match loosely.
func MatchWakeName(text, callsign string, opts WakeOptions) WakeResult {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return WakeResult{Reason: "no tokens"}
	}
	if callsign == "" {
		return WakeResult{Reason: "no callsign"}
	}

	score := bestRatio(callsign, tokens)
	if score < opts.Thresholds.CallsignMinRatio {
		return WakeResult{Score: score, Reason: fmt.Sprintf("callsign_no (best=%.2f)", score)}
	}

	for _, prefix := range opts.Prefixes {
		if bestRatio(prefix, tokens) >= opts.Thresholds.PrefixMinRatio {
			return WakeResult{Matched: true, Score: score, Reason: "ok(prefix+callsign)"}
		}
	}

	if opts.AllowCallsignOnly {
		return WakeResult{Matched: true, Score: score, Reason: "ok(callsign-only)"}
	}

	return WakeResult{Score: score, Reason: "prefix_no"}
}

// MatchPhrase fuzzy-matches normalized text against a script phrase. The last target token
// is mandatory: when its best similarity is under LastTokenCutoff the match fails outright.
func MatchPhrase(target, text string, th Thresholds) (bool, float64) {
	target = Normalize(target)
	targetTokens := strings.Fields(target)
	textTokens := strings.Fields(text)

	if len(targetTokens) == 0 || len(textTokens) == 0 {
		return false, 0
	}

	// literal containment, so "talk" also hits "talking"
	if strings.Contains(text, target) {
		return true, 1
	}

	var (
		hits     int
		scoreSum float64
		last     = len(targetTokens) - 1
	)

	for i, tok := range targetTokens {
		best := bestRatio(tok, textTokens)

		cutoff := th.InteriorTokenCutoff
		switch i {
		case last:
			cutoff = th.LastTokenCutoff
		case 0:
			cutoff = th.FirstTokenCutoff
		}

		if best >= cutoff {
			hits++
			scoreSum += best
			continue
		}

		if i == last {
			return false, 0
		}
	}

	if hits == 0 || hits < min(th.PhraseMinHits, len(targetTokens)) {
		return false, 0
	}

	return true, scoreSum / float64(hits)
}
