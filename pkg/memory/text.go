package memory

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// stopwords are excluded from tag derivation and overlap scoring so that
// filler words do not inflate lexical similarity.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "do": {}, "does": {}, "for": {}, "from": {},
	"had": {}, "has": {}, "have": {}, "he": {}, "her": {}, "his": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {}, "my": {},
	"of": {}, "on": {}, "or": {}, "our": {}, "she": {}, "so": {},
	"that": {}, "the": {}, "their": {}, "them": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "will": {}, "with": {}, "you": {},
	"your": {},
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// contentTokens returns the deduped, stopword-filtered token set of text.
func contentTokens(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range tokenize(text) {
		if len(tok) < 2 {
			continue
		}
		if _, ok := stopwords[tok]; ok {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

// tokenOverlap is the Jaccard ratio of the two texts' token sets in [0,1].
func tokenOverlap(a, b string) float64 {
	sa := contentTokens(a)
	sb := contentTokens(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// deriveTags turns free text into a bounded set of normalized tags.
func deriveTags(text string, max int) []string {
	if max <= 0 {
		max = 8
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, max)
	for _, tok := range tokenize(text) {
		if len(tok) < 3 {
			continue
		}
		if _, ok := stopwords[tok]; ok {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) >= max {
			break
		}
	}
	return out
}

// buildFTSQuery converts free text into a quoted OR query for FTS5.
func buildFTSQuery(text string) string {
	seen := map[string]struct{}{}
	quoted := make([]string, 0, 8)
	for _, tok := range tokenize(text) {
		if len(tok) < 2 {
			continue
		}
		if _, ok := stopwords[tok]; ok {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		tok = strings.ReplaceAll(tok, `"`, `""`)
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// normalizeQuery canonicalizes query text for cache keying.
func normalizeQuery(query string) string {
	return strings.Join(tokenize(query), " ")
}
