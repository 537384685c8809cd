package memory

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// FallbackConfidence is the fixed confidence assigned to rule-extracted
// candidates. Deliberately below the primary-path creation threshold so the
// two sources stay distinguishable in stored records.
const FallbackConfidence = 0.3

// ExtractionResult is the outcome of one extraction pass.
type ExtractionResult struct {
	Candidates   []ScoredCandidate
	UsedFallback bool
}

// Extractor turns interaction text plus recognized candidate facts into
// scored memory candidates.
type Extractor interface {
	Extract(ctx context.Context, interactionText string, facts []CandidateFact) (ExtractionResult, error)
}

var (
	prefRegex       = regexp.MustCompile(`(?i)\b(i (?:really )?(?:like|love|prefer|hate|dislike)\b[^.!?\n]{2,160})`)
	identityRegex   = regexp.MustCompile(`(?i)\b(?:my name is|call me)\s+([A-Za-z0-9 _\-]{2,50})`)
	habitRegex      = regexp.MustCompile(`(?i)\b(i (?:always|usually|never)\b[^.!?\n]{2,160})`)
	correctionRegex = regexp.MustCompile(`(?i)\b(?:actually|no[,.]? i meant|that's wrong|not what i)\b`)
	sentenceSplit   = regexp.MustCompile(`[.!?\n;]+`)
)

// defaultImportance maps memory types to a deterministic importance used by
// the rule path, which has no model judgment to lean on.
var defaultImportance = map[Type]int{
	TypePreference: 3,
	TypePattern:    2,
	TypeInsight:    3,
	TypeFact:       2,
	TypeToolUsage:  2,
	TypeBehavior:   2,
	TypeRoutine:    3,
	TypeCorrection: 4,
}

// RuleExtractor is the deterministic fallback extraction path. It promotes
// recognizer facts and applies keyword heuristics over the interaction text.
type RuleExtractor struct {
	MaxCandidates int
}

func NewRuleExtractor(maxCandidates int) *RuleExtractor {
	if maxCandidates <= 0 {
		maxCandidates = 8
	}
	return &RuleExtractor{MaxCandidates: maxCandidates}
}

func (e *RuleExtractor) Extract(_ context.Context, interactionText string, facts []CandidateFact) (ExtractionResult, error) {
	seen := map[string]struct{}{}
	out := []ScoredCandidate{}
	add := func(c ScoredCandidate) {
		c.Content = strings.TrimSpace(c.Content)
		if c.Content == "" || len(c.Content) > MaxContentBytes {
			return
		}
		key := strings.ToLower(c.Content)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		c.Tags = NormalizeTags(c.Tags)
		c.Confidence = FallbackConfidence
		if c.Importance == 0 {
			c.Importance = defaultImportance[c.Type]
		}
		out = append(out, c)
	}

	for _, fact := range facts {
		typ := fact.SuggestedType
		if !typ.Valid() {
			typ = TypePattern
		}
		imp := defaultImportance[typ]
		if fact.EvidenceCount >= 3 && imp < 5 {
			imp++
		}
		add(ScoredCandidate{
			Content:       fact.Text,
			Type:          typ,
			Tags:          fact.SuggestedTags,
			Importance:    imp,
			SourceExcerpt: excerpt(fact.Text),
		})
	}

	for _, m := range prefRegex.FindAllStringSubmatch(interactionText, -1) {
		add(ScoredCandidate{
			Content:       m[1],
			Type:          TypePreference,
			Tags:          deriveTags(m[1], 5),
			SourceExcerpt: excerpt(m[1]),
		})
	}

	for _, m := range habitRegex.FindAllStringSubmatch(interactionText, -1) {
		typ := TypeBehavior
		if recurringCueRegex.MatchString(m[1]) || clockTimeRegex.MatchString(m[1]) {
			typ = TypeRoutine
		}
		add(ScoredCandidate{
			Content:       m[1],
			Type:          typ,
			Tags:          deriveTags(m[1], 5),
			SourceExcerpt: excerpt(m[1]),
		})
	}

	for _, m := range identityRegex.FindAllStringSubmatch(interactionText, -1) {
		add(ScoredCandidate{
			Content:       "User identity hint: " + strings.TrimSpace(m[1]),
			Type:          TypeFact,
			Tags:          []string{"identity"},
			SourceExcerpt: excerpt(m[1]),
		})
	}

	if correctionRegex.MatchString(interactionText) {
		for _, sentence := range sentenceSplit.Split(interactionText, -1) {
			if !correctionRegex.MatchString(sentence) {
				continue
			}
			add(ScoredCandidate{
				Content:       "Correction from user: " + strings.TrimSpace(sentence),
				Type:          TypeCorrection,
				Tags:          deriveTags(sentence, 5),
				SourceExcerpt: excerpt(sentence),
			})
		}
	}

	return ExtractionResult{
		Candidates:   rankCandidates(out, e.MaxCandidates),
		UsedFallback: true,
	}, nil
}

// rankCandidates orders by confidence descending (importance breaks ties)
// and truncates to max.
func rankCandidates(cands []ScoredCandidate, max int) []ScoredCandidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Confidence == cands[j].Confidence {
			return cands[i].Importance > cands[j].Importance
		}
		return cands[i].Confidence > cands[j].Confidence
	})
	if max > 0 && len(cands) > max {
		cands = cands[:max]
	}
	return cands
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 160 {
		text = text[:160] + "..."
	}
	return text
}
