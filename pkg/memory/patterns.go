package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dotsetgreg/engram/pkg/logger"
)

var (
	questionLeadRegex = regexp.MustCompile(`(?i)^\s*(?:what|why|how|when|where|who|can|could|would|do|does|did|is|are|am)\b`)
	recurringCueRegex = regexp.MustCompile(`(?i)\b(always|every (?:day|morning|evening|night|week|monday|tuesday|wednesday|thursday|friday|saturday|sunday)|each (?:day|morning|evening|week)|usually|daily|weekly)\b`)
	clockTimeRegex    = regexp.MustCompile(`(?i)\b(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
)

// PatternRecognizer derives candidate facts from conversation history and
// tool-call traces without touching the language model.
type PatternRecognizer struct {
	// MinEvidence is the repetition threshold for a topic or tool pattern.
	MinEvidence int
}

func NewPatternRecognizer() *PatternRecognizer {
	return &PatternRecognizer{MinEvidence: 2}
}

// Analyze runs the three analyses independently and concatenates their
// output. A failure inside one analysis yields an empty list for that
// analysis only.
func (p *PatternRecognizer) Analyze(history []Turn, trace []ToolCall) []CandidateFact {
	out := []CandidateFact{}
	out = append(out, p.safeAnalyze("conversation_flow", func() []CandidateFact {
		return p.analyzeConversation(history)
	})...)
	out = append(out, p.safeAnalyze("tool_usage", func() []CandidateFact {
		return p.analyzeToolUsage(trace)
	})...)
	out = append(out, p.safeAnalyze("temporal", func() []CandidateFact {
		return p.analyzeTemporal(history)
	})...)
	return out
}

func (p *PatternRecognizer) safeAnalyze(name string, fn func() []CandidateFact) (facts []CandidateFact) {
	defer func() {
		if r := recover(); r != nil {
			logger.WarnC("patterns", "analysis failed", map[string]any{
				"analysis": name,
				"cause":    fmt.Sprint(r),
			})
			facts = nil
		}
	}()
	return fn()
}

// analyzeConversation detects topics the user returned to at least
// MinEvidence times within the session.
func (p *PatternRecognizer) analyzeConversation(history []Turn) []CandidateFact {
	type topicStat struct {
		count     int
		questions int
		sample    string
	}
	topics := map[string]*topicStat{}
	order := []string{}

	for _, turn := range history {
		if turn.Role != "user" {
			continue
		}
		topic := topicKey(turn.Content)
		if topic == "" {
			continue
		}
		st, ok := topics[topic]
		if !ok {
			st = &topicStat{sample: strings.TrimSpace(turn.Content)}
			topics[topic] = st
			order = append(order, topic)
		}
		st.count++
		if isQuestion(turn.Content) {
			st.questions++
		}
	}

	out := []CandidateFact{}
	for _, topic := range order {
		st := topics[topic]
		if st.count < p.minEvidence() {
			continue
		}
		text := fmt.Sprintf("User repeatedly brings up %s", strings.ReplaceAll(topic, " ", ", "))
		suggested := TypePattern
		if st.questions >= p.minEvidence() {
			text = fmt.Sprintf("User repeatedly asks about %s", strings.ReplaceAll(topic, " ", ", "))
			suggested = TypeBehavior
		}
		out = append(out, CandidateFact{
			Text:          text,
			SuggestedType: suggested,
			SuggestedTags: strings.Fields(topic),
			EvidenceCount: st.count,
		})
	}
	return out
}

// analyzeToolUsage detects repeated invocations with consistent parameters
// (a routine) and repeated failures (a correction-worthy fact).
func (p *PatternRecognizer) analyzeToolUsage(trace []ToolCall) []CandidateFact {
	type toolStat struct {
		calls    int
		failures int
		sig      string
		params   map[string]string
	}
	bySig := map[string]*toolStat{}
	failures := map[string]int{}
	order := []string{}

	for _, call := range trace {
		if call.Name == "" {
			continue
		}
		sig := call.Name + "|" + paramSignature(call.Params)
		st, ok := bySig[sig]
		if !ok {
			st = &toolStat{sig: call.Name, params: call.Params}
			bySig[sig] = st
			order = append(order, sig)
		}
		st.calls++
		if !call.Success {
			st.failures++
			failures[call.Name]++
		}
	}

	out := []CandidateFact{}
	for _, sig := range order {
		st := bySig[sig]
		if st.calls < p.minEvidence() || st.failures > 0 {
			continue
		}
		text := fmt.Sprintf("User routinely uses the %s tool", st.sig)
		if desc := paramSummary(st.params); desc != "" {
			text += " with " + desc
		}
		out = append(out, CandidateFact{
			Text:          text,
			SuggestedType: TypeToolUsage,
			SuggestedTags: []string{st.sig, "tool"},
			EvidenceCount: st.calls,
		})
	}

	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		n := failures[name]
		if n < p.minEvidence() {
			continue
		}
		out = append(out, CandidateFact{
			Text:          fmt.Sprintf("The %s tool failed %d times this session; its usage likely needs correcting", name, n),
			SuggestedType: TypeCorrection,
			SuggestedTags: []string{name, "tool", "failure"},
			EvidenceCount: n,
		})
	}
	return out
}

// analyzeTemporal detects recurring time-of-day or day-of-week patterns,
// both from turn timestamps and from recurring-time phrases in the text.
func (p *PatternRecognizer) analyzeTemporal(history []Turn) []CandidateFact {
	hourHits := map[int]int{}
	hourSample := map[int]string{}
	out := []CandidateFact{}

	for _, turn := range history {
		if turn.Role != "user" {
			continue
		}
		if turn.AtMS > 0 {
			hour := time.UnixMilli(turn.AtMS).Hour()
			hourHits[hour]++
			if _, ok := hourSample[hour]; !ok {
				hourSample[hour] = topicKey(turn.Content)
			}
		}
		if recurringCueRegex.MatchString(turn.Content) {
			phrase := strings.TrimSpace(turn.Content)
			tags := deriveTags(phrase, 5)
			if m := clockTimeRegex.FindStringSubmatch(turn.Content); m != nil {
				tags = append(tags, strings.ToLower(m[0]))
			}
			out = append(out, CandidateFact{
				Text:          phrase,
				SuggestedType: TypeRoutine,
				SuggestedTags: tags,
				EvidenceCount: 1,
			})
		}
	}

	hours := make([]int, 0, len(hourHits))
	for hour := range hourHits {
		hours = append(hours, hour)
	}
	sort.Ints(hours)
	for _, hour := range hours {
		if hourHits[hour] < p.minEvidence() {
			continue
		}
		topic := hourSample[hour]
		text := fmt.Sprintf("User tends to make requests around %02d:00", hour)
		tags := []string{fmt.Sprintf("%02dh", hour)}
		if topic != "" {
			text = fmt.Sprintf("User tends to ask about %s around %02d:00", strings.ReplaceAll(topic, " ", ", "), hour)
			tags = append(tags, strings.Fields(topic)...)
		}
		out = append(out, CandidateFact{
			Text:          text,
			SuggestedType: TypeRoutine,
			SuggestedTags: tags,
			EvidenceCount: hourHits[hour],
		})
	}
	return out
}

func (p *PatternRecognizer) minEvidence() int {
	if p.MinEvidence < 2 {
		return 2
	}
	return p.MinEvidence
}

// topicKey reduces text to its most salient tokens so near-identical
// requests bucket together.
func topicKey(text string) string {
	tags := deriveTags(text, 3)
	if len(tags) == 0 {
		return ""
	}
	sort.Strings(tags)
	return strings.Join(tags, " ")
}

func isQuestion(text string) bool {
	return strings.Contains(text, "?") || questionLeadRegex.MatchString(text)
}

func paramSignature(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strings.ToLower(strings.TrimSpace(params[k])))
	}
	return strings.Join(parts, ",")
}

func paramSummary(params map[string]string) string {
	sig := paramSignature(params)
	if sig == "" {
		return ""
	}
	if len(sig) > 80 {
		sig = sig[:80] + "..."
	}
	return sig
}
