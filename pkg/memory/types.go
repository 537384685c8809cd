package memory

import "strings"

// Type classifies long-term memory records.
type Type string

const (
	TypePreference Type = "preference"
	TypePattern    Type = "pattern"
	TypeInsight    Type = "insight"
	TypeFact       Type = "fact"
	TypeToolUsage  Type = "tool_usage"
	TypeBehavior   Type = "behavior"
	TypeRoutine    Type = "routine"
	TypeCorrection Type = "correction"
)

var validTypes = map[Type]bool{
	TypePreference: true,
	TypePattern:    true,
	TypeInsight:    true,
	TypeFact:       true,
	TypeToolUsage:  true,
	TypeBehavior:   true,
	TypeRoutine:    true,
	TypeCorrection: true,
}

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool { return validTypes[t] }

// AllTypes returns every memory type in a stable order.
func AllTypes() []Type {
	return []Type{
		TypePreference, TypePattern, TypeInsight, TypeFact,
		TypeToolUsage, TypeBehavior, TypeRoutine, TypeCorrection,
	}
}

// State is the lifecycle state of a record.
type State string

const (
	StateActive       State = "active"
	StateArchived     State = "archived"
	StateConsolidated State = "consolidated"
)

// MaxContentBytes bounds record content length.
const MaxContentBytes = 2048

// Record is the persisted unit of learned knowledge about one owner.
type Record struct {
	ID               string   `json:"id"`
	OwnerID          string   `json:"owner_id"`
	Content          string   `json:"content"`
	Type             Type     `json:"memory_type"`
	Tags             []string `json:"tags,omitempty"`
	Importance       int      `json:"importance"`
	Confidence       float64  `json:"confidence"`
	QualityScore     float64  `json:"quality_score"`
	SourceExcerpt    string   `json:"source_excerpt,omitempty"`
	CreatedAtMS      int64    `json:"created_at_ms"`
	LastAccessedAtMS int64    `json:"last_accessed_at_ms"`
	AccessCount      int      `json:"access_count"`
	State            State    `json:"state"`
	ConsolidatedInto string   `json:"consolidated_into,omitempty"`
}

// ScoredRecord pairs a record with its retrieval score.
type ScoredRecord struct {
	Record
	Score float64 `json:"score"`
}

// Turn is one conversation exchange supplied by the session provider.
type Turn struct {
	Role    string
	Content string
	AtMS    int64
}

// ToolCall is one tool invocation from the session trace.
type ToolCall struct {
	Name    string
	Params  map[string]string
	Success bool
	AtMS    int64
}

// SessionData is the read-only session state passed into learning.
type SessionData struct {
	History   []Turn
	ToolCalls []ToolCall
}

// CandidateFact is an unscored fact proposed by pattern analysis.
type CandidateFact struct {
	Text          string
	SuggestedType Type
	SuggestedTags []string
	EvidenceCount int
}

// ScoredCandidate is an extracted fact awaiting threshold filtering.
type ScoredCandidate struct {
	Content       string   `json:"content"`
	Type          Type     `json:"memory_type"`
	Tags          []string `json:"tags"`
	Importance    int      `json:"importance"`
	Confidence    float64  `json:"confidence"`
	SourceExcerpt string   `json:"-"`
}

// NormalizeTags lowercases, trims and dedupes a tag list.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// HasTag reports whether the record carries the given normalized tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
