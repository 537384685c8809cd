package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/dotsetgreg/engram/pkg/logger"
)

// CompleteFunc sends one prompt pair to the language model and returns the
// raw text of its reply.
type CompleteFunc func(ctx context.Context, system, user string) (string, error)

// NewAnthropicCompleteFunc adapts an Anthropic client to CompleteFunc.
func NewAnthropicCompleteFunc(client *anthropic.Client, model string, maxTokens int64) CompleteFunc {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return func(ctx context.Context, system, user string) (string, error) {
		resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		})
		if err != nil {
			return "", err
		}
		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return text.String(), nil
	}
}

const extractionSystemPrompt = `You distill durable user knowledge from one conversational interaction.
Reply with a JSON array only, no prose. Each element:
{"content": string, "memory_type": one of preference|pattern|insight|fact|tool_usage|behavior|routine|correction, "tags": [string], "importance": integer 1-5, "confidence": number 0-1}
Only include statements likely to stay true beyond this conversation. An empty array is a valid reply.`

// LLMExtractor is the primary extraction path. Calls are bounded by a hard
// timeout; on failure, timeout, malformed replies, or uniformly low
// confidence it defers to the rule-based fallback.
type LLMExtractor struct {
	complete        CompleteFunc
	fallback        *RuleExtractor
	timeout         time.Duration
	confidenceFloor float64
	maxCandidates   int
}

// NewLLMExtractor builds the primary extractor. confidenceFloor is the
// creation confidence threshold below which the whole model reply is
// considered too weak and the fallback runs instead.
func NewLLMExtractor(complete CompleteFunc, fallback *RuleExtractor, timeout time.Duration, confidenceFloor float64, maxCandidates int) *LLMExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxCandidates <= 0 {
		maxCandidates = 8
	}
	if fallback == nil {
		fallback = NewRuleExtractor(maxCandidates)
	}
	return &LLMExtractor{
		complete:        complete,
		fallback:        fallback,
		timeout:         timeout,
		confidenceFloor: confidenceFloor,
		maxCandidates:   maxCandidates,
	}
}

func (e *LLMExtractor) Extract(ctx context.Context, interactionText string, facts []CandidateFact) (ExtractionResult, error) {
	cands, err := e.extractPrimary(ctx, interactionText, facts)
	if err != nil {
		logger.WarnC("extractor", "primary extraction failed, using fallback", map[string]any{
			"error": err.Error(),
		})
		return e.fallback.Extract(ctx, interactionText, facts)
	}
	if len(cands) > 0 && maxConfidence(cands) < e.confidenceFloor {
		logger.DebugC("extractor", "primary confidence below floor, using fallback", map[string]any{
			"floor": e.confidenceFloor,
		})
		return e.fallback.Extract(ctx, interactionText, facts)
	}
	return ExtractionResult{Candidates: rankCandidates(cands, e.maxCandidates)}, nil
}

func (e *LLMExtractor) extractPrimary(ctx context.Context, interactionText string, facts []CandidateFact) ([]ScoredCandidate, error) {
	if e.complete == nil {
		return nil, fmt.Errorf("%w: no completion client configured", ErrExtraction)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.complete(ctx, extractionSystemPrompt, buildExtractionPrompt(interactionText, facts))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return parseExtractionReply(raw, interactionText)
}

func buildExtractionPrompt(interactionText string, facts []CandidateFact) string {
	var b strings.Builder
	b.WriteString("Interaction:\n")
	b.WriteString(strings.TrimSpace(interactionText))
	if len(facts) > 0 {
		b.WriteString("\n\nPattern analysis already observed:\n")
		for _, fact := range facts {
			fmt.Fprintf(&b, "- [%s, seen %dx] %s\n", fact.SuggestedType, fact.EvidenceCount, fact.Text)
		}
	}
	return b.String()
}

// parseExtractionReply validates the model reply against the candidate
// schema. Malformed elements fail the whole reply; coercion would mask
// model drift.
func parseExtractionReply(raw, interactionText string) ([]ScoredCandidate, error) {
	raw = strings.TrimSpace(raw)
	// Tolerate fenced replies; anything beyond that is the model's problem.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var decoded []struct {
		Content    *string  `json:"content"`
		MemoryType *string  `json:"memory_type"`
		Tags       []string `json:"tags"`
		Importance *int     `json:"importance"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	out := make([]ScoredCandidate, 0, len(decoded))
	for i, d := range decoded {
		if d.Content == nil || d.MemoryType == nil || d.Importance == nil || d.Confidence == nil {
			return nil, fmt.Errorf("%w: element %d missing required fields", ErrMalformedResponse, i)
		}
		cand := ScoredCandidate{
			Content:       strings.TrimSpace(*d.Content),
			Type:          Type(strings.TrimSpace(*d.MemoryType)),
			Tags:          NormalizeTags(d.Tags),
			Importance:    *d.Importance,
			Confidence:    *d.Confidence,
			SourceExcerpt: excerpt(interactionText),
		}
		if cand.Content == "" || len(cand.Content) > MaxContentBytes {
			return nil, fmt.Errorf("%w: element %d content out of bounds", ErrMalformedResponse, i)
		}
		if !cand.Type.Valid() {
			return nil, fmt.Errorf("%w: element %d unknown memory type %q", ErrMalformedResponse, i, cand.Type)
		}
		if cand.Importance < 1 || cand.Importance > 5 {
			return nil, fmt.Errorf("%w: element %d importance %d not in [1,5]", ErrMalformedResponse, i, cand.Importance)
		}
		if cand.Confidence < 0 || cand.Confidence > 1 {
			return nil, fmt.Errorf("%w: element %d confidence %.3f not in [0,1]", ErrMalformedResponse, i, cand.Confidence)
		}
		out = append(out, cand)
	}
	return out, nil
}

func maxConfidence(cands []ScoredCandidate) float64 {
	best := 0.0
	for _, c := range cands {
		if c.Confidence > best {
			best = c.Confidence
		}
	}
	return best
}
