package note

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hrygo/clinote/plugin/ai"
)

// ManualReviewSuggestion is the only suggestion attached to a failed judge call.
const ManualReviewSuggestion = "Manual review required"

// Validator judges a candidate note. It never returns an error: an unreachable
// or unparseable judge yields a rejection.
type Validator interface {
	Validate(ctx context.Context, n *StructuredNote) Verdict
}

// LLMValidator submits notes to a second, independent chat model.
type LLMValidator struct {
	llm ai.LLMService
}

// NewLLMValidator creates a validator backed by the judge model.
func NewLLMValidator(llm ai.LLMService) *LLMValidator {
	return &LLMValidator{llm: llm}
}

func (v *LLMValidator) Validate(ctx context.Context, n *StructuredNote) Verdict {
	noteJSON, err := n.SectionsJSON()
	if err != nil {
		return failedVerdict(err)
	}

	raw, err := v.llm.Chat(ctx, ai.FormatMessages(judgeSystemPrompt, buildJudgePrompt(noteJSON)))
	if err != nil {
		return failedVerdict(err)
	}

	verdict, err := ParseVerdict(raw)
	if err != nil {
		return failedVerdict(err)
	}
	return verdict
}

type verdictWire struct {
	Approved    *bool    `json:"approved"`
	Reason      string   `json:"reason"`
	Confidence  float64  `json:"confidence"`
	Suggestions []string `json:"suggestions"`
}

// ParseVerdict decodes a judge response, tolerating prose or code fences around the JSON.
func ParseVerdict(raw string) (Verdict, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Verdict{}, fmt.Errorf("empty judge response")
	}

	candidates := append([]string{trimmed}, braceFragments(trimmed)...)
	for _, candidate := range candidates {
		var w verdictWire
		if err := json.Unmarshal([]byte(candidate), &w); err != nil || w.Approved == nil {
			continue
		}
		suggestions := w.Suggestions
		if suggestions == nil {
			suggestions = []string{}
		}
		return Verdict{
			Approved:    *w.Approved,
			Reason:      strings.TrimSpace(w.Reason),
			Confidence:  clamp01(w.Confidence),
			Suggestions: suggestions,
		}, nil
	}
	return Verdict{}, fmt.Errorf("judge response is not a verdict object")
}

func failedVerdict(cause error) Verdict {
	return Verdict{
		Approved:    false,
		Reason:      fmt.Sprintf("validation failed: %v", cause),
		Confidence:  0.0,
		Suggestions: []string{ManualReviewSuggestion},
	}
}
