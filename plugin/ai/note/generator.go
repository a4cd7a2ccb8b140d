package note

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/clinote/plugin/ai"
)

// ErrEmptyInput is returned when generation is asked to structure blank text.
var ErrEmptyInput = errors.New("input text is empty")

// Generated is a candidate note plus the parsing stage that produced it.
type Generated struct {
	Note    StructuredNote
	Outcome Outcome
	Raw     string
}

// Generator produces a candidate note from text and context.
type Generator interface {
	Generate(ctx context.Context, text string, c Context) (*Generated, error)
}

// LLMGenerator issues exactly one generation model call per Generate.
type LLMGenerator struct {
	llm ai.LLMService
	now func() time.Time
}

// NewLLMGenerator creates a generator backed by the given chat model.
func NewLLMGenerator(llm ai.LLMService) *LLMGenerator {
	return &LLMGenerator{llm: llm, now: time.Now}
}

// Generate returns an error only for blank input or a failed model call.
// Malformed or empty model output is recovered into a fallback note.
func (g *LLMGenerator) Generate(ctx context.Context, text string, c Context) (*Generated, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	raw, err := g.llm.Chat(ctx, ai.FormatMessages(generationSystemPrompt, buildGenerationPrompt(text, c)))
	if err != nil {
		return nil, fmt.Errorf("generation model call: %w", err)
	}

	available := raw
	if strings.TrimSpace(available) == "" {
		available = text
	}
	result := ParseNote(raw, available)
	result.Note.GeneratedAt = g.now().UTC()
	result.Note.ModelVersion = g.llm.Model()

	return &Generated{Note: result.Note, Outcome: result.Outcome, Raw: raw}, nil
}
