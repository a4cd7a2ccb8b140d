package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/clinote/plugin/ai"
)

const synthesisSystemPrompt = `You answer questions about a client's clinical history for the treating professional.
Use only the numbered sources provided. Refer to sources as [N].
If the sources do not answer the question, say so plainly. Do not invent findings, diagnoses or dates.`

// Synthesizer writes a prose answer from retrieved chunks with one model call.
type Synthesizer struct {
	llm ai.LLMService
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(llm ai.LLMService) *Synthesizer {
	return &Synthesizer{llm: llm}
}

// Synthesize answers query from chunks, optionally framed by a subject descriptor.
func (s *Synthesizer) Synthesize(ctx context.Context, chunks []RetrievedChunk, subjectContext, query string) (string, error) {
	answer, err := s.llm.Chat(ctx, ai.FormatMessages(synthesisSystemPrompt, buildSynthesisPrompt(chunks, subjectContext, query)))
	if err != nil {
		return "", fmt.Errorf("synthesis model call: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func buildSynthesisPrompt(chunks []RetrievedChunk, subjectContext, query string) string {
	var b strings.Builder
	if s := strings.TrimSpace(subjectContext); s != "" {
		b.WriteString("Subject: ")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	for i, c := range chunks {
		fmt.Fprintf(&b, "Source %d (%s, %s):\n%s\n\n", i+1, c.NoteType, c.VisitDate.Format("2006-01-02"), c.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

// Citations builds one line per chunk from its metadata, independent of the model output.
func Citations(chunks []RetrievedChunk) []string {
	lines := make([]string, len(chunks))
	for i, c := range chunks {
		lines[i] = fmt.Sprintf("[%d] %s from %s (id: %s)", i+1, c.NoteType, c.VisitDate.Format("2006-01-02"), c.NoteUID)
	}
	return lines
}
