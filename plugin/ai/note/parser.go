package note

import (
	"encoding/json"
	"strings"
)

// Outcome tells which parsing stage produced a note.
type Outcome int

const (
	// OutcomeParsed means the whole response was a valid note.
	OutcomeParsed Outcome = iota
	// OutcomeExtracted means a note was recovered from a JSON fragment inside the response.
	OutcomeExtracted
	// OutcomeFallback means nothing could be parsed and a placeholder note was synthesized.
	OutcomeFallback
)

func (o Outcome) String() string {
	switch o {
	case OutcomeParsed:
		return "parsed"
	case OutcomeExtracted:
		return "extracted"
	case OutcomeFallback:
		return "fallback"
	}
	return "unknown"
}

const (
	// FallbackConfidence is the per-section confidence of a synthesized placeholder note.
	FallbackConfidence = 0.3
	// FallbackContent is the placeholder text of every fallback section.
	FallbackContent = "Requires manual review: the generated note could not be parsed."

	defaultSectionConfidence = 0.5
)

// ParseResult is the outcome of parsing one model response.
type ParseResult struct {
	Outcome Outcome
	Note    StructuredNote
}

// ParseNote parses a raw model response into a note. It never fails: when no stage
// succeeds, a fallback note is returned. sourceText is used for word counts when the
// response is empty.
func ParseNote(raw, sourceText string) ParseResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParseResult{Outcome: OutcomeFallback, Note: fallbackNote(sourceText)}
	}

	if n, ok := decodeNote(trimmed); ok {
		return ParseResult{Outcome: OutcomeParsed, Note: n}
	}

	for _, fragment := range braceFragments(trimmed) {
		if n, ok := decodeNote(fragment); ok {
			return ParseResult{Outcome: OutcomeExtracted, Note: n}
		}
	}

	start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if n, ok := decodeNote(trimmed[start : end+1]); ok {
			return ParseResult{Outcome: OutcomeExtracted, Note: n}
		}
	}

	return ParseResult{Outcome: OutcomeFallback, Note: fallbackNote(trimmed)}
}

type sectionWire struct {
	Content    *string  `json:"content"`
	Confidence *float64 `json:"confidence"`
	WordCount  *int     `json:"word_count"`
}

// decodeNote accepts only objects carrying all four section keys.
func decodeNote(s string) (StructuredNote, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return StructuredNote{}, false
	}

	var n StructuredNote
	for _, name := range SectionOrder {
		rawSection, ok := fields[string(name)]
		if !ok {
			return StructuredNote{}, false
		}
		var w sectionWire
		if err := json.Unmarshal(rawSection, &w); err != nil {
			return StructuredNote{}, false
		}
		n.setSection(name, w.section())
	}
	n.UpdateTotalConfidence()
	return n, true
}

func (w sectionWire) section() Section {
	s := Section{Confidence: defaultSectionConfidence}
	if w.Content != nil {
		s.Content = strings.TrimSpace(*w.Content)
	}
	if w.Confidence != nil {
		s.Confidence = clamp01(*w.Confidence)
	}
	if w.WordCount != nil && *w.WordCount >= 0 {
		s.WordCount = *w.WordCount
	} else {
		s.WordCount = CountWords(s.Content)
	}
	return s
}

// braceFragments returns every balanced {...} substring in order of its opening brace.
// Braces inside JSON string literals are ignored.
func braceFragments(s string) []string {
	var fragments []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if end := matchBrace(s, i); end > i {
			fragments = append(fragments, s[i:end+1])
		}
	}
	return fragments
}

func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func fallbackNote(available string) StructuredNote {
	words := CountWords(available)
	var n StructuredNote
	for _, name := range SectionOrder {
		n.setSection(name, Section{
			Content:    FallbackContent,
			Confidence: FallbackConfidence,
			WordCount:  words,
		})
	}
	n.UpdateTotalConfidence()
	return n
}
