// Package preprocess defines the collaborators that run before note generation:
// PII masking and clinical entity extraction.
package preprocess

import (
	"context"
	"regexp"
)

// MaskResult is the outcome of PII masking.
type MaskResult struct {
	Text   string
	HadPII bool
	Count  int
}

// PIIMasker replaces personally identifying information in text.
type PIIMasker interface {
	MaskPII(ctx context.Context, text string) (MaskResult, error)
}

// EntityExtractor extracts named entities into a context map for the generator.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) (map[string]any, error)
}

// PassthroughMasker returns text unchanged.
type PassthroughMasker struct{}

func (PassthroughMasker) MaskPII(_ context.Context, text string) (MaskResult, error) {
	return MaskResult{Text: text}, nil
}

// NoopExtractor returns no entities.
type NoopExtractor struct{}

func (NoopExtractor) ExtractEntities(context.Context, string) (map[string]any, error) {
	return nil, nil
}

var piiPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"EMAIL", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"PHONE", regexp.MustCompile(`(?:\+?1[-. ]?)?\(?\b\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)},
}

// PatternMasker masks e-mail addresses, US social security numbers and phone numbers
// with bracketed labels such as [EMAIL].
type PatternMasker struct{}

func (PatternMasker) MaskPII(ctx context.Context, text string) (MaskResult, error) {
	if err := ctx.Err(); err != nil {
		return MaskResult{}, err
	}
	count := 0
	for _, p := range piiPatterns {
		text = p.re.ReplaceAllStringFunc(text, func(string) string {
			count++
			return "[" + p.label + "]"
		})
	}
	return MaskResult{Text: text, HadPII: count > 0, Count: count}, nil
}

var (
	_ PIIMasker       = PassthroughMasker{}
	_ PIIMasker       = PatternMasker{}
	_ EntityExtractor = NoopExtractor{}
)
