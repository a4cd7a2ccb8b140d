// Package note turns clinical free text into a four-section structured note,
// gates it through a second model acting as judge, and retries under a bounded budget.
package note

import (
	"encoding/json"
	"strings"
	"time"
)

// SectionName identifies one of the four fixed note sections.
type SectionName string

const (
	SectionSubjective SectionName = "subjective"
	SectionObjective  SectionName = "objective"
	SectionAssessment SectionName = "assessment"
	SectionPlan       SectionName = "plan"
)

// SectionOrder is the canonical section order used for prompts and embeddings.
var SectionOrder = []SectionName{
	SectionSubjective,
	SectionObjective,
	SectionAssessment,
	SectionPlan,
}

// Section is a single note section.
type Section struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	WordCount  int     `json:"word_count"`
}

// StructuredNote is the four-section clinical note.
type StructuredNote struct {
	Subjective      Section   `json:"subjective"`
	Objective       Section   `json:"objective"`
	Assessment      Section   `json:"assessment"`
	Plan            Section   `json:"plan"`
	GeneratedAt     time.Time `json:"generated_at"`
	ModelVersion    string    `json:"model_version"`
	TotalConfidence float64   `json:"total_confidence"`
}

// Section returns the section with the given name.
func (n *StructuredNote) Section(name SectionName) Section {
	switch name {
	case SectionSubjective:
		return n.Subjective
	case SectionObjective:
		return n.Objective
	case SectionAssessment:
		return n.Assessment
	case SectionPlan:
		return n.Plan
	}
	return Section{}
}

func (n *StructuredNote) setSection(name SectionName, s Section) {
	switch name {
	case SectionSubjective:
		n.Subjective = s
	case SectionObjective:
		n.Objective = s
	case SectionAssessment:
		n.Assessment = s
	case SectionPlan:
		n.Plan = s
	}
}

// EmptySections returns the names of sections whose content is blank.
func (n *StructuredNote) EmptySections() []SectionName {
	var empty []SectionName
	for _, name := range SectionOrder {
		if strings.TrimSpace(n.Section(name).Content) == "" {
			empty = append(empty, name)
		}
	}
	return empty
}

// UpdateTotalConfidence sets TotalConfidence to the mean section confidence.
func (n *StructuredNote) UpdateTotalConfidence() {
	var sum float64
	for _, name := range SectionOrder {
		sum += n.Section(name).Confidence
	}
	n.TotalConfidence = sum / float64(len(SectionOrder))
}

// CanonicalText serializes the sections in fixed order, each prefixed by its
// upper-cased name and separated by blank lines. This is the text that gets embedded.
func (n *StructuredNote) CanonicalText() string {
	parts := make([]string, 0, len(SectionOrder))
	for _, name := range SectionOrder {
		parts = append(parts, strings.ToUpper(string(name))+":\n"+strings.TrimSpace(n.Section(name).Content))
	}
	return strings.Join(parts, "\n\n")
}

// wireNote is the bit-exact model contract: four sections and nothing else.
type wireNote struct {
	Subjective Section `json:"subjective"`
	Objective  Section `json:"objective"`
	Assessment Section `json:"assessment"`
	Plan       Section `json:"plan"`
}

// SectionsJSON renders the note in the model-facing JSON shape.
func (n *StructuredNote) SectionsJSON() (string, error) {
	data, err := json.Marshal(wireNote{
		Subjective: n.Subjective,
		Objective:  n.Objective,
		Assessment: n.Assessment,
		Plan:       n.Plan,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Verdict is the judge's decision on a candidate note.
type Verdict struct {
	Approved    bool     `json:"approved"`
	Reason      string   `json:"reason"`
	Confidence  float64  `json:"confidence"`
	Suggestions []string `json:"suggestions"`
}

// CountWords counts whitespace-separated words.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
