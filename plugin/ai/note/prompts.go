package note

import (
	"fmt"
	"strings"
)

const generationSystemPrompt = `You are a clinical documentation assistant. Convert the session text into a SOAP note.

Respond with a single JSON object and nothing else, using exactly this shape:
{
  "subjective": {"content": "...", "confidence": 0.0, "word_count": 0},
  "objective":  {"content": "...", "confidence": 0.0, "word_count": 0},
  "assessment": {"content": "...", "confidence": 0.0, "word_count": 0},
  "plan":       {"content": "...", "confidence": 0.0, "word_count": 0}
}

Rules:
- subjective: the patient's reported complaints, history and feelings, in their words where useful.
- objective: observable, measurable findings (vitals, exam, test results, behaviour observed).
- assessment: the professional's clinical interpretation of subjective and objective data.
- plan: concrete next steps (treatment, referrals, follow-up, homework).
- confidence is your certainty in [0, 1] that the section is faithful to the text.
- Never invent findings that are not supported by the text. Write "Not documented" when a section has no support.
- Keep a professional clinical tone. Masked placeholders such as [NAME] must be kept as they are.`

const judgeSystemPrompt = `You are a senior clinician reviewing an AI-drafted SOAP note.

Approve the note only if ALL of the following hold:
1. All four sections (subjective, objective, assessment, plan) are present.
2. Each section has specific content drawn from the case, not generic filler.
3. The tone is professional and clinical.
4. The plan contains actionable next steps.

Respond with a single JSON object and nothing else:
{"approved": true|false, "reason": "short explanation", "confidence": 0.0, "suggestions": ["...", "..."]}`

func buildGenerationPrompt(text string, c Context) string {
	var b strings.Builder
	b.WriteString("Session text:\n")
	b.WriteString(text)
	if c.Len() > 0 {
		b.WriteString("\n\nAdditional context (entities and reviewer feedback from previous attempts):\n")
		b.WriteString(c.JSON())
	}
	if _, ok := c.Get(ContextKeyValidationFeedback); ok {
		b.WriteString("\n\nA reviewer rejected the previous draft. Address the validation_feedback and suggestions above.")
	}
	return b.String()
}

func buildJudgePrompt(noteJSON string) string {
	return fmt.Sprintf("Review this SOAP note:\n%s", noteJSON)
}
