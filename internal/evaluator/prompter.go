package evaluator

import (
	"fmt"
	"strings"

	"github.com/dsamentor/mentor/internal/domain"
)

const evaluationSystemPrompt = `You are a strict evaluator for a coding mentor tool.

Rules:
- Evaluate reasoning quality, not code.
- Do NOT give solutions.
- Respond ONLY in valid JSON.
- Be concise.

JSON format:
{
  "verdict": "CORRECT | PARTIAL | WRONG",
  "confidence_delta": -1 | 0 | 1,
  "feedback": "short sentence",
  "allowed_hint_types": []
}

allowed_hint_types may only contain: %s.`

const hintSystemPrompt = `You generate ONLY hints, never solutions.

Hint type: %s

Rules:
- Be orthogonal (do not stack toward solution)
- No code
- No final logic
- 1–2 sentences max`

// Prompter builds prompts for the evaluator and hint calls
type Prompter struct{}

// NewPrompter creates a new prompter
func NewPrompter() *Prompter {
	return &Prompter{}
}

// EvaluationSystem returns the strict evaluator system prompt
func (p *Prompter) EvaluationSystem() string {
	names := make([]string, 0, 4)
	for _, c := range domain.AllHintCategories() {
		names = append(names, `"`+string(c)+`"`)
	}
	return fmt.Sprintf(evaluationSystemPrompt, strings.Join(names, ", "))
}

// EvaluationPrompt renders the explanation and prior attempts
func (p *Prompter) EvaluationPrompt(req domain.EvaluationRequest) string {
	var sb strings.Builder
	sb.WriteString("## Explanation\n\n")
	sb.WriteString(strings.TrimSpace(req.Explanation))
	sb.WriteString("\n")

	if len(req.ExplanationHistory) > 0 {
		sb.WriteString("\n## Previous attempts\n\n")
		for i, prev := range req.ExplanationHistory {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, p.truncate(prev, 300)))
		}
	}
	return sb.String()
}

// HintSystem returns the hint-only system prompt for a category
func (p *Prompter) HintSystem(category domain.HintCategory) string {
	return fmt.Sprintf(hintSystemPrompt, category)
}

// HintPrompt renders the problem context for a hint
func (p *Prompter) HintPrompt(req domain.HintRequest) string {
	var sb strings.Builder
	if req.ProblemTitle != "" {
		sb.WriteString(fmt.Sprintf("## Problem: %s\n\n", req.ProblemTitle))
	}
	if req.ProblemDescription != "" {
		sb.WriteString(p.truncate(req.ProblemDescription, 1500))
		sb.WriteString("\n\n")
	}
	if req.UserExplanation != "" {
		sb.WriteString("## Learner's current approach\n\n")
		sb.WriteString(p.truncate(req.UserExplanation, 600))
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("Give one %s hint.", req.HintType))
	return sb.String()
}

func (p *Prompter) truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
