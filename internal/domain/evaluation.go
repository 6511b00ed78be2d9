package domain

import (
	"fmt"
	"strings"
)

// Fallback texts used when the language model collaborator fails
const (
	EvaluationUnavailable = "Unable to evaluate the explanation reliably."
	HintUnavailable       = "Hint unavailable right now. Try reasoning about the problem constraints."
	DuplicateFeedback     = "This explanation repeats an earlier attempt. Try a genuinely different approach."
	HintFollowUp          = "Use the hint and try implementing before asking another."
)

// EvaluationRequest is sent to the evaluator collaborator
type EvaluationRequest struct {
	Explanation        string   `json:"explanation"`
	ExplanationHistory []string `json:"explanation_history"`
}

// Evaluation is the evaluator's response
type Evaluation struct {
	Verdict          Verdict        `json:"verdict"`
	ConfidenceDelta  int            `json:"confidence_delta"`
	Feedback         string         `json:"feedback"`
	AllowedHintTypes []HintCategory `json:"allowed_hint_types"`
}

// SafeEvaluation is substituted for any transport or parse failure
func SafeEvaluation() Evaluation {
	return Evaluation{
		Verdict:          VerdictWrong,
		ConfidenceDelta:  0,
		Feedback:         EvaluationUnavailable,
		AllowedHintTypes: []HintCategory{},
	}
}

// Validate rejects responses outside the contract
func (e Evaluation) Validate() error {
	if !e.Verdict.Valid() {
		return fmt.Errorf("%w: verdict %q", ErrInvalidInput, e.Verdict)
	}
	if e.ConfidenceDelta < -1 || e.ConfidenceDelta > 1 {
		return fmt.Errorf("%w: confidence_delta %d", ErrInvalidInput, e.ConfidenceDelta)
	}
	if strings.TrimSpace(e.Feedback) == "" {
		return fmt.Errorf("%w: empty feedback", ErrInvalidInput)
	}
	for _, h := range e.AllowedHintTypes {
		if !h.Valid() {
			return fmt.Errorf("%w: hint type %q", ErrInvalidInput, h)
		}
	}
	return nil
}

// HintRequest is sent to the hint-generation collaborator
type HintRequest struct {
	HintType           HintCategory `json:"hint_type"`
	ProblemTitle       string       `json:"problem_title"`
	ProblemDescription string       `json:"problem_description"`
	UserExplanation    string       `json:"user_explanation"`
}

// HintResponse is the hint collaborator's response
type HintResponse struct {
	Hint string `json:"hint"`
}
