package domain

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Session commands - Counter and history updates applied by the state owner
// -----------------------------------------------------------------------------

// HintGrant spends one hint of Category on Problem. Reward grants come from
// the REWARD phase and drop confidence to MEDIUM.
type HintGrant struct {
	Problem  string       `json:"problem"`
	Category HintCategory `json:"category"`
	Reward   bool         `json:"reward,omitempty"`
}

// ExplanationRecord folds an evaluated explanation into Problem's session
type ExplanationRecord struct {
	Problem         string `json:"problem"`
	Explanation     string `json:"explanation"`
	ConfidenceDelta int    `json:"confidenceDelta"`
}

// Validate checks the request shape
func (r ExplanationRecord) Validate() error {
	if strings.TrimSpace(r.Explanation) == "" {
		return ErrEmptyExplanation
	}
	if r.ConfidenceDelta < -1 || r.ConfidenceDelta > 1 {
		return fmt.Errorf("%w: confidence delta %d", ErrInvalidInput, r.ConfidenceDelta)
	}
	return nil
}

// SessionResult is the state after a session command
type SessionResult struct {
	App    AppState    `json:"appState"`
	Effort EffortState `json:"effortState"`
}

// CheckHintGrant applies the hint guards to s. gateActive is the live effort
// gate state.
func (s AppState) CheckHintGrant(g HintGrant, gateActive bool, p Policy) error {
	if !g.Category.Valid() {
		return fmt.Errorf("%w: hint category %q", ErrInvalidInput, g.Category)
	}
	if g.Problem != s.CurrentProblem {
		return fmt.Errorf("%w: problem is %q", ErrSessionChanged, s.CurrentProblem)
	}
	switch {
	case g.Reward && s.Phase != PhaseReward:
		return fmt.Errorf("%w: reward option in %s", ErrInvalidTransition, s.Phase)
	case s.Phase == PhaseThinking:
		return fmt.Errorf("%w: hint in %s", ErrInvalidTransition, s.Phase)
	}
	if g.Reward && ContainsHint(s.UsedHintTypes, g.Category) {
		return ErrHintCategoryUsed
	}
	if s.HintsUsed >= p.MaxHints {
		return ErrHintBudgetExhausted
	}
	if gateActive {
		return ErrEffortGateActive
	}
	if ContainsHint(s.UsedHintTypes, g.Category) {
		return ErrHintCategoryUsed
	}
	return nil
}

// WithHint returns s with one hint spent. Callers check the grant first.
func (s AppState) WithHint(g HintGrant) AppState {
	out := s.Clone()
	out.HintsUsed++
	out.UsedHintTypes = append(out.UsedHintTypes, g.Category)
	out.Phase = PhaseFeedback
	if g.Reward {
		out.Confidence = ConfidenceMedium
	}
	return out
}

// CheckExplanation reports whether r still belongs to the session in s. The
// explanation was submitted from INPUT, which moved the session to FEEDBACK.
func (s AppState) CheckExplanation(r ExplanationRecord) error {
	if r.Problem != s.CurrentProblem {
		return fmt.Errorf("%w: problem is %q", ErrSessionChanged, s.CurrentProblem)
	}
	if s.Phase != PhaseFeedback {
		return fmt.Errorf("%w: phase is %s", ErrSessionChanged, s.Phase)
	}
	return nil
}

// WithExplanation appends the explanation and applies the confidence delta.
// Reaching HIGH moves the session to REWARD.
func (s AppState) WithExplanation(r ExplanationRecord) AppState {
	out := s.Clone()
	text := strings.TrimSpace(r.Explanation)
	out.ExplanationHistory = append(out.ExplanationHistory, text)
	out.UserExplanation = text
	out.Confidence = s.Confidence.Apply(r.ConfidenceDelta)
	out.Phase = PhaseFeedback
	if out.Confidence == ConfidenceHigh {
		out.Phase = PhaseReward
	}
	return out
}
