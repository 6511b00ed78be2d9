package domain

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Phase - Stage of a single problem-solving attempt
// -----------------------------------------------------------------------------

// Phase is the current stage of an attempt
type Phase string

const (
	PhaseThinking Phase = "THINKING"
	PhaseInput    Phase = "INPUT"
	PhaseFeedback Phase = "FEEDBACK"
	PhaseReward   Phase = "REWARD"
)

// Valid reports whether p is a known phase
func (p Phase) Valid() bool {
	switch p {
	case PhaseThinking, PhaseInput, PhaseFeedback, PhaseReward:
		return true
	}
	return false
}

func (p Phase) String() string { return string(p) }

// -----------------------------------------------------------------------------
// Confidence - Three-level assessment driven by evaluator feedback
// -----------------------------------------------------------------------------

// Confidence reflects how well the user understands their approach
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Valid reports whether c is a known confidence level
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Apply returns the confidence after an evaluator delta.
// +1 advances and saturates at HIGH, -1 only demotes HIGH to MEDIUM,
// anything else leaves the level unchanged.
func (c Confidence) Apply(delta int) Confidence {
	switch delta {
	case 1:
		switch c {
		case ConfidenceLow:
			return ConfidenceMedium
		case ConfidenceMedium, ConfidenceHigh:
			return ConfidenceHigh
		}
	case -1:
		if c == ConfidenceHigh {
			return ConfidenceMedium
		}
	}
	return c
}

func (c Confidence) String() string { return string(c) }

// -----------------------------------------------------------------------------
// HintCategory - Closed set of hint angles
// -----------------------------------------------------------------------------

// HintCategory is one of the fixed, non-overlapping hint angles
type HintCategory string

const (
	HintStructural  HintCategory = "Structural"
	HintPseudoLogic HintCategory = "Pseudo-Logic"
	HintEdgeCases   HintCategory = "Edge-Cases"
	HintComplexity  HintCategory = "Complexity"
)

// AllHintCategories returns the fixed category set in canonical order
func AllHintCategories() []HintCategory {
	return []HintCategory{HintStructural, HintPseudoLogic, HintEdgeCases, HintComplexity}
}

// Valid reports whether h is one of the known categories
func (h HintCategory) Valid() bool {
	for _, c := range AllHintCategories() {
		if c == h {
			return true
		}
	}
	return false
}

func (h HintCategory) String() string { return string(h) }

// ParseHintCategory matches a category name case-insensitively.
// "pseudo logic", "pseudo_logic" and "Pseudo-Logic" are all accepted.
func ParseHintCategory(s string) (HintCategory, error) {
	norm := func(v string) string {
		v = strings.ToLower(strings.TrimSpace(v))
		v = strings.NewReplacer("-", "", "_", "", " ", "").Replace(v)
		return v
	}
	want := norm(s)
	for _, c := range AllHintCategories() {
		if norm(string(c)) == want {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown hint category %q", ErrInvalidInput, s)
}

// ContainsHint reports whether used already includes c
func ContainsHint(used []HintCategory, c HintCategory) bool {
	for _, u := range used {
		if u == c {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Verdict - Evaluator classification of an explanation
// -----------------------------------------------------------------------------

// Verdict is the evaluator's judgement of an explanation
type Verdict string

const (
	VerdictCorrect   Verdict = "CORRECT"
	VerdictPartial   Verdict = "PARTIAL"
	VerdictWrong     Verdict = "WRONG"
	VerdictDuplicate Verdict = "DUPLICATE"
)

// Valid reports whether v is a known verdict
func (v Verdict) Valid() bool {
	switch v {
	case VerdictCorrect, VerdictPartial, VerdictWrong, VerdictDuplicate:
		return true
	}
	return false
}
