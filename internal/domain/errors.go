package domain

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Policy Rejections
// These are expected outcomes of the anti-gaming policy, not failures. Callers
// surface them as feedback text and leave state unchanged.
// -----------------------------------------------------------------------------

// Hint gating
var (
	ErrHintBudgetExhausted = errors.New("hint budget exhausted")
	ErrEffortGateActive    = errors.New("effort gate active")
	ErrNoHintCategories    = errors.New("no hint categories remaining")
	ErrHintCategoryUsed    = errors.New("hint category already granted")
)

// Phase transitions
var (
	ErrSkipUsed           = errors.New("skip already used")
	ErrInvalidTransition  = errors.New("invalid phase transition")
	ErrThinkingStarted    = errors.New("thinking timer already started")
	ErrThinkingNotExpired = errors.New("thinking timer still running")
	ErrEmptyExplanation   = errors.New("explanation is empty")
	ErrEvaluationPending  = errors.New("evaluation pending")
	ErrSessionChanged     = errors.New("session changed")
)

// General errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// IsPolicyRejection reports whether err is an expected policy outcome
func IsPolicyRejection(err error) bool {
	for _, target := range []error{
		ErrHintBudgetExhausted, ErrEffortGateActive, ErrNoHintCategories,
		ErrHintCategoryUsed, ErrSkipUsed, ErrInvalidTransition, ErrThinkingStarted,
		ErrThinkingNotExpired, ErrEmptyExplanation, ErrEvaluationPending, ErrSessionChanged,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RejectionReason returns a short metric-friendly label for a policy rejection
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrHintBudgetExhausted):
		return "budget_exhausted"
	case errors.Is(err, ErrEffortGateActive):
		return "gate_active"
	case errors.Is(err, ErrNoHintCategories):
		return "no_categories"
	case errors.Is(err, ErrHintCategoryUsed):
		return "category_used"
	case errors.Is(err, ErrSkipUsed):
		return "skip_used"
	case errors.Is(err, ErrThinkingStarted), errors.Is(err, ErrThinkingNotExpired):
		return "thinking"
	case errors.Is(err, ErrEmptyExplanation):
		return "empty_explanation"
	case errors.Is(err, ErrEvaluationPending):
		return "pending"
	case errors.Is(err, ErrSessionChanged):
		return "session_changed"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	}
	return "other"
}

// FeedbackFor renders a user-facing message for a policy rejection
func FeedbackFor(err error, effort EffortState, policy Policy) string {
	switch {
	case errors.Is(err, ErrHintBudgetExhausted):
		return fmt.Sprintf("You have used all %d hints for this problem.", policy.MaxHints)
	case errors.Is(err, ErrEffortGateActive):
		runsLeft := policy.RunsToUnlock - effort.RunCount
		return fmt.Sprintf("Keep working first: %ds left or %d more run(s) to unlock the next hint.",
			effort.TimeLeft, runsLeft)
	case errors.Is(err, ErrNoHintCategories):
		return "Every hint category has been used for this problem."
	case errors.Is(err, ErrHintCategoryUsed):
		return "That hint category was already granted for this problem."
	case errors.Is(err, ErrSkipUsed):
		return "Skip can only be used once per problem."
	case errors.Is(err, ErrThinkingStarted):
		return "The thinking timer is already running."
	case errors.Is(err, ErrThinkingNotExpired):
		return "Keep thinking until the timer runs out."
	case errors.Is(err, ErrEmptyExplanation):
		return "Write down your approach before submitting."
	case errors.Is(err, ErrEvaluationPending):
		return "Your previous explanation is still being evaluated."
	case errors.Is(err, ErrSessionChanged):
		return "The session changed in another window. Showing the latest state."
	case errors.Is(err, ErrInvalidTransition):
		return "That action is not available right now."
	}
	return "Something went wrong. Try again."
}
