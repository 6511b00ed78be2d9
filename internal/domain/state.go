package domain

import (
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Policy - Tunable limits of the anti-gaming rules
// -----------------------------------------------------------------------------

// Policy holds the numeric limits enforced by the session and effort gate
type Policy struct {
	ThinkingSeconds   int           `json:"thinking_seconds" yaml:"thinking_seconds"`
	EffortSeconds     int           `json:"effort_seconds" yaml:"effort_seconds"`
	RunsToUnlock      int           `json:"runs_to_unlock" yaml:"runs_to_unlock"`
	MaxHints          int           `json:"max_hints" yaml:"max_hints"`
	ResetAfter        time.Duration `json:"reset_after" yaml:"reset_after"`
	MaxDescriptionLen int           `json:"max_description_len" yaml:"max_description_len"`
}

// DefaultPolicy returns the stock limits
func DefaultPolicy() Policy {
	return Policy{
		ThinkingSeconds:   120,
		EffortSeconds:     120,
		RunsToUnlock:      2,
		MaxHints:          3,
		ResetAfter:        24 * time.Hour,
		MaxDescriptionLen: 1500,
	}
}

// Normalize replaces non-positive fields with their defaults
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.ThinkingSeconds <= 0 {
		p.ThinkingSeconds = d.ThinkingSeconds
	}
	if p.EffortSeconds <= 0 {
		p.EffortSeconds = d.EffortSeconds
	}
	if p.RunsToUnlock <= 0 {
		p.RunsToUnlock = d.RunsToUnlock
	}
	if p.MaxHints <= 0 {
		p.MaxHints = d.MaxHints
	}
	if p.ResetAfter <= 0 {
		p.ResetAfter = d.ResetAfter
	}
	if p.MaxDescriptionLen <= 0 {
		p.MaxDescriptionLen = d.MaxDescriptionLen
	}
	return p
}

// -----------------------------------------------------------------------------
// EffortState - Persisted effort gate counters
// -----------------------------------------------------------------------------

// EffortState is the persisted form of the effort gate.
// When Active is false, TimeLeft and RunCount hold their defaults.
type EffortState struct {
	Active   bool `json:"effortGateActive"`
	TimeLeft int  `json:"effortTimeLeft"`
	RunCount int  `json:"runCount"`
}

// DefaultEffortState returns an inactive gate for the policy
func DefaultEffortState(p Policy) EffortState {
	return EffortState{TimeLeft: p.EffortSeconds}
}

// -----------------------------------------------------------------------------
// AppState - Persisted session state for the current problem
// -----------------------------------------------------------------------------

// AppState is the canonical session state for a single problem
type AppState struct {
	Phase              Phase          `json:"phase"`
	Confidence         Confidence     `json:"confidence"`
	HintsUsed          int            `json:"hintsUsed"`
	SkipUsed           bool           `json:"skipUsed"`
	ThinkingTimeLeft   int            `json:"thinkingTimeLeft"`
	CurrentProblem     string         `json:"currentProblem"`
	ProblemTitle       string         `json:"problemTitle"`
	ProblemDescription string         `json:"problemDescription"`
	UserExplanation    string         `json:"userExplanation"`
	LastAttemptAt      *time.Time     `json:"lastAttemptTimestamp"`
	ExplanationHistory []string       `json:"explanationHistory"`
	UsedHintTypes      []HintCategory `json:"usedHintTypes"`
}

// DefaultAppState returns a fresh session with no problem attached
func DefaultAppState(p Policy) AppState {
	return AppState{
		Phase:              PhaseThinking,
		Confidence:         ConfidenceLow,
		ThinkingTimeLeft:   p.ThinkingSeconds,
		ExplanationHistory: []string{},
		UsedHintTypes:      []HintCategory{},
	}
}

// Clone returns a deep copy so callers cannot alias the slices
func (s AppState) Clone() AppState {
	out := s
	out.ExplanationHistory = append([]string{}, s.ExplanationHistory...)
	out.UsedHintTypes = append([]HintCategory{}, s.UsedHintTypes...)
	if s.LastAttemptAt != nil {
		t := *s.LastAttemptAt
		out.LastAttemptAt = &t
	}
	return out
}

// ResetSession re-seeds the per-attempt fields and keeps the identity and metadata
func (s AppState) ResetSession(p Policy) AppState {
	fresh := DefaultAppState(p)
	fresh.CurrentProblem = s.CurrentProblem
	fresh.ProblemTitle = s.ProblemTitle
	fresh.ProblemDescription = s.ProblemDescription
	fresh.LastAttemptAt = s.LastAttemptAt
	return fresh
}

// HintsRemaining reports how many hints are left in the budget
func (s AppState) HintsRemaining(p Policy) int {
	left := p.MaxHints - s.HintsUsed
	if left < 0 {
		return 0
	}
	return left
}

// Snapshot is the pair of records written atomically on every mutation
type Snapshot struct {
	Effort EffortState `json:"effortState"`
	App    AppState    `json:"appState"`
}

// DefaultSnapshot returns the state used before anything is persisted
func DefaultSnapshot(p Policy) Snapshot {
	return Snapshot{Effort: DefaultEffortState(p), App: DefaultAppState(p)}
}

// -----------------------------------------------------------------------------
// AppStatePatch - Whitelisted partial update
// -----------------------------------------------------------------------------

// AppStatePatch lists the fields a front end may overwrite.
// Nil fields are left untouched. Identity, metadata and the timestamp are not
// patchable; they belong to the lifecycle and signal handlers.
//
// ExpectProblem and ExpectPhase are preconditions, not fields: when set, the
// patch is refused with ErrSessionChanged unless the canonical state still
// matches.
type AppStatePatch struct {
	ExpectProblem *string `json:"expectProblem,omitempty"`
	ExpectPhase   *Phase  `json:"expectPhase,omitempty"`

	Phase              *Phase          `json:"phase,omitempty"`
	Confidence         *Confidence     `json:"confidence,omitempty"`
	HintsUsed          *int            `json:"hintsUsed,omitempty"`
	SkipUsed           *bool           `json:"skipUsed,omitempty"`
	ThinkingTimeLeft   *int            `json:"thinkingTimeLeft,omitempty"`
	UserExplanation    *string         `json:"userExplanation,omitempty"`
	ExplanationHistory *[]string       `json:"explanationHistory,omitempty"`
	UsedHintTypes      *[]HintCategory `json:"usedHintTypes,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p AppStatePatch) Empty() bool {
	return p.Phase == nil && p.Confidence == nil && p.HintsUsed == nil &&
		p.SkipUsed == nil && p.ThinkingTimeLeft == nil && p.UserExplanation == nil &&
		p.ExplanationHistory == nil && p.UsedHintTypes == nil
}

// Validate checks every present field against the policy
func (p AppStatePatch) Validate(policy Policy) error {
	if p.ExpectPhase != nil && !p.ExpectPhase.Valid() {
		return fmt.Errorf("%w: expectPhase %q", ErrInvalidInput, *p.ExpectPhase)
	}
	if p.Phase != nil && !p.Phase.Valid() {
		return fmt.Errorf("%w: phase %q", ErrInvalidInput, *p.Phase)
	}
	if p.Confidence != nil && !p.Confidence.Valid() {
		return fmt.Errorf("%w: confidence %q", ErrInvalidInput, *p.Confidence)
	}
	if p.HintsUsed != nil && (*p.HintsUsed < 0 || *p.HintsUsed > policy.MaxHints) {
		return fmt.Errorf("%w: hintsUsed %d out of range", ErrInvalidInput, *p.HintsUsed)
	}
	if p.ThinkingTimeLeft != nil && (*p.ThinkingTimeLeft < 0 || *p.ThinkingTimeLeft > policy.ThinkingSeconds) {
		return fmt.Errorf("%w: thinkingTimeLeft %d out of range", ErrInvalidInput, *p.ThinkingTimeLeft)
	}
	if p.UsedHintTypes != nil {
		seen := make(map[HintCategory]bool)
		for _, h := range *p.UsedHintTypes {
			if !h.Valid() {
				return fmt.Errorf("%w: hint category %q", ErrInvalidInput, h)
			}
			if seen[h] {
				return fmt.Errorf("%w: hint category %q repeated", ErrInvalidInput, h)
			}
			seen[h] = true
		}
	}
	return nil
}

// Check reports ErrSessionChanged when a precondition does not hold for s
func (p AppStatePatch) Check(s AppState) error {
	if p.ExpectProblem != nil && *p.ExpectProblem != s.CurrentProblem {
		return fmt.Errorf("%w: problem is %q", ErrSessionChanged, s.CurrentProblem)
	}
	if p.ExpectPhase != nil && *p.ExpectPhase != s.Phase {
		return fmt.Errorf("%w: phase is %s", ErrSessionChanged, s.Phase)
	}
	return nil
}

// Apply returns s with the present fields overwritten
func (p AppStatePatch) Apply(s AppState) AppState {
	out := s.Clone()
	if p.Phase != nil {
		out.Phase = *p.Phase
	}
	if p.Confidence != nil {
		out.Confidence = *p.Confidence
	}
	if p.HintsUsed != nil {
		out.HintsUsed = *p.HintsUsed
	}
	if p.SkipUsed != nil {
		out.SkipUsed = *p.SkipUsed
	}
	if p.ThinkingTimeLeft != nil {
		out.ThinkingTimeLeft = *p.ThinkingTimeLeft
	}
	if p.UserExplanation != nil {
		out.UserExplanation = *p.UserExplanation
	}
	if p.ExplanationHistory != nil {
		out.ExplanationHistory = append([]string{}, (*p.ExplanationHistory)...)
	}
	if p.UsedHintTypes != nil {
		out.UsedHintTypes = append([]HintCategory{}, (*p.UsedHintTypes)...)
	}
	return out
}

// -----------------------------------------------------------------------------
// Problem signals
// -----------------------------------------------------------------------------

// UnknownProblemTitle is used when the page did not expose a title
const UnknownProblemTitle = "Unknown Problem"

// ProblemInfo is scraped metadata for the current problem
type ProblemInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Reset reasons reported by the lifecycle manager
const (
	ResetReasonIdentityChanged = "identity-changed"
	ResetReasonStale           = "stale"
)

// ProblemCheck is the outcome of a CHECK_PROBLEM signal
type ProblemCheck struct {
	Reset     bool   `json:"reset"`
	Reason    string `json:"reason,omitempty"`
	Problem   string `json:"problem,omitempty"`
	DaysSince string `json:"daysSince,omitempty"`
}
