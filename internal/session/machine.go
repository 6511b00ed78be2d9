// Package session drives a learner through THINKING, INPUT, FEEDBACK and
// REWARD for the current problem. It is a front-end controller: canonical
// state lives with the Backend and every transition is written there before
// the machine's own view changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dsamentor/mentor/internal/clock"
	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/hint"
)

// EvaluatingFeedback is shown while an explanation is with the evaluator
const EvaluatingFeedback = "Evaluating your approach..."

// Config wires a Machine
type Config struct {
	Backend   Backend
	Evaluator Evaluator
	Allocator *hint.Allocator
	Clock     clock.Clock
	Policy    domain.Policy
	Recorder  Recorder
}

// View is a read-only snapshot of what the front end should render
type View struct {
	App             domain.AppState     `json:"appState"`
	Effort          domain.EffortState  `json:"effortState"`
	Feedback        string              `json:"feedback,omitempty"`
	Pending         bool                `json:"pending"`
	ThinkingRunning bool                `json:"thinkingRunning"`
	CanProceed      bool                `json:"canProceed"`
	HintsRemaining  int                 `json:"hintsRemaining"`
	HintCategory    domain.HintCategory `json:"hintCategory,omitempty"`
	LastCheck       domain.ProblemCheck `json:"lastCheck"`
}

// Machine is the session state machine. It is safe for concurrent use.
type Machine struct {
	backend   Backend
	evaluator Evaluator
	allocator *hint.Allocator
	clock     clock.Clock
	policy    domain.Policy
	recorder  Recorder

	mu              sync.Mutex
	app             domain.AppState
	effort          domain.EffortState
	feedback        string
	pending         bool
	hintCategory    domain.HintCategory
	lastCheck       domain.ProblemCheck
	thinkingStarted bool
	thinkingExpired bool
	ticker          clock.Ticker
	stop            chan struct{}
}

// NewMachine creates a machine with default state; call Load before use
func NewMachine(cfg Config) *Machine {
	policy := cfg.Policy.Normalize()
	if cfg.Allocator == nil {
		cfg.Allocator = hint.NewAllocator(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	return &Machine{
		backend:   cfg.Backend,
		evaluator: cfg.Evaluator,
		allocator: cfg.Allocator,
		clock:     cfg.Clock,
		policy:    policy,
		recorder:  cfg.Recorder,
		app:       domain.DefaultAppState(policy),
		effort:    domain.DefaultEffortState(policy),
	}
}

// Load reports the observed URL to the backend (skipped when empty) and
// refreshes both records from it. A running thinking countdown is saved first
// and keeps running when the session is unchanged.
func (m *Machine) Load(ctx context.Context, url string) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending {
		return m.viewLocked(), domain.ErrEvaluationPending
	}

	if m.ticker != nil {
		if err := m.saveThinkingLocked(ctx); err != nil {
			slog.Warn("save thinking time", "error", err)
		}
	}

	if url != "" {
		check, err := m.backend.CheckProblem(ctx, url)
		if err != nil {
			return m.viewLocked(), fmt.Errorf("check problem: %w", err)
		}
		m.lastCheck = check
		if check.Reset {
			slog.Info("session reset by backend", "reason", check.Reason, "problem", check.Problem)
		}
	}

	app, err := m.backend.AppState(ctx)
	if err != nil {
		return m.viewLocked(), fmt.Errorf("load app state: %w", err)
	}
	effort, err := m.backend.EffortState(ctx)
	if err != nil {
		return m.viewLocked(), fmt.Errorf("load effort state: %w", err)
	}

	m.adoptLocked(app)
	m.effort = effort
	return m.viewLocked(), nil
}

// View returns the current view
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// ApplyPush folds a background notification into the cached effort state
func (m *Machine) ApplyPush(e domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.effort = e.ApplyTo(m.effort, m.policy)
}

// Close stops the thinking countdown and saves the remaining seconds
func (m *Machine) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker == nil {
		return nil
	}
	m.stopCountdownLocked()
	return m.saveThinkingLocked(ctx)
}

// -----------------------------------------------------------------------------
// THINKING
// -----------------------------------------------------------------------------

// StartThinking starts the thinking countdown from the saved remaining time
func (m *Machine) StartThinking(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshLocked(ctx); err != nil {
		return m.viewLocked(), err
	}
	if err := m.requirePhaseLocked(domain.PhaseThinking); err != nil {
		return m.rejectLocked(err)
	}
	if m.thinkingStarted {
		return m.rejectLocked(domain.ErrThinkingStarted)
	}

	m.thinkingStarted = true
	if m.app.ThinkingTimeLeft <= 0 {
		m.thinkingExpired = true
		return m.viewLocked(), nil
	}
	m.startCountdownLocked()
	return m.viewLocked(), nil
}

// SkipThinking spends the one-shot skip and moves to INPUT
func (m *Machine) SkipThinking(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshLocked(ctx); err != nil {
		return m.viewLocked(), err
	}
	if err := m.requirePhaseLocked(domain.PhaseThinking); err != nil {
		return m.rejectLocked(err)
	}
	if m.app.SkipUsed {
		return m.rejectLocked(domain.ErrSkipUsed)
	}

	m.stopCountdownLocked()
	skip := true
	phase := domain.PhaseInput
	left := m.app.ThinkingTimeLeft
	if err := m.transitionLocked(ctx, domain.AppStatePatch{
		Phase:            &phase,
		SkipUsed:         &skip,
		ThinkingTimeLeft: &left,
	}); err != nil {
		return m.rejectLocked(err)
	}
	return m.viewLocked(), nil
}

// ProceedToInput moves to INPUT once the thinking countdown has expired
func (m *Machine) ProceedToInput(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshLocked(ctx); err != nil {
		return m.viewLocked(), err
	}
	if err := m.requirePhaseLocked(domain.PhaseThinking); err != nil {
		return m.rejectLocked(err)
	}
	if !m.thinkingExpired {
		return m.rejectLocked(domain.ErrThinkingNotExpired)
	}

	phase := domain.PhaseInput
	zero := 0
	if err := m.transitionLocked(ctx, domain.AppStatePatch{Phase: &phase, ThinkingTimeLeft: &zero}); err != nil {
		return m.rejectLocked(err)
	}
	return m.viewLocked(), nil
}

func (m *Machine) startCountdownLocked() {
	if m.ticker != nil {
		return
	}
	m.ticker = m.clock.NewTicker(time.Second)
	m.stop = make(chan struct{})
	go m.runCountdown(m.ticker, m.stop)
}

func (m *Machine) stopCountdownLocked() {
	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.ticker = nil
	m.stop = nil
}

func (m *Machine) runCountdown(t clock.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			if m.onThinkingTick(stop) {
				return
			}
		}
	}
}

// onThinkingTick reports whether the countdown is finished
func (m *Machine) onThinkingTick(stop chan struct{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != stop {
		return true
	}
	m.app.ThinkingTimeLeft--
	if m.app.ThinkingTimeLeft > 0 {
		return false
	}
	m.app.ThinkingTimeLeft = 0
	m.thinkingExpired = true
	m.stopCountdownLocked()
	return true
}

// -----------------------------------------------------------------------------
// INPUT / FEEDBACK / REWARD
// -----------------------------------------------------------------------------

// SubmitExplanation sends the explanation for evaluation. The machine shows
// FEEDBACK with a pending indicator until the evaluator answers. The result is
// dropped when the session changed while the evaluation was out.
func (m *Machine) SubmitExplanation(ctx context.Context, text string) (View, error) {
	m.mu.Lock()
	if err := m.refreshLocked(ctx); err != nil {
		v := m.viewLocked()
		m.mu.Unlock()
		return v, err
	}
	if err := m.requirePhaseLocked(domain.PhaseInput); err != nil {
		v, err := m.rejectLocked(err)
		m.mu.Unlock()
		return v, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		v, err := m.rejectLocked(domain.ErrEmptyExplanation)
		m.mu.Unlock()
		return v, err
	}

	phase := domain.PhaseFeedback
	if err := m.transitionLocked(ctx, domain.AppStatePatch{Phase: &phase}); err != nil {
		v, err := m.rejectLocked(err)
		m.mu.Unlock()
		return v, err
	}
	m.pending = true
	m.feedback = EvaluatingFeedback
	m.hintCategory = ""
	problem := m.app.CurrentProblem
	req := domain.EvaluationRequest{
		Explanation:        text,
		ExplanationHistory: append([]string(nil), m.app.ExplanationHistory...),
	}
	m.mu.Unlock()

	eval := m.evaluator.Evaluate(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = false

	if eval.Verdict == domain.VerdictDuplicate {
		m.feedback = eval.Feedback
		slog.Info("explanation rejected as duplicate", "problem", problem)
		return m.viewLocked(), nil
	}

	app, err := m.backend.RecordExplanation(ctx, domain.ExplanationRecord{
		Problem:         problem,
		Explanation:     text,
		ConfidenceDelta: eval.ConfidenceDelta,
	})
	if err != nil {
		if domain.IsPolicyRejection(err) {
			m.resyncLocked(ctx)
			slog.Info("evaluation dropped", "problem", problem, "error", err)
			return m.rejectLocked(err)
		}
		m.feedback = eval.Feedback
		return m.viewLocked(), fmt.Errorf("save explanation: %w", err)
	}
	m.app = app
	m.feedback = eval.Feedback
	slog.Info("explanation evaluated",
		"verdict", eval.Verdict,
		"delta", eval.ConfidenceDelta,
		"confidence", app.Confidence,
	)
	return m.viewLocked(), nil
}

// RequestHint grants one hint of a randomly chosen unused category
func (m *Machine) RequestHint(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending {
		return m.rejectLocked(domain.ErrEvaluationPending)
	}
	if err := m.refreshLocked(ctx); err != nil {
		return m.viewLocked(), err
	}
	if m.app.Phase == domain.PhaseThinking {
		return m.rejectLocked(domain.ErrInvalidTransition)
	}
	if err := m.checkHintGatesLocked(ctx); err != nil {
		return m.rejectLocked(err)
	}
	category, ok := m.allocator.Select(m.app.UsedHintTypes)
	if !ok {
		return m.rejectLocked(domain.ErrNoHintCategories)
	}
	return m.grantLocked(ctx, domain.HintGrant{Problem: m.app.CurrentProblem, Category: category})
}

// SelectRewardOption grants a hint of the learner's chosen category. It is
// gated like RequestHint and drops confidence back to MEDIUM.
func (m *Machine) SelectRewardOption(ctx context.Context, category domain.HintCategory) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending {
		return m.rejectLocked(domain.ErrEvaluationPending)
	}
	if err := m.refreshLocked(ctx); err != nil {
		return m.viewLocked(), err
	}
	if err := m.requirePhaseLocked(domain.PhaseReward); err != nil {
		return m.rejectLocked(err)
	}
	if !category.Valid() {
		return m.viewLocked(), fmt.Errorf("%w: hint category %q", domain.ErrInvalidInput, category)
	}
	if domain.ContainsHint(m.app.UsedHintTypes, category) {
		return m.rejectLocked(domain.ErrHintCategoryUsed)
	}
	if err := m.checkHintGatesLocked(ctx); err != nil {
		return m.rejectLocked(err)
	}
	return m.grantLocked(ctx, domain.HintGrant{Problem: m.app.CurrentProblem, Category: category, Reward: true})
}

// ReviseThought returns to INPUT keeping confidence and history
func (m *Machine) ReviseThought(ctx context.Context) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending {
		return m.rejectLocked(domain.ErrEvaluationPending)
	}
	if err := m.refreshLocked(ctx); err != nil {
		return m.viewLocked(), err
	}
	if m.app.Phase != domain.PhaseFeedback && m.app.Phase != domain.PhaseReward {
		return m.rejectLocked(domain.ErrInvalidTransition)
	}

	phase := domain.PhaseInput
	if err := m.transitionLocked(ctx, domain.AppStatePatch{Phase: &phase}); err != nil {
		return m.rejectLocked(err)
	}
	m.feedback = ""
	m.hintCategory = ""
	return m.viewLocked(), nil
}

// checkHintGatesLocked applies the budget and effort gate against the
// backend's current effort state
func (m *Machine) checkHintGatesLocked(ctx context.Context) error {
	if m.pending {
		return domain.ErrEvaluationPending
	}
	if m.app.HintsUsed >= m.policy.MaxHints {
		return domain.ErrHintBudgetExhausted
	}
	effort, err := m.backend.EffortState(ctx)
	if err != nil {
		slog.Warn("effort state unavailable, using cached", "error", err)
	} else {
		m.effort = effort
	}
	if m.effort.Active {
		return domain.ErrEffortGateActive
	}
	return nil
}

// grantLocked spends the hint on the backend, which arms the effort gate,
// then fetches the hint text. The budget is spent even when hint generation
// falls back.
func (m *Machine) grantLocked(ctx context.Context, g domain.HintGrant) (View, error) {
	res, err := m.backend.GrantHint(ctx, g)
	if err != nil {
		if domain.IsPolicyRejection(err) {
			m.resyncLocked(ctx)
			return m.rejectLocked(err)
		}
		return m.viewLocked(), fmt.Errorf("grant hint: %w", err)
	}
	m.app = res.App
	m.effort = res.Effort
	m.recorder.HintGranted(g.Category)

	text := m.evaluator.GenerateHint(ctx, domain.HintRequest{
		HintType:           g.Category,
		ProblemTitle:       m.app.ProblemTitle,
		ProblemDescription: m.app.ProblemDescription,
		UserExplanation:    m.app.UserExplanation,
	})
	m.hintCategory = g.Category
	m.feedback = text + "\n\n" + domain.HintFollowUp

	slog.Info("hint granted", "category", g.Category, "hints_used", m.app.HintsUsed)
	return m.viewLocked(), nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (m *Machine) requirePhaseLocked(want domain.Phase) error {
	if m.pending {
		return domain.ErrEvaluationPending
	}
	if m.app.Phase != want {
		return fmt.Errorf("%w: %s in %s", domain.ErrInvalidTransition, want, m.app.Phase)
	}
	return nil
}

// rejectLocked surfaces a policy rejection as feedback, leaving state alone
func (m *Machine) rejectLocked(err error) (View, error) {
	if domain.IsPolicyRejection(err) {
		m.feedback = domain.FeedbackFor(err, m.effort, m.policy)
		m.recorder.Rejected(domain.RejectionReason(err))
	}
	return m.viewLocked(), err
}

func (m *Machine) persistLocked(ctx context.Context, patch domain.AppStatePatch) error {
	app, err := m.backend.UpdateAppState(ctx, patch)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	m.app = app
	return nil
}

// transitionLocked saves patch only if the backend still holds the problem
// and phase the machine last saw. A refused write resyncs the machine.
func (m *Machine) transitionLocked(ctx context.Context, patch domain.AppStatePatch) error {
	problem, phase := m.app.CurrentProblem, m.app.Phase
	patch.ExpectProblem = &problem
	patch.ExpectPhase = &phase
	err := m.persistLocked(ctx, patch)
	if errors.Is(err, domain.ErrSessionChanged) {
		m.resyncLocked(ctx)
	}
	return err
}

// saveThinkingLocked writes the countdown's seconds left. A session that
// moved on elsewhere keeps its own value.
func (m *Machine) saveThinkingLocked(ctx context.Context) error {
	left := m.app.ThinkingTimeLeft
	problem := m.app.CurrentProblem
	phase := domain.PhaseThinking
	err := m.persistLocked(ctx, domain.AppStatePatch{
		ThinkingTimeLeft: &left,
		ExpectProblem:    &problem,
		ExpectPhase:      &phase,
	})
	if errors.Is(err, domain.ErrSessionChanged) {
		return nil
	}
	return err
}

// refreshLocked adopts the backend's session before a guarded action
func (m *Machine) refreshLocked(ctx context.Context) error {
	if m.pending {
		return nil
	}
	app, err := m.backend.AppState(ctx)
	if err != nil {
		return fmt.Errorf("load app state: %w", err)
	}
	m.adoptLocked(app)
	return nil
}

// resyncLocked refreshes both records after the backend refused a write
func (m *Machine) resyncLocked(ctx context.Context) {
	if err := m.refreshLocked(ctx); err != nil {
		slog.Warn("resync session", "error", err)
	}
	effort, err := m.backend.EffortState(ctx)
	if err != nil {
		slog.Warn("resync effort state", "error", err)
		return
	}
	m.effort = effort
}

// adoptLocked replaces the cached session. The local countdown and the
// displayed feedback survive only while the backend holds the same session:
// same problem, same phase and no write since the machine last looked.
func (m *Machine) adoptLocked(app domain.AppState) {
	same := app.CurrentProblem == m.app.CurrentProblem &&
		app.Phase == m.app.Phase &&
		sameTime(app.LastAttemptAt, m.app.LastAttemptAt)
	if same && app.Phase == domain.PhaseThinking && m.thinkingStarted {
		app.ThinkingTimeLeft = m.app.ThinkingTimeLeft
	}
	m.app = app
	if same {
		return
	}
	m.stopCountdownLocked()
	m.thinkingStarted = false
	m.thinkingExpired = app.Phase == domain.PhaseThinking && app.ThinkingTimeLeft <= 0
	m.feedback = ""
	m.hintCategory = ""
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (m *Machine) viewLocked() View {
	return View{
		App:             m.app.Clone(),
		Effort:          m.effort,
		Feedback:        m.feedback,
		Pending:         m.pending,
		ThinkingRunning: m.ticker != nil,
		CanProceed:      m.app.Phase == domain.PhaseThinking && m.thinkingExpired,
		HintsRemaining:  m.app.HintsRemaining(m.policy),
		HintCategory:    m.hintCategory,
		LastCheck:       m.lastCheck,
	}
}
