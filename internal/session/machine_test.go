package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dsamentor/mentor/internal/background"
	"github.com/dsamentor/mentor/internal/clock"
	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/hint"
	"github.com/dsamentor/mentor/internal/storage/local"
)

const (
	twoSumURL   = "https://leetcode.com/problems/two-sum/"
	threeSumURL = "https://leetcode.com/problems/3sum/"
)

var _ Backend = (*background.Service)(nil)

type fakeEvaluator struct {
	mu          sync.Mutex
	evaluations []domain.Evaluation
	hint        string
	requests    []domain.EvaluationRequest
	hintReqs    []domain.HintRequest
}

func (f *fakeEvaluator) Evaluate(_ context.Context, req domain.EvaluationRequest) domain.Evaluation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.evaluations) == 0 {
		return domain.SafeEvaluation()
	}
	e := f.evaluations[0]
	f.evaluations = f.evaluations[1:]
	return e
}

func (f *fakeEvaluator) GenerateHint(_ context.Context, req domain.HintRequest) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hintReqs = append(f.hintReqs, req)
	if f.hint == "" {
		return domain.HintUnavailable
	}
	return f.hint
}

func (f *fakeEvaluator) queue(evals ...domain.Evaluation) {
	f.mu.Lock()
	f.evaluations = append(f.evaluations, evals...)
	f.mu.Unlock()
}

type fakeRecorder struct {
	mu       sync.Mutex
	granted  []domain.HintCategory
	rejected []string
}

func (r *fakeRecorder) HintGranted(c domain.HintCategory) {
	r.mu.Lock()
	r.granted = append(r.granted, c)
	r.mu.Unlock()
}

func (r *fakeRecorder) Rejected(reason string) {
	r.mu.Lock()
	r.rejected = append(r.rejected, reason)
	r.mu.Unlock()
}

// gatedEvaluator holds each evaluation until the test releases it
type gatedEvaluator struct {
	*fakeEvaluator
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEvaluator) Evaluate(ctx context.Context, req domain.EvaluationRequest) domain.Evaluation {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeEvaluator.Evaluate(ctx, req)
}

// laggingBackend answers AppState from a frozen copy, as a surface whose
// last read predates another surface's write would see it
type laggingBackend struct {
	*background.Service
	mu     sync.Mutex
	frozen *domain.AppState
}

func (b *laggingBackend) freeze(app domain.AppState) {
	b.mu.Lock()
	b.frozen = &app
	b.mu.Unlock()
}

func (b *laggingBackend) AppState(ctx context.Context) (domain.AppState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen != nil {
		return b.frozen.Clone(), nil
	}
	return b.Service.AppState(ctx)
}

type fixture struct {
	machine  *Machine
	backend  *background.Service
	eval     *fakeEvaluator
	recorder *fakeRecorder
	clock    *clock.Fake
	policy   domain.Policy
}

func newFixture(t *testing.T, policy domain.Policy) *fixture {
	t.Helper()

	store, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := background.NewService(background.Config{
		Policy: policy,
		Store:  local.NewStateStore(store, policy),
		Clock:  clk,
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	f := &fixture{
		backend:  svc,
		eval:     &fakeEvaluator{hint: "Consider what you need to remember about earlier elements."},
		recorder: &fakeRecorder{},
		clock:    clk,
		policy:   policy,
	}
	f.machine = NewMachine(Config{
		Backend:   svc,
		Evaluator: f.eval,
		Allocator: hint.NewAllocator(rand.NewPCG(7, 11)),
		Clock:     clk,
		Policy:    policy,
		Recorder:  f.recorder,
	})
	t.Cleanup(func() { f.machine.Close(context.Background()) })

	if _, err := f.machine.Load(context.Background(), twoSumURL); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return f
}

// surface opens another front end over backend
func (f *fixture) surface(t *testing.T, backend Backend, eval Evaluator) *Machine {
	t.Helper()
	m := NewMachine(Config{
		Backend:   backend,
		Evaluator: eval,
		Allocator: hint.NewAllocator(rand.NewPCG(3, 5)),
		Clock:     f.clock,
		Policy:    f.policy,
		Recorder:  f.recorder,
	})
	t.Cleanup(func() { m.Close(context.Background()) })
	if _, err := m.Load(context.Background(), ""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return m
}

// toInput moves a fresh session to INPUT with the skip
func (f *fixture) toInput(t *testing.T) {
	t.Helper()
	if _, err := f.machine.SkipThinking(context.Background()); err != nil {
		t.Fatalf("SkipThinking() error = %v", err)
	}
}

func (f *fixture) unlockGate(t *testing.T) {
	t.Helper()
	for i := 0; i < 2; i++ {
		if _, err := f.backend.RunClick(context.Background()); err != nil {
			t.Fatalf("RunClick() error = %v", err)
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func partial() domain.Evaluation {
	return domain.Evaluation{Verdict: domain.VerdictPartial, Feedback: "On the right track.", AllowedHintTypes: []domain.HintCategory{}}
}

func correct() domain.Evaluation {
	return domain.Evaluation{Verdict: domain.VerdictCorrect, ConfidenceDelta: 1, Feedback: "Solid reasoning.", AllowedHintTypes: []domain.HintCategory{}}
}

func TestMachine_EndToEnd(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	m := f.machine

	v := m.View()
	if v.App.Phase != domain.PhaseThinking || v.App.CurrentProblem != "two-sum" {
		t.Fatalf("fresh view = %+v", v.App)
	}

	if _, err := m.StartThinking(ctx); err != nil {
		t.Fatalf("StartThinking() error = %v", err)
	}
	v, err := m.SkipThinking(ctx)
	if err != nil {
		t.Fatalf("SkipThinking() error = %v", err)
	}
	if v.App.Phase != domain.PhaseInput || !v.App.SkipUsed || v.ThinkingRunning {
		t.Errorf("after skip = %+v", v)
	}

	f.eval.queue(partial())
	v, err = m.SubmitExplanation(ctx, "sort the array and use two pointers")
	if err != nil {
		t.Fatalf("SubmitExplanation() error = %v", err)
	}
	if v.App.Confidence != domain.ConfidenceLow || v.App.Phase != domain.PhaseFeedback {
		t.Errorf("after PARTIAL/0 = %s/%s; want LOW/FEEDBACK", v.App.Confidence, v.App.Phase)
	}
	if v.Feedback != "On the right track." || v.Pending {
		t.Errorf("feedback = %q pending=%v", v.Feedback, v.Pending)
	}

	v, err = m.RequestHint(ctx)
	if err != nil {
		t.Fatalf("RequestHint() error = %v", err)
	}
	if v.App.HintsUsed != 1 || len(v.App.UsedHintTypes) != 1 {
		t.Errorf("after hint: hintsUsed=%d used=%v", v.App.HintsUsed, v.App.UsedHintTypes)
	}
	if !v.Effort.Active {
		t.Error("effort gate should be active after a hint")
	}
	if !strings.HasSuffix(v.Feedback, domain.HintFollowUp) {
		t.Errorf("feedback = %q; want follow-up suffix", v.Feedback)
	}

	v, err = m.RequestHint(ctx)
	if !errors.Is(err, domain.ErrEffortGateActive) {
		t.Fatalf("second RequestHint() error = %v; want ErrEffortGateActive", err)
	}
	if v.App.HintsUsed != 1 {
		t.Errorf("hintsUsed = %d; rejected request must not spend budget", v.App.HintsUsed)
	}
	if !strings.Contains(v.Feedback, "Keep working first") {
		t.Errorf("feedback = %q", v.Feedback)
	}

	persisted, _ := f.backend.AppState(ctx)
	if persisted.HintsUsed != 1 || persisted.Phase != domain.PhaseFeedback {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestMachine_ThinkingCountdown(t *testing.T) {
	p := domain.DefaultPolicy()
	p.ThinkingSeconds = 3
	f := newFixture(t, p)
	ctx := context.Background()
	m := f.machine

	if _, err := m.ProceedToInput(ctx); !errors.Is(err, domain.ErrThinkingNotExpired) {
		t.Errorf("ProceedToInput() before expiry error = %v", err)
	}
	if _, err := m.StartThinking(ctx); err != nil {
		t.Fatalf("StartThinking() error = %v", err)
	}
	if _, err := m.StartThinking(ctx); !errors.Is(err, domain.ErrThinkingStarted) {
		t.Errorf("second StartThinking() error = %v; want ErrThinkingStarted", err)
	}

	for i := 0; i < 3; i++ {
		if !f.clock.Tick() {
			t.Fatalf("tick %d not delivered", i)
		}
	}
	eventually(t, func() bool { return m.View().CanProceed })

	v := m.View()
	if v.App.ThinkingTimeLeft != 0 || v.ThinkingRunning {
		t.Errorf("after expiry = %+v", v)
	}

	v, err := m.ProceedToInput(ctx)
	if err != nil {
		t.Fatalf("ProceedToInput() error = %v", err)
	}
	if v.App.Phase != domain.PhaseInput || v.App.SkipUsed {
		t.Errorf("after proceed = %+v", v.App)
	}
}

func TestMachine_ClosePersistsThinkingTime(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()

	_, _ = f.machine.StartThinking(ctx)
	f.clock.Tick()
	f.clock.Tick()
	eventually(t, func() bool { return f.machine.View().App.ThinkingTimeLeft == 118 })

	if err := f.machine.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	app, _ := f.backend.AppState(ctx)
	if app.ThinkingTimeLeft != 118 {
		t.Errorf("persisted ThinkingTimeLeft = %d; want 118", app.ThinkingTimeLeft)
	}
}

func TestMachine_SkipOnlyOnce(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()

	phase := domain.PhaseThinking
	skip := true
	if _, err := f.backend.UpdateAppState(ctx, domain.AppStatePatch{Phase: &phase, SkipUsed: &skip}); err != nil {
		t.Fatalf("UpdateAppState() error = %v", err)
	}
	_, _ = f.machine.Load(ctx, "")

	v, err := f.machine.SkipThinking(ctx)
	if !errors.Is(err, domain.ErrSkipUsed) {
		t.Fatalf("SkipThinking() error = %v; want ErrSkipUsed", err)
	}
	if v.App.Phase != domain.PhaseThinking {
		t.Errorf("Phase = %s; rejection must not change state", v.App.Phase)
	}
	if v.Feedback == "" {
		t.Error("rejection should explain itself")
	}
	if len(f.recorder.rejected) != 1 || f.recorder.rejected[0] != "skip_used" {
		t.Errorf("rejected = %v", f.recorder.rejected)
	}
}

func TestMachine_ConfidenceReachesReward(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	m := f.machine
	f.toInput(t)

	f.eval.queue(correct(), correct())

	v, _ := m.SubmitExplanation(ctx, "hash map from value to index")
	if v.App.Confidence != domain.ConfidenceMedium || v.App.Phase != domain.PhaseFeedback {
		t.Fatalf("after first CORRECT = %s/%s", v.App.Confidence, v.App.Phase)
	}

	if _, err := m.ReviseThought(ctx); err != nil {
		t.Fatalf("ReviseThought() error = %v", err)
	}
	v, _ = m.SubmitExplanation(ctx, "single pass storing complements as I go")
	if v.App.Confidence != domain.ConfidenceHigh || v.App.Phase != domain.PhaseReward {
		t.Errorf("after second CORRECT = %s/%s; want HIGH/REWARD", v.App.Confidence, v.App.Phase)
	}
	if len(v.App.ExplanationHistory) != 2 || v.App.UserExplanation != "single pass storing complements as I go" {
		t.Errorf("history = %v explanation = %q", v.App.ExplanationHistory, v.App.UserExplanation)
	}

	reqs := f.eval.requests
	if len(reqs[1].ExplanationHistory) != 1 {
		t.Errorf("second evaluation history = %v; want the first attempt", reqs[1].ExplanationHistory)
	}
}

func TestMachine_DuplicateKeepsState(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	m := f.machine
	f.toInput(t)

	f.eval.queue(correct())
	_, _ = m.SubmitExplanation(ctx, "I'll use a hash map")
	_, _ = m.ReviseThought(ctx)

	f.eval.queue(domain.Evaluation{
		Verdict:          domain.VerdictDuplicate,
		Feedback:         domain.DuplicateFeedback,
		AllowedHintTypes: []domain.HintCategory{},
	})
	v, err := m.SubmitExplanation(ctx, "use a hashmap for this")
	if err != nil {
		t.Fatalf("SubmitExplanation() error = %v", err)
	}
	if v.App.Confidence != domain.ConfidenceMedium {
		t.Errorf("Confidence = %s; duplicate must not change it", v.App.Confidence)
	}
	if len(v.App.ExplanationHistory) != 1 {
		t.Errorf("history = %v; duplicate must not be appended", v.App.ExplanationHistory)
	}
	if v.App.Phase != domain.PhaseFeedback || v.Feedback != domain.DuplicateFeedback {
		t.Errorf("view = %s %q", v.App.Phase, v.Feedback)
	}
}

func TestMachine_SubmitGuards(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()

	if _, err := f.machine.SubmitExplanation(ctx, "too early"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("SubmitExplanation() in THINKING error = %v", err)
	}
	f.toInput(t)
	if _, err := f.machine.SubmitExplanation(ctx, "   "); !errors.Is(err, domain.ErrEmptyExplanation) {
		t.Errorf("SubmitExplanation(blank) error = %v", err)
	}
	if _, err := f.machine.RequestHint(ctx); err != nil {
		t.Errorf("RequestHint() from INPUT error = %v", err)
	}
}

func TestMachine_HintBudget(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	m := f.machine

	if _, err := m.RequestHint(ctx); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("RequestHint() in THINKING error = %v", err)
	}
	f.toInput(t)

	seen := map[domain.HintCategory]bool{}
	for i := 1; i <= 3; i++ {
		v, err := m.RequestHint(ctx)
		if err != nil {
			t.Fatalf("hint %d error = %v", i, err)
		}
		if v.App.HintsUsed != i {
			t.Errorf("hintsUsed = %d; want %d", v.App.HintsUsed, i)
		}
		if seen[v.HintCategory] {
			t.Errorf("category %s granted twice", v.HintCategory)
		}
		seen[v.HintCategory] = true
		f.unlockGate(t)
	}

	v, err := m.RequestHint(ctx)
	if !errors.Is(err, domain.ErrHintBudgetExhausted) {
		t.Fatalf("fourth RequestHint() error = %v; want ErrHintBudgetExhausted", err)
	}
	if v.App.HintsUsed != 3 || v.HintsRemaining != 0 {
		t.Errorf("after exhaustion = %+v", v)
	}
	if len(f.recorder.granted) != 3 {
		t.Errorf("granted = %v", f.recorder.granted)
	}
}

func TestMachine_HintFallbackStillSpendsBudget(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	f.eval.hint = ""
	f.toInput(t)

	v, err := f.machine.RequestHint(context.Background())
	if err != nil {
		t.Fatalf("RequestHint() error = %v", err)
	}
	if v.App.HintsUsed != 1 {
		t.Errorf("hintsUsed = %d; want 1", v.App.HintsUsed)
	}
	if !strings.HasPrefix(v.Feedback, domain.HintUnavailable) {
		t.Errorf("feedback = %q", v.Feedback)
	}
}

func TestMachine_RewardOption(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	m := f.machine
	f.toInput(t)

	if _, err := m.SelectRewardOption(ctx, domain.HintComplexity); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("SelectRewardOption() outside REWARD error = %v", err)
	}

	f.eval.queue(correct())
	_, _ = m.SubmitExplanation(ctx, "hash map lookup of complements")
	_, _ = m.ReviseThought(ctx)
	f.eval.queue(correct())
	v, _ := m.SubmitExplanation(ctx, "one pass, check complement before inserting")
	if v.App.Phase != domain.PhaseReward {
		t.Fatalf("Phase = %s; want REWARD", v.App.Phase)
	}

	v, err := m.SelectRewardOption(ctx, domain.HintComplexity)
	if err != nil {
		t.Fatalf("SelectRewardOption() error = %v", err)
	}
	if v.App.Confidence != domain.ConfidenceMedium || v.App.Phase != domain.PhaseFeedback {
		t.Errorf("after reward = %s/%s; want MEDIUM/FEEDBACK", v.App.Confidence, v.App.Phase)
	}
	if !domain.ContainsHint(v.App.UsedHintTypes, domain.HintComplexity) || v.App.HintsUsed != 1 {
		t.Errorf("used = %v hints = %d", v.App.UsedHintTypes, v.App.HintsUsed)
	}
	if !v.Effort.Active {
		t.Error("reward hint should arm the effort gate")
	}
	if got := f.eval.hintReqs[0].HintType; got != domain.HintComplexity {
		t.Errorf("hint request category = %s", got)
	}
}

func TestMachine_RewardOptionCategoryUsed(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()

	phase := domain.PhaseReward
	conf := domain.ConfidenceHigh
	used := []domain.HintCategory{domain.HintStructural}
	hints := 1
	_, _ = f.backend.UpdateAppState(ctx, domain.AppStatePatch{
		Phase: &phase, Confidence: &conf, UsedHintTypes: &used, HintsUsed: &hints,
	})
	_, _ = f.machine.Load(ctx, "")

	v, err := f.machine.SelectRewardOption(ctx, domain.HintStructural)
	if !errors.Is(err, domain.ErrHintCategoryUsed) {
		t.Fatalf("SelectRewardOption() error = %v; want ErrHintCategoryUsed", err)
	}
	if v.App.Confidence != domain.ConfidenceHigh || v.App.HintsUsed != 1 {
		t.Errorf("state changed on rejection: %+v", v.App)
	}

	if _, err := f.machine.SelectRewardOption(ctx, "Solution"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("unknown category error = %v", err)
	}
}

func TestMachine_LoadNewProblemResets(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	f.toInput(t)
	_, _ = f.machine.RequestHint(ctx)

	v, err := f.machine.Load(ctx, "https://leetcode.com/problems/3sum/?envType=daily")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !v.LastCheck.Reset || v.LastCheck.Reason != domain.ResetReasonIdentityChanged {
		t.Errorf("LastCheck = %+v", v.LastCheck)
	}
	if v.App.CurrentProblem != "3sum" || v.App.HintsUsed != 0 || v.App.SkipUsed || v.Effort.Active {
		t.Errorf("state not reset: app=%+v effort=%+v", v.App, v.Effort)
	}
	if v.Feedback != "" {
		t.Errorf("Feedback = %q; want cleared", v.Feedback)
	}
}

func TestMachine_ApplyPush(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	m := f.machine
	now := time.Now()

	m.ApplyPush(domain.NewRunCountUpdate(1, now))
	m.ApplyPush(domain.NewEffortTimerUpdate(42, now))
	if got := m.View().Effort; got.RunCount != 1 || got.TimeLeft != 42 {
		t.Errorf("Effort = %+v", got)
	}
	m.ApplyPush(domain.NewEffortUnlocked(now))
	if got := m.View().Effort; got != domain.DefaultEffortState(domain.DefaultPolicy()) {
		t.Errorf("Effort after unlock = %+v; want defaults", got)
	}
}

func TestMachine_LoadKeepsThinkingCountdown(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	m := f.machine

	if _, err := m.StartThinking(ctx); err != nil {
		t.Fatalf("StartThinking() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		f.clock.Tick()
	}
	eventually(t, func() bool { return m.View().App.ThinkingTimeLeft == 117 })

	v, err := m.Load(ctx, twoSumURL)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !v.ThinkingRunning || v.App.ThinkingTimeLeft != 117 {
		t.Errorf("after Load: running=%v left=%d; want running with 117", v.ThinkingRunning, v.App.ThinkingTimeLeft)
	}
	app, _ := f.backend.AppState(ctx)
	if app.ThinkingTimeLeft != 117 {
		t.Errorf("persisted ThinkingTimeLeft = %d; want 117", app.ThinkingTimeLeft)
	}

	f.clock.Tick()
	eventually(t, func() bool { return m.View().App.ThinkingTimeLeft == 116 })
	if _, err := m.StartThinking(ctx); !errors.Is(err, domain.ErrThinkingStarted) {
		t.Errorf("StartThinking() after Load error = %v; want ErrThinkingStarted", err)
	}
}

func TestMachine_OtherSurfaceResetWins(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	m := f.machine
	other := f.surface(t, f.backend, f.eval)

	f.toInput(t)
	f.eval.queue(partial())
	if _, err := m.SubmitExplanation(ctx, "use a hash map of complements"); err != nil {
		t.Fatalf("SubmitExplanation() error = %v", err)
	}

	if _, err := other.Load(ctx, threeSumURL); err != nil {
		t.Fatalf("other Load() error = %v", err)
	}

	v, err := m.RequestHint(ctx)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("RequestHint() error = %v; want ErrInvalidTransition", err)
	}
	if v.App.CurrentProblem != "3sum" || v.App.Phase != domain.PhaseThinking || v.ThinkingRunning {
		t.Errorf("view = %s/%s running=%v; want 3sum/THINKING stopped", v.App.CurrentProblem, v.App.Phase, v.ThinkingRunning)
	}
	if _, err := m.ReviseThought(ctx); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("ReviseThought() error = %v; want ErrInvalidTransition", err)
	}

	app, _ := f.backend.AppState(ctx)
	if app.CurrentProblem != "3sum" || app.Phase != domain.PhaseThinking || app.HintsUsed != 0 ||
		len(app.ExplanationHistory) != 0 || len(app.UsedHintTypes) != 0 {
		t.Errorf("canonical = %+v; want a fresh 3sum session", app)
	}
	effort, _ := f.backend.EffortState(ctx)
	if effort.Active {
		t.Error("effort gate armed for the new problem")
	}
}

func TestMachine_StaleReadRefusedByBackend(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	f.toInput(t)
	f.eval.queue(partial())
	if _, err := f.machine.SubmitExplanation(ctx, "use a hash map of complements"); err != nil {
		t.Fatalf("SubmitExplanation() error = %v", err)
	}

	lag := &laggingBackend{Service: f.backend}
	stale := f.surface(t, lag, f.eval)
	before, _ := f.backend.AppState(ctx)
	lag.freeze(before)
	if _, err := f.backend.CheckProblem(ctx, threeSumURL); err != nil {
		t.Fatalf("CheckProblem() error = %v", err)
	}

	if _, err := stale.RequestHint(ctx); !errors.Is(err, domain.ErrSessionChanged) {
		t.Errorf("RequestHint() error = %v; want ErrSessionChanged", err)
	}
	if _, err := stale.ReviseThought(ctx); !errors.Is(err, domain.ErrSessionChanged) {
		t.Errorf("ReviseThought() error = %v; want ErrSessionChanged", err)
	}
	if v := stale.View(); !strings.Contains(v.Feedback, "another window") {
		t.Errorf("feedback = %q", v.Feedback)
	}

	app, _ := f.backend.AppState(ctx)
	if app.CurrentProblem != "3sum" || app.Phase != domain.PhaseThinking || app.HintsUsed != 0 {
		t.Errorf("canonical = %+v; want untouched 3sum session", app)
	}
	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	if len(f.recorder.granted) != 0 {
		t.Errorf("granted = %v; want none", f.recorder.granted)
	}
}

func TestMachine_ResetDuringEvaluationDropsResult(t *testing.T) {
	tests := []struct {
		name    string
		reset   func(ctx context.Context, svc *background.Service) error
		problem string
	}{
		{
			name: "new problem",
			reset: func(ctx context.Context, svc *background.Service) error {
				_, err := svc.CheckProblem(ctx, threeSumURL)
				return err
			},
			problem: "3sum",
		},
		{
			name: "operator reset",
			reset: func(ctx context.Context, svc *background.Service) error {
				_, err := svc.AdminReset(ctx)
				return err
			},
			problem: "two-sum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.DefaultPolicy())
			ctx := context.Background()
			eval := &gatedEvaluator{
				fakeEvaluator: &fakeEvaluator{},
				entered:       make(chan struct{}),
				release:       make(chan struct{}),
			}
			eval.queue(correct())
			m := f.surface(t, f.backend, eval)
			if _, err := m.SkipThinking(ctx); err != nil {
				t.Fatalf("SkipThinking() error = %v", err)
			}

			type result struct {
				v   View
				err error
			}
			done := make(chan result, 1)
			go func() {
				v, err := m.SubmitExplanation(ctx, "use a hash map of complements")
				done <- result{v, err}
			}()

			<-eval.entered
			if err := tt.reset(ctx, f.backend); err != nil {
				t.Fatalf("reset error = %v", err)
			}
			close(eval.release)
			r := <-done

			if !errors.Is(r.err, domain.ErrSessionChanged) {
				t.Errorf("SubmitExplanation() error = %v; want ErrSessionChanged", r.err)
			}
			if r.v.Pending || r.v.App.CurrentProblem != tt.problem || r.v.App.Phase != domain.PhaseThinking {
				t.Errorf("view = %+v", r.v)
			}

			app, _ := f.backend.AppState(ctx)
			if app.CurrentProblem != tt.problem || app.Confidence != domain.ConfidenceLow ||
				len(app.ExplanationHistory) != 0 || app.UserExplanation != "" {
				t.Errorf("canonical = %+v; want the reset session untouched", app)
			}
		})
	}
}
