package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dsamentor/mentor/internal/background"
	"github.com/dsamentor/mentor/internal/clock"
	"github.com/dsamentor/mentor/internal/config"
	"github.com/dsamentor/mentor/internal/daemon"
	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/evaluator"
	"github.com/dsamentor/mentor/internal/notify"
	"github.com/dsamentor/mentor/internal/operator"
	"github.com/dsamentor/mentor/internal/session"
	"github.com/dsamentor/mentor/internal/storage/local"
)

const (
	twoSumURL = "https://leetcode.com/problems/two-sum/description/"
	secret    = "correct-horse-battery"
)

var (
	_ session.Backend   = (*Client)(nil)
	_ session.Evaluator = (*Client)(nil)
)

type fakeEvaluator struct {
	evaluation domain.Evaluation
	hint       string
}

func (f fakeEvaluator) Evaluate(context.Context, domain.EvaluationRequest) domain.Evaluation {
	return f.evaluation
}

func (f fakeEvaluator) GenerateHint(context.Context, domain.HintRequest) string {
	return f.hint
}

type fixture struct {
	client *Client
	hub    *notify.Hub
}

func newFixture(t *testing.T, eval evaluator.EvaluatorService) *fixture {
	t.Helper()

	store, err := local.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	policy := domain.DefaultPolicy()
	hub := notify.NewHub(notify.HubConfig{})
	t.Cleanup(hub.Close)

	bg := background.NewService(background.Config{
		Policy:   policy,
		Store:    local.NewStateStore(store, policy),
		Notifier: hub,
		Clock:    clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)),
	})
	if err := bg.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { bg.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	s, err := daemon.NewServer(daemon.ServerConfig{
		Config:     config.DefaultLocalConfig(),
		Background: bg,
		Evaluator:  eval,
		Events:     hub,
		Confirmer:  operator.NewConfirmer(string(hash)),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{client: New(srv.URL), hub: hub}
}

func partialEvaluator() fakeEvaluator {
	return fakeEvaluator{
		evaluation: domain.Evaluation{
			Verdict:          domain.VerdictPartial,
			Feedback:         "Think about lookups.",
			AllowedHintTypes: []domain.HintCategory{},
		},
		hint: "What do you need to remember about earlier elements?",
	}
}

func TestNewDefaults(t *testing.T) {
	c := New("")
	if c.BaseURL() != DefaultAddr {
		t.Errorf("BaseURL() = %q; want %q", c.BaseURL(), DefaultAddr)
	}
	c = New("http://localhost:9000/")
	if c.BaseURL() != "http://localhost:9000" {
		t.Errorf("BaseURL() = %q; want trailing slash trimmed", c.BaseURL())
	}
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, partialEvaluator())
	ctx := context.Background()

	if err := f.client.Health(ctx); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	status, err := f.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status["status"] != "running" {
		t.Errorf("status = %v; want running", status["status"])
	}
	if status["operator_enabled"] != true {
		t.Errorf("operator_enabled = %v; want true", status["operator_enabled"])
	}
}

func TestHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, WithHTTPClient(&http.Client{Timeout: time.Second}))
	err := c.Health(context.Background())
	if err == nil {
		t.Fatal("Health() error = nil; want connection error")
	}
	if !IsUnavailable(err) {
		t.Errorf("IsUnavailable(%v) = false; want true", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	f := newFixture(t, partialEvaluator())
	ctx := context.Background()
	c := f.client

	check, err := c.CheckProblem(ctx, twoSumURL)
	if err != nil {
		t.Fatalf("CheckProblem() error = %v", err)
	}
	if !check.Reset || check.Problem != "two-sum" {
		t.Errorf("CheckProblem() = %+v; want reset for two-sum", check)
	}

	app, err := c.ProblemInfo(ctx, domain.ProblemInfo{Title: "Two Sum", Description: "Find two numbers."})
	if err != nil {
		t.Fatalf("ProblemInfo() error = %v", err)
	}
	if app.ProblemTitle != "Two Sum" {
		t.Errorf("ProblemTitle = %q; want Two Sum", app.ProblemTitle)
	}

	phase := domain.PhaseInput
	skip := true
	app, err = c.UpdateAppState(ctx, domain.AppStatePatch{Phase: &phase, SkipUsed: &skip})
	if err != nil {
		t.Fatalf("UpdateAppState() error = %v", err)
	}
	if app.Phase != domain.PhaseInput || !app.SkipUsed {
		t.Errorf("UpdateAppState() = %+v; want INPUT with skip used", app)
	}

	app, err = c.AppState(ctx)
	if err != nil {
		t.Fatalf("AppState() error = %v", err)
	}
	if app.CurrentProblem != "two-sum" || app.Phase != domain.PhaseInput {
		t.Errorf("AppState() = %+v", app)
	}

	effort, err := c.StartEffortGate(ctx)
	if err != nil {
		t.Fatalf("StartEffortGate() error = %v", err)
	}
	if !effort.Active {
		t.Error("StartEffortGate() Active = false; want true")
	}

	if err := c.EditorTyping(ctx); err != nil {
		t.Errorf("EditorTyping() error = %v", err)
	}
	effort, err = c.RunClick(ctx)
	if err != nil {
		t.Fatalf("RunClick() error = %v", err)
	}
	if effort.RunCount != 1 {
		t.Errorf("RunCount = %d; want 1", effort.RunCount)
	}

	effort, err = c.EffortState(ctx)
	if err != nil {
		t.Fatalf("EffortState() error = %v", err)
	}
	if !effort.Active || effort.RunCount != 1 {
		t.Errorf("EffortState() = %+v", effort)
	}
}

func TestErrorsUnwrapToSentinels(t *testing.T) {
	f := newFixture(t, partialEvaluator())
	ctx := context.Background()

	_, err := f.client.CheckProblem(ctx, "")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("CheckProblem(\"\") error = %v; want ErrInvalidInput", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("error = %#v; want APIError with status 400", err)
	}

	over := 9
	_, err = f.client.UpdateAppState(ctx, domain.AppStatePatch{HintsUsed: &over})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("UpdateAppState(over budget) error = %v; want ErrInvalidInput", err)
	}
}

func TestAdminReset(t *testing.T) {
	f := newFixture(t, partialEvaluator())
	ctx := context.Background()

	if _, err := f.client.CheckProblem(ctx, twoSumURL); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		secret string
		want   error
	}{
		{"missing secret", "", operator.ErrConfirmationRequired},
		{"wrong secret", "tr0ub4dor", operator.ErrInvalidConfirmation},
		{"correct secret", secret, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := f.client.AdminReset(ctx, tt.secret)
			if !errors.Is(err, tt.want) {
				t.Fatalf("AdminReset() error = %v; want %v", err, tt.want)
			}
			if tt.want == nil && snap.App.Phase != domain.PhaseThinking {
				t.Errorf("Phase after reset = %s; want THINKING", snap.App.Phase)
			}
		})
	}
}

func TestEvaluateAndHint(t *testing.T) {
	f := newFixture(t, partialEvaluator())
	ctx := context.Background()

	got := f.client.Evaluate(ctx, domain.EvaluationRequest{Explanation: "Use a hash map"})
	if got.Verdict != domain.VerdictPartial || got.Feedback != "Think about lookups." {
		t.Errorf("Evaluate() = %+v; want PARTIAL", got)
	}

	hint := f.client.GenerateHint(ctx, domain.HintRequest{HintType: domain.HintStructural})
	if hint != "What do you need to remember about earlier elements?" {
		t.Errorf("GenerateHint() = %q", hint)
	}
}

func TestEvaluateFallsBackWhenUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	got := f.client.Evaluate(ctx, domain.EvaluationRequest{Explanation: "Use a hash map"})
	want := domain.SafeEvaluation()
	if got.Verdict != want.Verdict || got.Feedback != want.Feedback || got.ConfidenceDelta != 0 {
		t.Errorf("Evaluate() = %+v; want safe default", got)
	}

	if hint := f.client.GenerateHint(ctx, domain.HintRequest{}); hint != domain.HintUnavailable {
		t.Errorf("GenerateHint() = %q; want fallback", hint)
	}
}

func TestEvaluateRejectsInvalidResponse(t *testing.T) {
	f := newFixture(t, fakeEvaluator{evaluation: domain.Evaluation{Verdict: "MAYBE", Feedback: "?"}})

	got := f.client.Evaluate(context.Background(), domain.EvaluationRequest{Explanation: "x"})
	if got.Feedback != domain.EvaluationUnavailable {
		t.Errorf("Evaluate() = %+v; want safe default", got)
	}
}

func TestEvaluateIgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t, partialEvaluator())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := f.client.Evaluate(ctx, domain.EvaluationRequest{Explanation: "Use a hash map"})
	if got.Verdict != domain.VerdictPartial {
		t.Errorf("Evaluate() after cancel = %+v; want the daemon's answer", got)
	}
}

func TestSessionCommands(t *testing.T) {
	f := newFixture(t, partialEvaluator())
	ctx := context.Background()
	c := f.client

	if _, err := c.CheckProblem(ctx, twoSumURL); err != nil {
		t.Fatalf("CheckProblem() error = %v", err)
	}
	problem := "two-sum"
	thinking := domain.PhaseThinking
	feedback := domain.PhaseFeedback
	if _, err := c.UpdateAppState(ctx, domain.AppStatePatch{
		Phase: &feedback, ExpectProblem: &problem, ExpectPhase: &thinking,
	}); err != nil {
		t.Fatalf("UpdateAppState() error = %v", err)
	}

	res, err := c.GrantHint(ctx, domain.HintGrant{Problem: "two-sum", Category: domain.HintStructural})
	if err != nil {
		t.Fatalf("GrantHint() error = %v", err)
	}
	if res.App.HintsUsed != 1 || !res.Effort.Active {
		t.Errorf("GrantHint() = %+v", res)
	}

	app, err := c.RecordExplanation(ctx, domain.ExplanationRecord{
		Problem: "two-sum", Explanation: "hash map of complements", ConfidenceDelta: 1,
	})
	if err != nil {
		t.Fatalf("RecordExplanation() error = %v", err)
	}
	if len(app.ExplanationHistory) != 1 || app.Confidence != domain.ConfidenceMedium {
		t.Errorf("RecordExplanation() = %+v", app)
	}

	_, err = c.GrantHint(ctx, domain.HintGrant{Problem: "3sum", Category: domain.HintComplexity})
	if !errors.Is(err, domain.ErrSessionChanged) {
		t.Errorf("GrantHint(other problem) error = %v; want ErrSessionChanged", err)
	}
	_, err = c.UpdateAppState(ctx, domain.AppStatePatch{Phase: &feedback, ExpectPhase: &thinking})
	if !errors.Is(err, domain.ErrSessionChanged) {
		t.Errorf("UpdateAppState(stale phase) error = %v; want ErrSessionChanged", err)
	}
}

func TestMachineOverClient(t *testing.T) {
	f := newFixture(t, partialEvaluator())
	ctx := context.Background()

	m := session.NewMachine(session.Config{
		Backend:   f.client,
		Evaluator: f.client,
		Clock:     clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)),
		Policy:    domain.DefaultPolicy(),
	})

	v, err := m.Load(ctx, twoSumURL)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if v.App.Phase != domain.PhaseThinking || v.App.CurrentProblem != "two-sum" {
		t.Fatalf("Load() view = %+v", v.App)
	}

	if _, err := m.SkipThinking(ctx); err != nil {
		t.Fatalf("SkipThinking() error = %v", err)
	}
	v, err = m.SubmitExplanation(ctx, "Use a hash map from value to index")
	if err != nil {
		t.Fatalf("SubmitExplanation() error = %v", err)
	}
	if v.Feedback != "Think about lookups." || v.App.Phase != domain.PhaseFeedback {
		t.Errorf("view = %q %s; want evaluator feedback in FEEDBACK", v.Feedback, v.App.Phase)
	}

	app, err := f.client.AppState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(app.ExplanationHistory) != 1 {
		t.Errorf("daemon history = %v; want one entry", app.ExplanationHistory)
	}

	_, err = m.SkipThinking(ctx)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("SkipThinking() in FEEDBACK error = %v; want ErrInvalidTransition", err)
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, partialEvaluator())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu     sync.Mutex
		events []domain.Event
		got    = make(chan struct{}, 1)
	)
	done := make(chan error, 1)
	go func() {
		done <- f.client.Subscribe(ctx, func(e domain.Event) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
			select {
			case got <- struct{}{}:
			default:
			}
		})
	}()

	for f.hub.Clients() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := f.client.StartEffortGate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.client.RunClick(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-got:
	case <-ctx.Done():
		t.Fatal("no event received")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Subscribe() error = %v; want nil after cancel", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if events[0].Type != domain.EventRunCountUpdate || events[0].RunCount == nil || *events[0].RunCount != 1 {
		t.Errorf("event = %+v; want RUN_COUNT_UPDATE runCount 1", events[0])
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	tests := []struct {
		err  *APIError
		want error
	}{
		{&APIError{Status: 409, Message: "x", Details: "hint budget exhausted"}, domain.ErrHintBudgetExhausted},
		{&APIError{Status: 403, Message: "x", Details: "operator secret not configured"}, operator.ErrNotConfigured},
		{&APIError{Status: 404, Message: "x"}, domain.ErrNotFound},
		{&APIError{Status: 400, Message: "x"}, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		if got := tt.err.Unwrap(); got != tt.want {
			t.Errorf("Unwrap(%v) = %v; want %v", tt.err, got, tt.want)
		}
	}
	if got := (&APIError{Status: 500, Message: "boom"}).Unwrap(); got != nil {
		t.Errorf("Unwrap(500) = %v; want nil", got)
	}
}

func TestPolicy(t *testing.T) {
	f := newFixture(t, partialEvaluator())

	got, err := f.client.Policy(context.Background())
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if want := domain.DefaultPolicy(); got != want {
		t.Errorf("Policy() = %+v; want %+v", got, want)
	}
}
