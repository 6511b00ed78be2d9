package session

import (
	"context"

	"github.com/dsamentor/mentor/internal/domain"
)

// Backend is the canonical state owner. The daemon's background service
// implements it in-process; the HTTP client implements it remotely.
type Backend interface {
	CheckProblem(ctx context.Context, url string) (domain.ProblemCheck, error)
	AppState(ctx context.Context) (domain.AppState, error)
	EffortState(ctx context.Context) (domain.EffortState, error)
	UpdateAppState(ctx context.Context, patch domain.AppStatePatch) (domain.AppState, error)
	// GrantHint and RecordExplanation re-check their guards against the
	// canonical session and refuse with ErrSessionChanged when it moved on.
	GrantHint(ctx context.Context, g domain.HintGrant) (domain.SessionResult, error)
	RecordExplanation(ctx context.Context, r domain.ExplanationRecord) (domain.AppState, error)
}

// Evaluator scores explanations and produces hints. Implementations never
// fail; they return safe defaults instead.
type Evaluator interface {
	Evaluate(ctx context.Context, req domain.EvaluationRequest) domain.Evaluation
	GenerateHint(ctx context.Context, req domain.HintRequest) string
}

// Recorder observes hint decisions
type Recorder interface {
	HintGranted(category domain.HintCategory)
	Rejected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) HintGranted(domain.HintCategory) {}
func (nopRecorder) Rejected(string)                 {}
