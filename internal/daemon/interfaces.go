package daemon

import (
	"context"

	"github.com/dsamentor/mentor/internal/background"
	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/evaluator"
	"github.com/dsamentor/mentor/internal/llm"
	"github.com/dsamentor/mentor/internal/operator"
)

// Background is the canonical state owner the handlers drive
type Background interface {
	EditorTyping(ctx context.Context) error
	RunClick(ctx context.Context) (domain.EffortState, error)
	ProblemInfo(ctx context.Context, info domain.ProblemInfo) (domain.AppState, error)
	CheckProblem(ctx context.Context, url string) (domain.ProblemCheck, error)
	AppState(ctx context.Context) (domain.AppState, error)
	EffortState(ctx context.Context) (domain.EffortState, error)
	UpdateAppState(ctx context.Context, patch domain.AppStatePatch) (domain.AppState, error)
	StartEffortGate(ctx context.Context) (domain.EffortState, error)
	GrantHint(ctx context.Context, g domain.HintGrant) (domain.SessionResult, error)
	RecordExplanation(ctx context.Context, r domain.ExplanationRecord) (domain.AppState, error)
	AdminReset(ctx context.Context) (domain.Snapshot, error)
	CountdownRunning(ctx context.Context) (bool, error)
	Policy() domain.Policy
}

// Confirmer checks operator secrets for admin routes
type Confirmer interface {
	Configured() bool
	Confirm(secret string) error
}

var (
	_ Background                 = (*background.Service)(nil)
	_ evaluator.EvaluatorService = (*evaluator.Service)(nil)
	_ Confirmer                  = (*operator.Confirmer)(nil)
	_ llm.LLMRegistry            = (*llm.Registry)(nil)
)
