package evaluator

import (
	"context"

	"github.com/dsamentor/mentor/internal/domain"
)

// EvaluatorService is the collaborator contract used by the session machine
// and the daemon handlers
type EvaluatorService interface {
	Evaluate(ctx context.Context, req domain.EvaluationRequest) domain.Evaluation
	GenerateHint(ctx context.Context, req domain.HintRequest) string
}

var _ EvaluatorService = (*Service)(nil)
