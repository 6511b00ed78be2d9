// Package evaluator scores learner explanations and generates hints through
// the configured language model. It never returns an error: every failure
// degrades to a fixed safe response.
package evaluator

import (
	"context"
	"log/slog"
	"time"

	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/llm"
	"github.com/dsamentor/mentor/internal/similarity"
)

// DefaultTimeout bounds each model call
const DefaultTimeout = 20 * time.Second

const (
	evaluationTemperature = 0.2
	hintTemperature       = 0.4
	evaluationMaxTokens   = 300
	hintMaxTokens         = 150
)

// Recorder observes evaluation outcomes
type Recorder interface {
	Evaluated(verdict domain.Verdict, fallback bool)
}

type nopRecorder struct{}

func (nopRecorder) Evaluated(domain.Verdict, bool) {}

// Config wires the evaluator
type Config struct {
	Registry llm.LLMRegistry
	// Provider names the registry entry to use; empty or "auto" uses the
	// registry default.
	Provider string
	Model    string
	Detector *similarity.Detector
	Timeout  time.Duration
	Recorder Recorder
}

// Service implements evaluation and hint generation
type Service struct {
	registry llm.LLMRegistry
	provider string
	model    string
	detector *similarity.Detector
	prompter *Prompter
	timeout  time.Duration
	recorder Recorder
}

// NewService creates an evaluator
func NewService(cfg Config) *Service {
	if cfg.Detector == nil {
		cfg.Detector = similarity.NewDetector()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	return &Service{
		registry: cfg.Registry,
		provider: cfg.Provider,
		model:    cfg.Model,
		detector: cfg.Detector,
		prompter: NewPrompter(),
		timeout:  cfg.Timeout,
		recorder: cfg.Recorder,
	}
}

// Evaluate scores an explanation. Near-duplicates of earlier attempts are
// rejected locally without a model call.
func (s *Service) Evaluate(ctx context.Context, req domain.EvaluationRequest) domain.Evaluation {
	if res := s.detector.Check(req.Explanation, req.ExplanationHistory); res.Duplicate {
		slog.Info("duplicate explanation",
			"reason", res.Reason,
			"matched_index", res.MatchedIndex,
			"shared", res.Shared,
		)
		s.recorder.Evaluated(domain.VerdictDuplicate, false)
		return domain.Evaluation{
			Verdict:          domain.VerdictDuplicate,
			ConfidenceDelta:  0,
			Feedback:         domain.DuplicateFeedback,
			AllowedHintTypes: []domain.HintCategory{},
		}
	}

	content, err := s.complete(ctx, &llm.Request{
		System:      s.prompter.EvaluationSystem(),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: s.prompter.EvaluationPrompt(req)}},
		Temperature: evaluationTemperature,
		MaxTokens:   evaluationMaxTokens,
		JSON:        true,
	})
	if err != nil {
		slog.Warn("evaluation failed, using safe default", "error", err, "status", llm.StatusCode(err))
		return s.fallback()
	}

	eval, err := parseEvaluation(content)
	if err != nil {
		slog.Warn("malformed evaluation, using safe default", "error", err)
		return s.fallback()
	}

	s.recorder.Evaluated(eval.Verdict, false)
	return eval
}

// GenerateHint returns a hint of the requested category
func (s *Service) GenerateHint(ctx context.Context, req domain.HintRequest) string {
	if !req.HintType.Valid() {
		slog.Warn("hint requested for unknown category", "hint_type", req.HintType)
		return domain.HintUnavailable
	}

	content, err := s.complete(ctx, &llm.Request{
		System:      s.prompter.HintSystem(req.HintType),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: s.prompter.HintPrompt(req)}},
		Temperature: hintTemperature,
		MaxTokens:   hintMaxTokens,
	})
	if err != nil {
		slog.Warn("hint generation failed", "error", err, "hint_type", req.HintType)
		return domain.HintUnavailable
	}

	hint := parseHint(content)
	if hint == "" {
		return domain.HintUnavailable
	}
	return hint
}

// complete runs one model call under the service timeout. The caller's
// cancellation is ignored; only the timeout ends the call early.
func (s *Service) complete(ctx context.Context, req *llm.Request) (string, error) {
	provider, err := s.resolve()
	if err != nil {
		return "", err
	}
	if s.model != "" {
		req.Model = s.model
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := provider.Generate(callCtx, req)
	if err != nil {
		return "", err
	}
	slog.Debug("model call finished",
		"provider", provider.Name(),
		"duration", time.Since(start),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	if resp.Content == "" {
		return "", llm.ErrEmptyResponse
	}
	return resp.Content, nil
}

func (s *Service) resolve() (llm.Provider, error) {
	if s.registry == nil {
		return nil, llm.ErrNoDefaultProvider
	}
	if s.provider != "" && s.provider != "auto" {
		return s.registry.Get(s.provider)
	}
	return s.registry.Default()
}

func (s *Service) fallback() domain.Evaluation {
	s.recorder.Evaluated(domain.VerdictWrong, true)
	return domain.SafeEvaluation()
}
