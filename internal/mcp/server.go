package mcp

import (
	"context"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/session"
)

// Session is the part of the session machine exposed as tools
type Session interface {
	Load(ctx context.Context, url string) (session.View, error)
	View() session.View
	StartThinking(ctx context.Context) (session.View, error)
	SkipThinking(ctx context.Context) (session.View, error)
	ProceedToInput(ctx context.Context) (session.View, error)
	SubmitExplanation(ctx context.Context, text string) (session.View, error)
	RequestHint(ctx context.Context) (session.View, error)
	SelectRewardOption(ctx context.Context, category domain.HintCategory) (session.View, error)
	ReviseThought(ctx context.Context) (session.View, error)
}

var _ Session = (*session.Machine)(nil)

// Server wraps the MCP server with mentor session tools
type Server struct {
	mcpServer *server.Server
	session   Session
}

// Config contains configuration for the MCP server
type Config struct {
	Session Session
	Version string
}

// NewServer creates a new MCP server for the mentor session
func NewServer(cfg Config) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{session: cfg.Session}

	s.mcpServer = server.New(server.Info{
		Name:    "mentor",
		Version: cfg.Version,
	}, server.WithInstructions(`
Mentor coaches a learner through an algorithm problem without giving away the answer.
Each problem moves through THINKING, INPUT, FEEDBACK and REWARD.

Available tools:
- mentor_open: Report the problem URL the learner is working on
- mentor_status: Show the current phase, confidence and hint budget
- mentor_start_thinking: Start the thinking countdown
- mentor_skip_thinking: Skip the countdown (once per problem)
- mentor_proceed: Move to INPUT after the countdown expires
- mentor_explain: Submit the learner's explanation of their approach
- mentor_hint: Request a hint (budgeted, gated by effort)
- mentor_reward: Choose a hint category after reaching HIGH confidence
- mentor_revise: Go back to INPUT to refine the explanation

Rules:
- Never write the solution for the learner
- When a tool reports a rejection, relay the feedback rather than retrying
`))

	s.registerTools()
	return s
}

// registerTools registers all mentor MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("mentor_open").
		Description("Report the problem URL the learner is viewing. Switching problems resets the session.").
		Handler(s.handleOpen)

	s.mcpServer.Tool("mentor_status").
		Description("Get the current session view.").
		Handler(s.handleStatus)

	s.mcpServer.Tool("mentor_start_thinking").
		Description("Start the thinking countdown.").
		Handler(s.handleStartThinking)

	s.mcpServer.Tool("mentor_skip_thinking").
		Description("Skip the thinking countdown. Allowed once per problem.").
		Handler(s.handleSkipThinking)

	s.mcpServer.Tool("mentor_proceed").
		Description("Move to explanation input once thinking time has run out.").
		Handler(s.handleProceed)

	s.mcpServer.Tool("mentor_explain").
		Description("Submit the learner's explanation of their approach for evaluation.").
		Handler(s.handleExplain)

	s.mcpServer.Tool("mentor_hint").
		Description("Request a hint. Subject to the hint budget and the effort gate.").
		Handler(s.handleHint)

	s.mcpServer.Tool("mentor_reward").
		Description("Choose a hint category as a reward for a confident explanation.").
		Handler(s.handleReward)

	s.mcpServer.Tool("mentor_revise").
		Description("Return to explanation input, keeping confidence and history.").
		Handler(s.handleRevise)
}

// Input/Output types for tools

type NoInput struct{}

type OpenInput struct {
	URL string `json:"url" jsonschema:"description=Problem page URL"`
}

type StatusInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"description=Reload state from the daemon first"`
}

type ExplainInput struct {
	Explanation string `json:"explanation" jsonschema:"description=The learner's explanation of their approach"`
}

type RewardInput struct {
	Category string `json:"category" jsonschema:"description=Hint category,enum=Structural,enum=Pseudo-Logic,enum=Edge-Cases,enum=Complexity"`
}

type ViewOutput struct {
	Problem          string   `json:"problem,omitempty"`
	Title            string   `json:"title,omitempty"`
	Phase            string   `json:"phase"`
	Confidence       string   `json:"confidence"`
	HintsUsed        int      `json:"hints_used"`
	HintsRemaining   int      `json:"hints_remaining"`
	UsedHintTypes    []string `json:"used_hint_types,omitempty"`
	ThinkingTimeLeft int      `json:"thinking_time_left"`
	ThinkingRunning  bool     `json:"thinking_running"`
	CanProceed       bool     `json:"can_proceed"`
	EffortGateActive bool     `json:"effort_gate_active"`
	EffortTimeLeft   int      `json:"effort_time_left"`
	RunCount         int      `json:"run_count"`
	Feedback         string   `json:"feedback,omitempty"`
	HintCategory     string   `json:"hint_category,omitempty"`
	Rejected         string   `json:"rejected,omitempty"`
	Reset            string   `json:"reset,omitempty"`
}

// Tool handlers

func (s *Server) handleOpen(ctx context.Context, input OpenInput) (ViewOutput, error) {
	if input.URL == "" {
		return ViewOutput{}, fmt.Errorf("%w: url is required", domain.ErrInvalidInput)
	}
	v, err := s.session.Load(ctx, input.URL)
	if err != nil {
		return ViewOutput{}, fmt.Errorf("open problem: %w", err)
	}
	out := toOutput(v)
	if v.LastCheck.Reset {
		out.Reset = v.LastCheck.Reason
	}
	return out, nil
}

func (s *Server) handleStatus(ctx context.Context, input StatusInput) (ViewOutput, error) {
	if !input.Refresh {
		return toOutput(s.session.View()), nil
	}
	v, err := s.session.Load(ctx, "")
	if err != nil {
		return ViewOutput{}, fmt.Errorf("refresh: %w", err)
	}
	return toOutput(v), nil
}

func (s *Server) handleStartThinking(ctx context.Context, _ NoInput) (ViewOutput, error) {
	return result(s.session.StartThinking(ctx))
}

func (s *Server) handleSkipThinking(ctx context.Context, _ NoInput) (ViewOutput, error) {
	return result(s.session.SkipThinking(ctx))
}

func (s *Server) handleProceed(ctx context.Context, _ NoInput) (ViewOutput, error) {
	return result(s.session.ProceedToInput(ctx))
}

func (s *Server) handleExplain(ctx context.Context, input ExplainInput) (ViewOutput, error) {
	return result(s.session.SubmitExplanation(ctx, input.Explanation))
}

func (s *Server) handleHint(ctx context.Context, _ NoInput) (ViewOutput, error) {
	return result(s.session.RequestHint(ctx))
}

func (s *Server) handleReward(ctx context.Context, input RewardInput) (ViewOutput, error) {
	category, err := domain.ParseHintCategory(input.Category)
	if err != nil {
		return ViewOutput{}, err
	}
	return result(s.session.SelectRewardOption(ctx, category))
}

func (s *Server) handleRevise(ctx context.Context, _ NoInput) (ViewOutput, error) {
	return result(s.session.ReviseThought(ctx))
}

// result turns policy rejections into a normal response carrying the
// feedback; anything else is a tool error
func result(v session.View, err error) (ViewOutput, error) {
	out := toOutput(v)
	if err == nil {
		return out, nil
	}
	if domain.IsPolicyRejection(err) {
		out.Rejected = domain.RejectionReason(err)
		return out, nil
	}
	return out, err
}

func toOutput(v session.View) ViewOutput {
	used := make([]string, 0, len(v.App.UsedHintTypes))
	for _, h := range v.App.UsedHintTypes {
		used = append(used, h.String())
	}
	return ViewOutput{
		Problem:          v.App.CurrentProblem,
		Title:            v.App.ProblemTitle,
		Phase:            v.App.Phase.String(),
		Confidence:       v.App.Confidence.String(),
		HintsUsed:        v.App.HintsUsed,
		HintsRemaining:   v.HintsRemaining,
		UsedHintTypes:    used,
		ThinkingTimeLeft: v.App.ThinkingTimeLeft,
		ThinkingRunning:  v.ThinkingRunning,
		CanProceed:       v.CanProceed,
		EffortGateActive: v.Effort.Active,
		EffortTimeLeft:   v.Effort.TimeLeft,
		RunCount:         v.Effort.RunCount,
		Feedback:         v.Feedback,
		HintCategory:     v.HintCategory.String(),
	}
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
