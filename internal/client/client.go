// Package client talks to a running mentord over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/operator"
)

// DefaultAddr is where mentord listens unless configured otherwise
const DefaultAddr = "http://127.0.0.1:7432"

const operatorSecretHeader = "X-Operator-Secret"

// APIError is a non-2xx daemon response
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// sentinels recognised in error details so callers can use errors.Is
var sentinels = []error{
	domain.ErrSessionChanged, domain.ErrHintBudgetExhausted, domain.ErrEffortGateActive, domain.ErrNoHintCategories,
	domain.ErrHintCategoryUsed, domain.ErrSkipUsed, domain.ErrInvalidTransition,
	domain.ErrThinkingStarted, domain.ErrThinkingNotExpired, domain.ErrEmptyExplanation,
	domain.ErrEvaluationPending, domain.ErrInvalidInput, domain.ErrNotFound,
	operator.ErrNotConfigured, operator.ErrConfirmationRequired, operator.ErrInvalidConfirmation,
}

// Unwrap maps the daemon's error text back to the sentinel it came from
func (e *APIError) Unwrap() error {
	for _, s := range sentinels {
		if strings.Contains(e.Details, s.Error()) {
			return s
		}
	}
	switch e.Status {
	case http.StatusBadRequest:
		return domain.ErrInvalidInput
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}

// Client is an HTTP client for mentord
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for degraded collaborator calls
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the daemon at baseURL
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultAddr
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Long enough for an evaluation that runs to the model timeout
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the daemon address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// -----------------------------------------------------------------------------
// Daemon
// -----------------------------------------------------------------------------

// Health returns nil when the daemon answers its health check
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

// Status returns the daemon's status document
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

// Config returns the daemon's redacted configuration
func (c *Client) Config(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/v1/config", nil, &out)
	return out, err
}

// Policy fetches the limits the daemon enforces
func (c *Client) Policy(ctx context.Context) (domain.Policy, error) {
	var out struct {
		Policy domain.Policy `json:"policy"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/config", nil, &out)
	return out.Policy, err
}

// -----------------------------------------------------------------------------
// Signals
// -----------------------------------------------------------------------------

// EditorTyping reports editor activity
func (c *Client) EditorTyping(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/signals/typing", nil, nil)
}

// RunClick reports a code run
func (c *Client) RunClick(ctx context.Context) (domain.EffortState, error) {
	var out domain.EffortState
	err := c.do(ctx, http.MethodPost, "/v1/signals/run", nil, &out)
	return out, err
}

// ProblemInfo reports scraped problem metadata
func (c *Client) ProblemInfo(ctx context.Context, info domain.ProblemInfo) (domain.AppState, error) {
	var out domain.AppState
	err := c.do(ctx, http.MethodPost, "/v1/signals/problem-info", info, &out)
	return out, err
}

// CheckProblem reports the URL the user is looking at
func (c *Client) CheckProblem(ctx context.Context, url string) (domain.ProblemCheck, error) {
	var out domain.ProblemCheck
	err := c.do(ctx, http.MethodPost, "/v1/signals/check-problem", map[string]string{"url": url}, &out)
	return out, err
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// AppState fetches the session state
func (c *Client) AppState(ctx context.Context) (domain.AppState, error) {
	var out domain.AppState
	err := c.do(ctx, http.MethodGet, "/v1/state/app", nil, &out)
	return out, err
}

// EffortState fetches the effort gate state
func (c *Client) EffortState(ctx context.Context) (domain.EffortState, error) {
	var out domain.EffortState
	err := c.do(ctx, http.MethodGet, "/v1/state/effort", nil, &out)
	return out, err
}

// UpdateAppState applies a whitelisted patch
func (c *Client) UpdateAppState(ctx context.Context, patch domain.AppStatePatch) (domain.AppState, error) {
	var out domain.AppState
	err := c.do(ctx, http.MethodPatch, "/v1/state/app", patch, &out)
	return out, err
}

// StartEffortGate activates the effort gate
func (c *Client) StartEffortGate(ctx context.Context) (domain.EffortState, error) {
	var out domain.EffortState
	err := c.do(ctx, http.MethodPost, "/v1/effort/start", nil, &out)
	return out, err
}

// GrantHint spends one hint on the daemon's current session
func (c *Client) GrantHint(ctx context.Context, g domain.HintGrant) (domain.SessionResult, error) {
	var out domain.SessionResult
	err := c.do(ctx, http.MethodPost, "/v1/session/hint", g, &out)
	return out, err
}

// RecordExplanation appends an evaluated explanation to the daemon's session
func (c *Client) RecordExplanation(ctx context.Context, r domain.ExplanationRecord) (domain.AppState, error) {
	var out domain.AppState
	err := c.do(ctx, http.MethodPost, "/v1/session/explanation", r, &out)
	return out, err
}

// AdminReset clears both records for the current problem
func (c *Client) AdminReset(ctx context.Context, secret string) (domain.Snapshot, error) {
	var out domain.Snapshot
	err := c.doWithHeaders(ctx, http.MethodPost, "/v1/admin/reset", nil, &out,
		map[string]string{operatorSecretHeader: secret})
	return out, err
}

// -----------------------------------------------------------------------------
// Collaborator
// -----------------------------------------------------------------------------

// Evaluate asks the daemon to score an explanation. Failures yield the safe
// default, and the caller's cancellation is ignored.
func (c *Client) Evaluate(ctx context.Context, req domain.EvaluationRequest) domain.Evaluation {
	var out domain.Evaluation
	if err := c.do(context.WithoutCancel(ctx), http.MethodPost, "/v1/evaluate", req, &out); err != nil {
		c.logger.Warn("evaluation unavailable, using safe default", "error", err)
		return domain.SafeEvaluation()
	}
	if err := out.Validate(); err != nil {
		c.logger.Warn("daemon returned invalid evaluation", "error", err)
		return domain.SafeEvaluation()
	}
	return out
}

// GenerateHint asks the daemon for a hint of the given category
func (c *Client) GenerateHint(ctx context.Context, req domain.HintRequest) string {
	var out domain.HintResponse
	if err := c.do(context.WithoutCancel(ctx), http.MethodPost, "/v1/hint", req, &out); err != nil {
		c.logger.Warn("hint unavailable", "error", err)
		return domain.HintUnavailable
	}
	if strings.TrimSpace(out.Hint) == "" {
		return domain.HintUnavailable
	}
	return out.Hint
}

// -----------------------------------------------------------------------------
// Push notifications
// -----------------------------------------------------------------------------

// Subscribe streams push notifications to fn until ctx is done or the daemon
// closes the stream.
func (c *Client) Subscribe(ctx context.Context, fn func(domain.Event)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect events: %w", err)
	}
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		var event domain.Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.Debug("skipping malformed event", "error", err)
			continue
		}
		fn(event)
	}
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWithHeaders(ctx, method, path, body, out, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, path string, body, out any, headers map[string]string) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached
func IsUnavailable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusServiceUnavailable
	}
	return err != nil
}
