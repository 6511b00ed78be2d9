package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dsamentor/mentor/internal/domain"
)

// Message types of the extension protocol
const (
	MsgEditorTyping    = "EDITOR_TYPING"
	MsgRunClick        = "RUN_CLICK"
	MsgProblemInfo     = "PROBLEM_INFO"
	MsgCheckProblem    = "CHECK_PROBLEM"
	MsgGetAppState     = "GET_APP_STATE"
	MsgGetEffortState  = "GET_EFFORT_STATE"
	MsgUpdateAppState  = "UPDATE_APP_STATE"
	MsgStartEffortGate = "START_EFFORT_GATE"
)

// Message is one inbound extension message. Only the fields relevant to Type
// are read.
type Message struct {
	Type        string                `json:"type"`
	Title       string                `json:"title,omitempty"`
	Description string                `json:"description,omitempty"`
	URL         string                `json:"url,omitempty"`
	Updates     *domain.AppStatePatch `json:"updates,omitempty"`
}

type checkProblemRequest struct {
	URL string `json:"url"`
}

type adminResetRequest struct {
	Confirm string `json:"confirm"`
}

// -----------------------------------------------------------------------------
// Extension message protocol
// -----------------------------------------------------------------------------

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := decodeJSON(w, r, &msg); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid message", err)
		return
	}

	resp, err := s.dispatch(r.Context(), msg)
	if err != nil {
		s.jsonError(w, errorStatus(err), fmt.Sprintf("%s failed", msg.Type), err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) dispatch(ctx context.Context, msg Message) (map[string]any, error) {
	switch msg.Type {
	case MsgEditorTyping:
		if err := s.background.EditorTyping(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil

	case MsgRunClick:
		effort, err := s.background.RunClick(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "effortState": effort}, nil

	case MsgProblemInfo:
		app, err := s.background.ProblemInfo(ctx, domain.ProblemInfo{
			Title:       msg.Title,
			Description: msg.Description,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "appState": app}, nil

	case MsgCheckProblem:
		check, err := s.checkProblem(ctx, msg.URL)
		if err != nil {
			return nil, err
		}
		resp := map[string]any{"reset": check.Reset}
		if check.Reset {
			resp["reason"] = check.Reason
			resp["problem"] = check.Problem
			if check.DaysSince != "" {
				resp["daysSince"] = check.DaysSince
			}
		}
		return resp, nil

	case MsgGetAppState:
		app, err := s.background.AppState(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"appState": app}, nil

	case MsgGetEffortState:
		effort, err := s.background.EffortState(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"effortState": effort}, nil

	case MsgUpdateAppState:
		var patch domain.AppStatePatch
		if msg.Updates != nil {
			patch = *msg.Updates
		}
		app, err := s.background.UpdateAppState(ctx, patch)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "appState": app}, nil

	case MsgStartEffortGate:
		effort, err := s.background.StartEffortGate(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "effortState": effort}, nil
	}

	return nil, fmt.Errorf("%w: unknown message type %q", domain.ErrInvalidInput, msg.Type)
}

func (s *Server) checkProblem(ctx context.Context, url string) (domain.ProblemCheck, error) {
	if strings.TrimSpace(url) == "" {
		return domain.ProblemCheck{}, fmt.Errorf("%w: url is required", domain.ErrInvalidInput)
	}
	return s.background.CheckProblem(ctx, url)
}

// -----------------------------------------------------------------------------
// Signals
// -----------------------------------------------------------------------------

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	if err := s.background.EditorTyping(r.Context()); err != nil {
		s.jsonError(w, errorStatus(err), "typing signal failed", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	effort, err := s.background.RunClick(r.Context())
	if err != nil {
		s.jsonError(w, errorStatus(err), "run signal failed", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, effort)
}

func (s *Server) handleProblemInfo(w http.ResponseWriter, r *http.Request) {
	var info domain.ProblemInfo
	if err := decodeJSON(w, r, &info); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid problem info", err)
		return
	}
	app, err := s.background.ProblemInfo(r.Context(), info)
	if err != nil {
		s.jsonError(w, errorStatus(err), "problem info failed", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, app)
}

func (s *Server) handleCheckProblem(w http.ResponseWriter, r *http.Request) {
	var req checkProblemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request", err)
		return
	}
	check, err := s.checkProblem(r.Context(), req.URL)
	if err != nil {
		s.jsonError(w, errorStatus(err), "check problem failed", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, check)
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

func (s *Server) handleGetAppState(w http.ResponseWriter, r *http.Request) {
	app, err := s.background.AppState(r.Context())
	if err != nil {
		s.jsonError(w, errorStatus(err), "failed to read app state", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, app)
}

func (s *Server) handlePatchAppState(w http.ResponseWriter, r *http.Request) {
	var patch domain.AppStatePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid patch", err)
		return
	}
	app, err := s.background.UpdateAppState(r.Context(), patch)
	if err != nil {
		s.jsonError(w, errorStatus(err), "failed to update app state", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, app)
}

func (s *Server) handleGetEffortState(w http.ResponseWriter, r *http.Request) {
	effort, err := s.background.EffortState(r.Context())
	if err != nil {
		s.jsonError(w, errorStatus(err), "failed to read effort state", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, effort)
}

func (s *Server) handleStartEffort(w http.ResponseWriter, r *http.Request) {
	effort, err := s.background.StartEffortGate(r.Context())
	if err != nil {
		s.jsonError(w, errorStatus(err), "failed to start effort gate", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, effort)
}

// Refused session commands still return the canonical state so the caller
// can resync.
func (s *Server) handleGrantHint(w http.ResponseWriter, r *http.Request) {
	var grant domain.HintGrant
	if err := decodeJSON(w, r, &grant); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid hint grant", err)
		return
	}
	res, err := s.background.GrantHint(r.Context(), grant)
	if err != nil {
		s.sessionError(w, "hint not granted", err, res)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleRecordExplanation(w http.ResponseWriter, r *http.Request) {
	var rec domain.ExplanationRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid explanation", err)
		return
	}
	app, err := s.background.RecordExplanation(r.Context(), rec)
	if err != nil {
		s.sessionError(w, "explanation not recorded", err, domain.SessionResult{App: app})
		return
	}
	s.jsonResponse(w, http.StatusOK, app)
}

func (s *Server) sessionError(w http.ResponseWriter, message string, err error, current domain.SessionResult) {
	status := errorStatus(err)
	if status != http.StatusConflict {
		s.jsonError(w, status, message, err)
		return
	}
	s.jsonResponse(w, status, map[string]any{
		"error":       message,
		"status":      status,
		"details":     err.Error(),
		"appState":    current.App,
		"effortState": current.Effort,
	})
}

// -----------------------------------------------------------------------------
// Collaborator
// -----------------------------------------------------------------------------

var errNoEvaluator = errors.New("no evaluator configured")

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.evaluator == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "evaluation unavailable", errNoEvaluator)
		return
	}
	var req domain.EvaluationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid evaluation request", err)
		return
	}
	if strings.TrimSpace(req.Explanation) == "" {
		s.jsonError(w, http.StatusBadRequest, "invalid evaluation request", domain.ErrEmptyExplanation)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.evaluator.Evaluate(r.Context(), req))
}

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request) {
	if s.evaluator == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "hints unavailable", errNoEvaluator)
		return
	}
	var req domain.HintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid hint request", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, domain.HintResponse{
		Hint: s.evaluator.GenerateHint(r.Context(), req),
	})
}

// -----------------------------------------------------------------------------
// Operator
// -----------------------------------------------------------------------------

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(OperatorSecretHeader)
	if secret == "" {
		var req adminResetRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.jsonError(w, http.StatusBadRequest, "invalid reset request", err)
			return
		}
		secret = req.Confirm
	}

	if err := s.confirmer.Confirm(secret); err != nil {
		slog.Warn("admin reset refused",
			"correlation_id", GetCorrelationID(r.Context()),
			"error", err,
		)
		s.jsonError(w, errorStatus(err), "reset not confirmed", err)
		return
	}

	snap, err := s.background.AdminReset(r.Context())
	if err != nil {
		s.jsonError(w, errorStatus(err), "reset failed", err)
		return
	}
	slog.Info("admin reset applied",
		"correlation_id", GetCorrelationID(r.Context()),
		"problem", snap.App.CurrentProblem,
	)
	s.jsonResponse(w, http.StatusOK, snap)
}
