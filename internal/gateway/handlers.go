package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/warden/internal/agent"
	"github.com/haasonsaas/warden/internal/approval"
	"github.com/haasonsaas/warden/internal/auth"
	"github.com/haasonsaas/warden/internal/lanes"
	"github.com/haasonsaas/warden/internal/sessions"
)

const defaultHistoryLimit = 50

type turnRequest struct {
	Message string                   `json:"message"`
	Channel *approval.ChannelContext `json:"channel,omitempty"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var req turnRequest
	if err := decodeJSON(w, r, s.cfg.Server.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	ctx := r.Context()
	if s.cfg.Server.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.TurnTimeout)
		defer cancel()
	}

	result, err := s.cfg.Runtime.EnqueueTurn(ctx, sessionID, req.Message, agent.TurnOptions{Channel: req.Channel})
	if err != nil {
		s.writeTurnError(w, r, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeTurnError maps failures to submit or wait for a turn. A turn that ran
// and failed is not one of them; it is a normal result.
func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	switch {
	case errors.Is(err, agent.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, "invalid_session", err.Error())
	case errors.Is(err, lanes.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "turn did not start before the deadline")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this.
		writeError(w, 499, "cancelled", err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "turn failed to run", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.cfg.Runtime.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending := s.cfg.Runtime.PendingApprovals()
	if pending == nil {
		pending = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

type decisionRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(w, r, s.cfg.Server.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id := r.PathValue("id")
	ok := s.cfg.Runtime.SubmitApproval(approval.Response{
		RequestID: id,
		Approved:  req.Approved,
		Reason:    req.Reason,
		Source:    approval.SourceUser,
		DecidedBy: decidedBy(r),
		Timestamp: time.Now(),
	})
	if !ok {
		writeError(w, http.StatusNotFound, "not_pending", "no pending approval with that id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "approved": req.Approved})
}

type commandRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleApprovalCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(w, r, s.cfg.Server.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.cfg.Runtime.HandleApprovalCommand(req.Text, decidedBy(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, approval.ErrNoMatchingRequest):
		writeError(w, http.StatusNotFound, "not_pending", err.Error())
	case errors.Is(err, approval.ErrNotCommand), errors.Is(err, approval.ErrMissingRequestID):
		writeError(w, http.StatusBadRequest, "invalid_command", err.Error())
	default:
		writeError(w, http.StatusConflict, "unavailable", err.Error())
	}
}

func (s *Server) handleApprovalHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records := s.cfg.Runtime.ApprovalHistory(limit)
	if records == nil {
		records = []approval.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (s *Server) handleLanes(w http.ResponseWriter, r *http.Request) {
	status := s.cfg.Runtime.LaneStatus()
	if status == nil {
		status = []lanes.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lanes":           status,
		"cached_sessions": s.cfg.Runtime.CachedSessions(),
	})
}

// decidedBy names the operator for the approval record.
func decidedBy(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.Subject != "" {
		return p.Subject
	}
	return "api"
}
