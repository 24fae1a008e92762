package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/org/adminguard/internal/apperr"
	"github.com/org/adminguard/pkg/models"
)

// CSRFTokenHandler handles GET /api/auth/csrf. A caller without a session gets a new
// session cookie along with the token.
func (s *Server) CSRFTokenHandler(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	if sid == "" {
		sid = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     cookieSession,
			Value:    sid,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteStrictMode,
		})
	}
	token, err := s.csrf.GenerateToken(sid)
	if err != nil {
		s.writeError(w, r, apperr.Internal("issuing csrf token", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"session_id": sid,
		"header":     headerCSRFToken,
	})
}

const eventLogout = "logout"

type authEventRequest struct {
	Type      string `json:"type" validate:"required,oneof=login_failed login_success logout"`
	UserID    string `json:"user_id"`
	IP        string `json:"ip" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent"`
	SessionID string `json:"session_id"`
}

// AuthEventHandler handles POST /api/auth/events. The authentication provider reports
// login outcomes here so the monitor can count failures. The route requires
// auth_events:create, so the ip and session_id in the body come from a trusted caller.
func (s *Server) AuthEventHandler(w http.ResponseWriter, r *http.Request) {
	var req authEventRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.IP == "" {
		req.IP = s.clientIP(r)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	switch req.Type {
	case string(models.EventLoginFailed):
		res := s.monitor.RecordLoginFailure(r.Context(), req.IP, req.UserID, req.UserAgent)
		writeJSON(w, http.StatusOK, map[string]any{
			"event_id": res.Event.ID,
			"failures": res.Failures,
			"blocked":  res.Blocked,
			"alerts":   len(res.Alerts),
		})
	case string(models.EventLoginSuccess):
		res := s.monitor.RecordLoginSuccess(r.Context(), req.IP, req.UserID, req.UserAgent)
		writeJSON(w, http.StatusOK, map[string]any{
			"event_id": res.Event.ID,
			"blocked":  res.Blocked,
		})
	case eventLogout:
		if req.SessionID == "" {
			req.SessionID = sessionID(r)
		}
		n := 0
		if req.SessionID != "" {
			n = s.csrf.InvalidateSessionTokens(req.SessionID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"revoked_tokens": n})
	}
}
