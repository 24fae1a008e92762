package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/adminguard/internal/apperr"
	"github.com/org/adminguard/pkg/models"
)

// EventsHandler handles GET /api/security/events
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.EventFilter{
		Severity:   models.Severity(q.Get("severity")),
		Type:       models.EventType(q.Get("type")),
		IP:         q.Get("ip"),
		UserID:     q.Get("user_id"),
		Unresolved: q.Get("unresolved") == "true",
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		s.writeError(w, r, apperr.BadRequest("unknown severity"))
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.writeError(w, r, apperr.BadRequest("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.writeError(w, r, apperr.BadRequest("since must be RFC 3339"))
			return
		}
		filter.Since = &t
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.monitor.GetSecurityEvents(filter)})
}

// ResolveEventHandler handles POST /api/security/events/{id}/resolve
func (s *Server) ResolveEventHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	by := "unknown"
	if u := userFromCtx(r.Context()); u != nil {
		by = u.ID
	}
	if !s.monitor.ResolveSecurityEvent(r.Context(), id, by) {
		s.writeError(w, r, apperr.NotFound("security event not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true, "resolved_by": by})
}

// StatsHandler handles GET /api/security/stats
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.GetSecurityStats())
}

// BlocksListHandler handles GET /api/security/blocks
func (s *Server) BlocksListHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.monitor.BlockedIPs()})
}

type blockRequest struct {
	IP     string `json:"ip" validate:"required,ip"`
	Reason string `json:"reason" validate:"max=512"`
}

// BlockHandler handles POST /api/security/blocks
func (s *Server) BlockHandler(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "Manual block"
	}
	by := "unknown"
	if u := userFromCtx(r.Context()); u != nil {
		by = u.ID
	}
	entry := s.monitor.BlockIP(r.Context(), req.IP, req.Reason, by)
	writeJSON(w, http.StatusCreated, entry)
}

// UnblockHandler handles DELETE /api/security/blocks/{ip}
func (s *Server) UnblockHandler(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if !s.monitor.UnblockIP(r.Context(), ip) {
		s.writeError(w, r, apperr.NotFound("address is not blocked"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
