package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/adminguard/internal/apperr"
	"github.com/org/adminguard/pkg/models"
)

// AuditLogHandler handles GET /api/security/audit
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeJSON(w, http.StatusOK, map[string]any{"data": []*models.AuditEntry{}})
		return
	}

	q := r.URL.Query()
	filter := models.AuditFilter{
		UserID: q.Get("user_id"),
		Path:   q.Get("path"),
		Limit:  100,
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			filter.Offset = n
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.writeError(w, r, apperr.BadRequest("since must be RFC 3339"))
			return
		}
		filter.Since = &t
	}

	entries, err := s.auditLog.QueryAuditLog(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, apperr.Internal("querying audit log", err))
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}
