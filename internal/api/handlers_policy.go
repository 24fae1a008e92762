package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/adminguard/internal/apperr"
	"github.com/org/adminguard/internal/guard"
	"github.com/org/adminguard/pkg/models"
	"github.com/rs/zerolog/log"
)

type checkResponse struct {
	Path        string              `json:"path"`
	Method      string              `json:"method"`
	Decision    models.Decision     `json:"decision"`
	Permissions []models.Permission `json:"permissions"`
}

// CheckHandler handles GET /api/security/check?path=&method=. It answers for the caller
// without reporting the hypothetical access to the monitor.
func (s *Server) CheckHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		s.writeError(w, r, apperr.BadRequest("path is required"))
		return
	}
	method := q.Get("method")
	if method == "" {
		method = http.MethodGet
	}

	d := models.Decision{Required: s.resolver.GetRoutePermissions(path, method), AuthOnly: s.resolver.RequiresAuthOnly(path)}
	switch {
	case s.monitor.IsIPBlocked(s.clientIP(r)):
		d.IPBlocked = true
		d.Reason = guard.ReasonIPBlocked
	case s.resolver.IsPublicRoute(path):
		d.Allowed, d.Public, d.Reason = true, true, guard.ReasonPublic
	case len(d.Required) == 0:
		d.Allowed, d.Reason = true, guard.ReasonAuthenticated
	default:
		ok, missing, err := s.evaluator.HasAllPermissions(r.Context(), user, d.Required)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		d.Allowed, d.Missing = ok, missing
		d.Reason = guard.ReasonInsufficient
		if ok {
			d.Reason = guard.ReasonGranted
		}
	}

	perms, err := s.evaluator.EffectivePermissions(r.Context(), user.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Path: path, Method: method, Decision: d, Permissions: perms})
}

// CacheInvalidateHandler handles DELETE /api/security/cache/{userID}
func (s *Server) CacheInvalidateHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.evaluator.InvalidateUserCache(r.Context(), userID); err != nil {
		s.writeError(w, r, apperr.Internal("invalidating cache", err))
		return
	}
	by := ""
	if u := userFromCtx(r.Context()); u != nil {
		by = u.ID
	}
	log.Info().Str("user_id", userID).Str("by", by).Msg("permission cache invalidated")
	w.WriteHeader(http.StatusNoContent)
}
