package api

import (
	"net/http"
)

// HealthHandler handles GET /health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"blocked_ips": len(s.monitor.BlockedIPs()),
		"threat":      s.monitor.GetSecurityStats().ThreatLevel,
	}
	if s.evaluator != nil {
		resp["cache"] = s.evaluator.CacheStats(r.Context())
	}
	if s.writer != nil {
		resp["audit"] = map[string]any{
			"written": s.writer.Written(),
			"dropped": s.writer.Dropped(),
			"breaker": s.writer.BreakerState(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdminPassthroughHandler stands in for the upstream admin application. Requests only
// get here once the guard has allowed them.
func (s *Server) AdminPassthroughHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
