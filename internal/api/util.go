package api

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/org/adminguard/internal/apperr"
	"github.com/org/adminguard/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	headerSessionID = "X-Session-ID"
	headerCSRFToken = "X-CSRF-Token"
	cookieSession   = "session_id"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// decodeJSON decodes and validates a request body.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.BadRequest("invalid JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.BadRequest("invalid field " + strings.ToLower(verrs[0].Field()))
		}
		return apperr.BadRequest(err.Error())
	}
	return nil
}

type errorBody struct {
	Error *apperr.Error `json:"error"`
}

// writeError renders err for the caller. API paths get the structured JSON body, web
// paths are redirected to the auth entry point with the error code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	status := apperr.HTTPStatus(e)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", requestIDFromCtx(r.Context())).Msg("request failed")
	}
	if isAPIPath(r.URL.Path) {
		writeJSON(w, status, errorBody{Error: e})
		return
	}
	target := s.cfg.AuthEntryPoint + "?reason=" + url.QueryEscape(e.Code)
	http.Redirect(w, r, target, http.StatusFound)
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// trustedProxies lists the peers whose forwarding headers are believed.
type trustedProxies []netip.Prefix

// parseTrustedProxies accepts CIDR blocks and bare addresses.
func parseTrustedProxies(entries []string) (trustedProxies, error) {
	out := make(trustedProxies, 0, len(entries))
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", e)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (t trustedProxies) contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the peer address. Forwarding headers are honoured only when the peer
// is a trusted proxy: the X-Forwarded-For chain is walked from the right and the first
// hop that is not itself a trusted proxy wins, then X-Real-IP is tried.
func (s *Server) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if peer == "" {
		return "unknown"
	}
	if !s.proxies.contains(peer) {
		return peer
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				return peer
			}
			if i == 0 || !s.proxies.contains(hop) {
				return hop
			}
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		if _, err := netip.ParseAddr(xr); err == nil {
			return xr
		}
	}
	return peer
}

func sessionID(r *http.Request) string {
	if id := r.Header.Get(headerSessionID); id != "" {
		return id
	}
	if c, err := r.Cookie(cookieSession); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) requestMeta(r *http.Request) models.RequestMeta {
	return models.RequestMeta{
		Path:      r.URL.Path,
		Method:    r.Method,
		IPAddress: s.clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: requestIDFromCtx(r.Context()),
		SessionID: sessionID(r),
	}
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
