package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/org/adminguard/internal/apperr"
	"github.com/org/adminguard/internal/guard"
	"github.com/org/adminguard/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

// identityMiddleware resolves the caller. A bad credential counts as a failed login for
// the client address and the request continues anonymously.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.identity == nil {
			next.ServeHTTP(w, r)
			return
		}
		user, err := s.identity.Identify(r)
		if err != nil {
			ip := s.clientIP(r)
			log.Warn().Err(err).Str("ip", ip).Str("path", r.URL.Path).Msg("rejected credential")
			s.monitor.RecordLoginFailure(r.Context(), ip, "", r.UserAgent())
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		if user != nil {
			ctx = withHeaderCredential(withUser(ctx, user))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// guardMiddleware asks the guard whether the caller may reach the route.
func (s *Server) guardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := s.requestMeta(r)
		d, err := s.guard.CanUserAccessRoute(r.Context(), userFromCtx(r.Context()), r.URL.Path, r.Method, meta)
		if err != nil {
			s.writeError(w, r, apperr.Internal("access check failed", err))
			return
		}
		if !d.Allowed {
			s.writeError(w, r, denial(d, meta.IPAddress))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func denial(d models.Decision, ip string) *apperr.Error {
	switch {
	case d.IPBlocked:
		return apperr.IPBlocked(ip)
	case d.Reason == guard.ReasonUnauthorized:
		return apperr.Unauthorized("authentication required")
	}
	e := apperr.Forbidden("access denied")
	e.Reason = d.Reason
	return e
}

// csrfMiddleware validates X-CSRF-Token on state-changing requests that belong to a
// browser session. Public routes and token clients without a session are exempt.
func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.csrf == nil || !isStateChanging(r.Method) || s.resolver.IsPublicRoute(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		sid := sessionID(r)
		if sid == "" && hasHeaderCredential(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}
		res := s.csrf.ValidateToken(r.Header.Get(headerCSRFToken), sid)
		if !res.Valid {
			userID := ""
			if u := userFromCtx(r.Context()); u != nil {
				userID = u.ID
			}
			s.monitor.RecordViolation(r.Context(), models.EventCSRFViolation, s.clientIP(r), userID, r.UserAgent(),
				"CSRF validation failed: "+res.Reason, map[string]any{"path": r.URL.Path, "method": r.Method, "reason": res.Reason})
			s.writeError(w, r, apperr.CSRFInvalid(res.Reason))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures the status code for metrics.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

const (
	limiterEntries = 10000
	limiterIdle    = 10 * time.Minute
)

// rateLimiter keeps a token bucket per client IP. Idle buckets age out of the LRU.
type rateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterEntries, nil, limiterIdle),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	l, ok := rl.limiters.Get(ip)
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
	}
	// Re-adding refreshes the idle expiry.
	rl.limiters.Add(ip, l)
	rl.mu.Unlock()
	return l.Allow()
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := s.clientIP(r)
		if !s.limiter.allow(ip) {
			log.Warn().Str("ip", ip).Msg("rate limit exceeded")
			s.monitor.RecordViolation(r.Context(), models.EventRateLimited, ip, "", r.UserAgent(),
				"rate limit exceeded", map[string]any{"path": r.URL.Path})
			s.writeError(w, r, apperr.RateLimited("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
