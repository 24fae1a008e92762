// Package guard composes route resolution, permission evaluation and security monitoring
// into the single access decision the HTTP layer asks for.
package guard

import (
	"context"
	"strings"

	"github.com/org/adminguard/internal/security"
	"github.com/org/adminguard/pkg/models"
	"github.com/rs/zerolog/log"
)

// Decision reasons.
const (
	ReasonPublic        = "public route"
	ReasonIPBlocked     = "IP blocked"
	ReasonUnauthorized  = "authentication required"
	ReasonInactive      = "account inactive"
	ReasonAuthenticated = "authenticated"
	ReasonGranted       = "permissions granted"
	ReasonInsufficient  = "insufficient permissions"
	ReasonCheckFailed   = "permission check failed"
)

// RouteResolver is the subset of routes.Resolver the guard needs.
type RouteResolver interface {
	GetRoutePermissions(path, method string) []models.Permission
	IsPublicRoute(path string) bool
	RequiresAuthOnly(path string) bool
	RequiresAdmin(path, method string) bool
}

// PermissionChecker is the subset of policy.Evaluator the guard needs.
type PermissionChecker interface {
	HasAllPermissions(ctx context.Context, user *models.User, perms []models.Permission) (bool, []models.Permission, error)
}

// SecurityReporter is the subset of security.Monitor the guard needs.
type SecurityReporter interface {
	IsIPBlocked(ip string) bool
	RecordAccessDecision(ctx context.Context, a security.Access) []*models.SecurityEvent
}

// Auditor receives one entry per decision. It must not block.
type Auditor interface {
	LogRequest(entry *models.AuditEntry)
}

// Guard decides whether a user may access a route.
type Guard struct {
	routes  RouteResolver
	perms   PermissionChecker
	monitor SecurityReporter
	audit   Auditor
}

// New creates a Guard. audit may be nil.
func New(routes RouteResolver, perms PermissionChecker, monitor SecurityReporter, audit Auditor) *Guard {
	return &Guard{routes: routes, perms: perms, monitor: monitor, audit: audit}
}

// CanUserAccessRoute resolves the permissions path and method require and checks them
// against user. Every decision except public routes is reported to the monitor and
// the audit log. A non-nil error always comes with a denial.
func (g *Guard) CanUserAccessRoute(ctx context.Context, user *models.User, path, method string, meta models.RequestMeta) (models.Decision, error) {
	if meta.IPAddress == "" {
		meta.IPAddress = "unknown"
	}
	if g.monitor.IsIPBlocked(meta.IPAddress) {
		d := models.Decision{IPBlocked: true, Reason: ReasonIPBlocked}
		g.record(ctx, user, path, method, meta, d, nil)
		return d, nil
	}
	if g.routes.IsPublicRoute(path) {
		return models.Decision{Allowed: true, Public: true, Reason: ReasonPublic}, nil
	}
	if user == nil {
		d := models.Decision{Reason: ReasonUnauthorized}
		g.record(ctx, user, path, method, meta, d, nil)
		return d, nil
	}
	if !user.IsActive {
		d := models.Decision{Reason: ReasonInactive}
		g.record(ctx, user, path, method, meta, d, nil)
		return d, nil
	}

	required := g.routes.GetRoutePermissions(path, method)
	d := models.Decision{Required: required, AuthOnly: g.routes.RequiresAuthOnly(path)}
	if len(required) == 0 {
		d.Allowed = true
		d.AuthOnly = true
		d.Reason = ReasonAuthenticated
		g.record(ctx, user, path, method, meta, d, nil)
		return d, nil
	}

	ok, missing, err := g.perms.HasAllPermissions(ctx, user, required)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Str("path", path).Msg("permission check failed, denying")
		d.Reason = ReasonCheckFailed
		g.record(ctx, user, path, method, meta, d, nil)
		return d, err
	}
	d.Allowed = ok
	d.Missing = missing
	if ok {
		d.Reason = ReasonGranted
	} else {
		d.Reason = ReasonInsufficient
	}
	alerts := g.record(ctx, user, path, method, meta, d, required)
	for _, a := range alerts {
		if a.Type == models.EventPrivilegeEscalation {
			d.Escalation = true
		}
	}
	return d, nil
}

// record reports the decision to the monitor and the audit log.
func (g *Guard) record(ctx context.Context, user *models.User, path, method string, meta models.RequestMeta, d models.Decision, required []models.Permission) []*models.SecurityEvent {
	var alerts []*models.SecurityEvent
	// Blocked IPs were already reported when they were blocked.
	if !d.IPBlocked {
		alerts = g.monitor.RecordAccessDecision(ctx, security.Access{
			User:      user,
			Path:      path,
			Method:    method,
			IP:        meta.IPAddress,
			UserAgent: meta.UserAgent,
			Allowed:   d.Allowed,
			Reason:    d.Reason,
			AdminOnly: required != nil && g.routes.RequiresAdmin(path, method),
			AuthOnly:  d.AuthOnly,
		})
	}
	if g.audit == nil {
		return alerts
	}

	entry := &models.AuditEntry{
		RequestID: meta.RequestID,
		Action:    method,
		Path:      path,
		Method:    method,
		Allowed:   d.Allowed,
		Reason:    d.Reason,
		ClientIP:  meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if user != nil {
		entry.UserID = user.ID
	}
	if len(d.Required) > 0 {
		entry.Resource = d.Required[0].Resource
		entry.Action = d.Required[0].Action
		entry.Metadata = map[string]any{"required": permStrings(d.Required)}
		if len(d.Missing) > 0 {
			entry.Metadata["missing"] = permStrings(d.Missing)
		}
	}
	g.audit.LogRequest(entry)
	return alerts
}

func permStrings(perms []models.Permission) string {
	s := make([]string, len(perms))
	for i, p := range perms {
		s[i] = p.String()
	}
	return strings.Join(s, ",")
}
