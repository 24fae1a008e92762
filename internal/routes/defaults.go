package routes

import (
	"net/http"

	"github.com/org/adminguard/pkg/models"
)

// DefaultPublicRoutes is the allow-list of paths reachable without authentication.
func DefaultPublicRoutes() []string {
	return []string{
		"/",
		"/login",
		"/logout",
		"/register",
		"/forgot-password",
		"/reset-password",
		"/health",
		"/api/auth/csrf",
	}
}

// DefaultRules is the route table for the admin application.
func DefaultRules() []models.RouteRule {
	get := []string{http.MethodGet, http.MethodHead}
	post := []string{http.MethodPost}
	write := []string{http.MethodPut, http.MethodPatch}
	del := []string{http.MethodDelete}

	perm := func(resource, action string) []models.Permission {
		return []models.Permission{models.Perm(resource, action)}
	}

	rules := []models.RouteRule{
		{Pattern: "/admin", Methods: get, Permissions: perm("dashboard", models.ActionRead)},
		{Pattern: "/admin/dashboard", Methods: get, Permissions: perm("dashboard", models.ActionRead)},
		{Pattern: "/admin/users", Permissions: perm("users", models.ActionManage)},
		{Pattern: "/admin/users/new", Permissions: perm("users", models.ActionManage)},
		{Pattern: "/admin/settings", Permissions: perm("settings", models.ActionManage)},
		{Pattern: "/admin/security", Permissions: perm("security", models.ActionManage)},
		{Pattern: "/admin/audit", Methods: get, Permissions: perm("audit", models.ActionManage)},

		{Pattern: "/profile", AuthOnly: true},
		{Pattern: "/account/security", AuthOnly: true},
		{Pattern: "/api/security/check", Methods: get, AuthOnly: true},
		{Pattern: "/api/auth/events", Methods: post, Permissions: perm("auth_events", models.ActionCreate)},

		{Pattern: "/admin/users/", Match: models.MatchSuffix, Suffix: "/edit", Permissions: perm("users", models.ActionManage)},
		{Pattern: "/admin/users/", Match: models.MatchPrefix, Permissions: perm("users", models.ActionManage)},
		{Pattern: "/admin/settings/", Match: models.MatchPrefix, Permissions: perm("settings", models.ActionManage)},
		{Pattern: "/api/security/", Match: models.MatchPrefix, Permissions: perm("security", models.ActionManage)},
	}

	// The catalogue resources share one CRUD layout.
	for _, res := range []string{"products", "categories", "orders", "customers"} {
		base := "/admin/" + res
		rules = append(rules,
			models.RouteRule{Pattern: base, Methods: get, Permissions: perm(res, models.ActionRead)},
			models.RouteRule{Pattern: base, Methods: post, Permissions: perm(res, models.ActionCreate)},
			models.RouteRule{Pattern: base + "/new", Permissions: perm(res, models.ActionCreate)},
			models.RouteRule{Pattern: base + "/", Match: models.MatchSuffix, Suffix: "/edit", Permissions: perm(res, models.ActionUpdate)},
			models.RouteRule{Pattern: base + "/", Match: models.MatchSuffix, Suffix: "/delete", Methods: post, Permissions: perm(res, models.ActionDelete)},
			models.RouteRule{Pattern: base + "/", Match: models.MatchPrefix, Methods: get, Permissions: perm(res, models.ActionRead)},
			models.RouteRule{Pattern: base + "/", Match: models.MatchPrefix, Methods: write, Permissions: perm(res, models.ActionUpdate)},
			models.RouteRule{Pattern: base + "/", Match: models.MatchPrefix, Methods: del, Permissions: perm(res, models.ActionDelete)},
		)
	}
	return rules
}
