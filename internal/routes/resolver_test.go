package routes

import (
	"reflect"
	"testing"

	"github.com/org/adminguard/pkg/models"
)

func defaultResolver() *Resolver {
	return NewResolver(DefaultRules(), DefaultPublicRoutes())
}

func TestGetRoutePermissions(t *testing.T) {
	r := defaultResolver()

	cases := []struct {
		path   string
		method string
		want   []models.Permission
	}{
		{"/admin/products/123/edit", "PUT", []models.Permission{{Resource: "products", Action: "update"}}},
		{"/admin/products/123/edit", "GET", []models.Permission{{Resource: "products", Action: "update"}}},
		{"/unknown/route", "GET", []models.Permission{}},
		{"/admin/products", "GET", []models.Permission{{Resource: "products", Action: "read"}}},
		{"/admin/products", "POST", []models.Permission{{Resource: "products", Action: "create"}}},
		{"/admin/products/", "GET", []models.Permission{{Resource: "products", Action: "read"}}},
		{"/admin/products/new", "GET", []models.Permission{{Resource: "products", Action: "create"}}},
		{"/admin/products/42", "GET", []models.Permission{{Resource: "products", Action: "read"}}},
		{"/admin/products/42", "DELETE", []models.Permission{{Resource: "products", Action: "delete"}}},
		{"/admin/products/42", "PATCH", []models.Permission{{Resource: "products", Action: "update"}}},
		{"/admin/products/42/delete", "POST", []models.Permission{{Resource: "products", Action: "delete"}}},
		{"/admin/orders/9/edit?tab=items", "GET", []models.Permission{{Resource: "orders", Action: "update"}}},
		{"/admin/users/7", "GET", []models.Permission{{Resource: "users", Action: "manage"}}},
		{"/admin/users/7/edit", "POST", []models.Permission{{Resource: "users", Action: "manage"}}},
		{"/api/security/events", "GET", []models.Permission{{Resource: "security", Action: "manage"}}},
		{"/api/security/check", "GET", []models.Permission{}},
		{"/profile", "GET", []models.Permission{}},
	}
	for _, tc := range cases {
		got := r.GetRoutePermissions(tc.path, tc.method)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s %s: got %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestDotSegmentsResolveToCanonicalRoute(t *testing.T) {
	r := defaultResolver()
	users := []models.Permission{{Resource: "users", Action: "manage"}}

	cases := []struct {
		path   string
		method string
		want   []models.Permission
	}{
		{"/admin/products/1/../../users/5", "GET", users},
		{"/admin/products/../users", "GET", users},
		{"/admin//users/5", "GET", users},
		{"/admin/./users/5/", "GET", users},
		{"/admin/products/./42", "DELETE", []models.Permission{{Resource: "products", Action: "delete"}}},
		{"/admin/products/42/../../../../admin/settings", "POST", []models.Permission{{Resource: "settings", Action: "manage"}}},
	}
	for _, tc := range cases {
		got := r.GetRoutePermissions(tc.path, tc.method)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s %s: got %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
	if !r.RequiresAdmin("/admin/products/1/../../users/5", "GET") {
		t.Error("a traversal to /admin/users must still require admin")
	}
}

func TestAuthEventsRequiresGrant(t *testing.T) {
	r := defaultResolver()
	want := []models.Permission{{Resource: "auth_events", Action: "create"}}
	if got := r.GetRoutePermissions("/api/auth/events", "POST"); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGetRoutePermissions_NeverNil(t *testing.T) {
	r := NewResolver(nil, nil)
	if got := r.GetRoutePermissions("/anything", "GET"); got == nil {
		t.Error("expected empty non-nil slice")
	}
}

func TestSpecificityOrder(t *testing.T) {
	rules := []models.RouteRule{
		{Pattern: "/a/", Match: models.MatchPrefix, Permissions: []models.Permission{models.Perm("prefix", "read")}},
		{Pattern: "/a/b/", Match: models.MatchPrefix, Permissions: []models.Permission{models.Perm("longer-prefix", "read")}},
		{Pattern: "/a/", Match: models.MatchSuffix, Suffix: "/edit", Permissions: []models.Permission{models.Perm("suffix", "update")}},
		{Pattern: "/a/special/edit", Permissions: []models.Permission{models.Perm("exact", "update")}},
	}
	r := NewResolver(rules, nil)

	cases := map[string]string{
		"/a/special/edit": "exact",
		"/a/1/edit":       "suffix",
		"/a/b/c/edit":     "suffix",
		"/a/b/c":          "longer-prefix",
		"/a/x":            "prefix",
	}
	for path, want := range cases {
		got := r.GetRoutePermissions(path, "GET")
		if len(got) != 1 || got[0].Resource != want {
			t.Errorf("%s: got %v, want resource %q", path, got, want)
		}
	}
}

func TestSuffixNeedsDynamicSegment(t *testing.T) {
	r := defaultResolver()
	// "/admin/products/edit" has the prefix and the suffix but no id between them.
	got := r.GetRoutePermissions("/admin/products/edit", "GET")
	want := []models.Permission{{Resource: "products", Action: "read"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMethodMismatchFallsThrough(t *testing.T) {
	r := defaultResolver()
	// No exact rule for DELETE /admin/products and no prefix rule matches the bare path.
	if got := r.GetRoutePermissions("/admin/products", "DELETE"); len(got) != 0 {
		t.Errorf("expected no permissions, got %v", got)
	}
}

func TestIsPublicRoute(t *testing.T) {
	r := defaultResolver()
	for _, p := range []string{"/", "/login", "/login/", "/health", "/api/auth/csrf", "/health/./"} {
		if !r.IsPublicRoute(p) {
			t.Errorf("%s should be public", p)
		}
	}
	for _, p := range []string{"/admin", "/admin/products", "/api/security/stats", "/loginx", "/api/authx",
		"/api/auth/events", "/api/auth/csrf/../../security/blocks", "/login/../admin/users"} {
		if r.IsPublicRoute(p) {
			t.Errorf("%s should not be public", p)
		}
	}

	custom := NewResolver([]models.RouteRule{{Pattern: "/status", Public: true}}, nil)
	if !custom.IsPublicRoute("/status") {
		t.Error("rule flagged public should be on the allow-list")
	}
}

func TestRequiresAuthOnly(t *testing.T) {
	r := defaultResolver()
	if !r.RequiresAuthOnly("/profile") {
		t.Error("/profile should be auth-only")
	}
	if !r.RequiresAuthOnly("/api/security/check") {
		t.Error("/api/security/check should be auth-only")
	}
	if r.RequiresAuthOnly("/admin/products") {
		t.Error("/admin/products is not auth-only")
	}
}

func TestRequiresAdmin(t *testing.T) {
	r := defaultResolver()
	if !r.RequiresAdmin("/admin/users", "GET") {
		t.Error("/admin/users requires manage")
	}
	if !r.RequiresAdmin("/admin/settings/mail", "POST") {
		t.Error("/admin/settings/* requires manage")
	}
	if r.RequiresAdmin("/admin/products/1/edit", "GET") {
		t.Error("product edit is not admin-only")
	}
}

func TestRulesOrder(t *testing.T) {
	r := defaultResolver()
	rules := r.Rules()
	if len(rules) != len(DefaultRules()) {
		t.Fatalf("got %d rules, want %d", len(rules), len(DefaultRules()))
	}
	seenPrefix := false
	for _, rule := range rules {
		if rule.Match == models.MatchPrefix {
			seenPrefix = true
		} else if seenPrefix {
			t.Fatalf("rule %s (%s) listed after a prefix rule", rule.Pattern, rule.Match)
		}
	}
}
