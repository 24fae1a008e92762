// Package routes maps request paths to the permissions they require.
//
// Matching is deliberately plain string comparison so the rule table can be audited by
// reading it. Rules are tried in specificity order:
//
//  1. exact path + method
//  2. suffix rules: path has the rule's prefix and ends with its suffix (e.g. /edit)
//  3. prefix rules: path starts with the rule's prefix and has at least one more character
//  4. nothing matched: no permissions, which means "authenticated only"
//
// Within tiers 2 and 3 the longest pattern wins.
package routes

import (
	"path"
	"sort"
	"strings"

	"github.com/org/adminguard/pkg/models"
)

// Resolver answers route permission questions from a fixed rule table.
type Resolver struct {
	exact        map[string][]models.RouteRule
	suffix       []models.RouteRule
	prefix       []models.RouteRule
	publicExact  map[string]bool
	publicPrefix []string
}

// NewResolver indexes rules and the public allow-list. Entries in public ending in "*"
// are prefixes; all others must match exactly. Rules flagged Public join the allow-list.
func NewResolver(rules []models.RouteRule, public []string) *Resolver {
	r := &Resolver{
		exact:       map[string][]models.RouteRule{},
		publicExact: map[string]bool{},
	}
	for _, rule := range rules {
		switch rule.Match {
		case models.MatchSuffix:
			r.suffix = append(r.suffix, rule)
		case models.MatchPrefix:
			r.prefix = append(r.prefix, rule)
		default:
			r.exact[normalize(rule.Pattern)] = append(r.exact[normalize(rule.Pattern)], rule)
		}
		if rule.Public {
			public = append(public, rule.Pattern)
		}
	}
	sort.SliceStable(r.suffix, func(i, j int) bool {
		return len(r.suffix[i].Pattern)+len(r.suffix[i].Suffix) > len(r.suffix[j].Pattern)+len(r.suffix[j].Suffix)
	})
	sort.SliceStable(r.prefix, func(i, j int) bool {
		return len(r.prefix[i].Pattern) > len(r.prefix[j].Pattern)
	})
	for _, p := range public {
		if strings.HasSuffix(p, "*") {
			r.publicPrefix = append(r.publicPrefix, strings.TrimSuffix(p, "*"))
			continue
		}
		r.publicExact[normalize(p)] = true
	}
	return r
}

// GetRoutePermissions returns the permissions required for path and method. The result
// is never nil; an empty slice means no specific permission is required.
func (r *Resolver) GetRoutePermissions(path, method string) []models.Permission {
	if rule, ok := r.match(normalize(path), method); ok {
		return append([]models.Permission{}, rule.Permissions...)
	}
	return []models.Permission{}
}

func (r *Resolver) match(path, method string) (models.RouteRule, bool) {
	for _, rule := range r.exact[path] {
		if rule.AllowsMethod(method) {
			return rule, true
		}
	}
	for _, rule := range r.suffix {
		if rule.AllowsMethod(method) && matchSuffix(rule, path) {
			return rule, true
		}
	}
	for _, rule := range r.prefix {
		if rule.AllowsMethod(method) && matchPrefix(rule, path) {
			return rule, true
		}
	}
	return models.RouteRule{}, false
}

// IsPublicRoute reports whether path is on the public allow-list. Public routes bypass
// permission evaluation entirely.
func (r *Resolver) IsPublicRoute(path string) bool {
	path = normalize(path)
	if r.publicExact[path] {
		return true
	}
	for _, p := range r.publicPrefix {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// RequiresAuthOnly reports whether path is flagged as needing only an authenticated
// user, regardless of method.
func (r *Resolver) RequiresAuthOnly(path string) bool {
	path = normalize(path)
	for _, rule := range r.exact[path] {
		if rule.AuthOnly {
			return true
		}
	}
	for _, rule := range r.suffix {
		if rule.AuthOnly && matchSuffix(rule, path) {
			return true
		}
	}
	for _, rule := range r.prefix {
		if rule.AuthOnly && matchPrefix(rule, path) {
			return true
		}
	}
	return false
}

// RequiresAdmin reports whether the route needs a manage grant, which only ADMIN holds
// in the default role table.
func (r *Resolver) RequiresAdmin(path, method string) bool {
	for _, p := range r.GetRoutePermissions(path, method) {
		if p.IsWildcard() || p.Action == models.ActionManage {
			return true
		}
	}
	return false
}

// Rules returns every configured rule in evaluation order.
func (r *Resolver) Rules() []models.RouteRule {
	keys := make([]string, 0, len(r.exact))
	for k := range r.exact {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []models.RouteRule
	for _, k := range keys {
		out = append(out, r.exact[k]...)
	}
	out = append(out, r.suffix...)
	return append(out, r.prefix...)
}

func matchSuffix(rule models.RouteRule, path string) bool {
	return len(path) > len(rule.Pattern)+len(rule.Suffix) &&
		strings.HasPrefix(path, rule.Pattern) &&
		strings.HasSuffix(path, rule.Suffix)
}

func matchPrefix(rule models.RouteRule, path string) bool {
	return len(path) > len(rule.Pattern) && strings.HasPrefix(path, rule.Pattern)
}

// normalize drops the query string, resolves "." and ".." segments and collapses
// repeated and trailing slashes, so a rule always sees the path the upstream serves.
func normalize(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
