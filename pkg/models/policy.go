package models

import "strings"

// Action constants used by the role table and route rules.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionManage = "manage"
)

// Scope constants.
const (
	ScopeOwn = "own"
	ScopeAll = "all"
)

// ResourceAll is the wildcard resource. Paired with ActionManage it grants everything.
const ResourceAll = "*"

// Permission is a resource/action pair with an optional scope qualifier.
type Permission struct {
	Resource string `json:"resource" yaml:"resource" validate:"required"`
	Action   string `json:"action" yaml:"action" validate:"required"`
	Scope    string `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// Perm is shorthand for an unscoped Permission.
func Perm(resource, action string) Permission {
	return Permission{Resource: resource, Action: action}
}

// IsWildcard reports whether p is the universal manage:* grant.
func (p Permission) IsWildcard() bool {
	return p.Resource == ResourceAll && p.Action == ActionManage
}

// String renders the permission as resource:action[:scope].
func (p Permission) String() string {
	if p.Scope == "" {
		return p.Resource + ":" + p.Action
	}
	return p.Resource + ":" + p.Action + ":" + p.Scope
}

// ParsePermission parses the resource:action[:scope] form produced by String.
func ParsePermission(s string) (Permission, bool) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		return Permission{Resource: parts[0], Action: parts[1]}, parts[0] != "" && parts[1] != ""
	case 3:
		return Permission{Resource: parts[0], Action: parts[1], Scope: parts[2]}, parts[0] != "" && parts[1] != ""
	}
	return Permission{}, false
}

// Role names a set of permissions in the role table.
type Role string

// Built-in roles.
const (
	RoleAdmin  Role = "ADMIN"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"

	// RoleService is held by the authentication provider that reports login outcomes.
	RoleService Role = "SERVICE"
)

// RoleTable maps a role to its ordered permission list.
type RoleTable map[Role][]Permission

// MatchKind selects how a RouteRule pattern is compared against a path.
type MatchKind string

const (
	MatchExact  MatchKind = "exact"
	MatchSuffix MatchKind = "suffix" // prefix + suffix, e.g. /admin/products/ ... /edit
	MatchPrefix MatchKind = "prefix"
)

// RouteRule declares the permissions a route requires.
type RouteRule struct {
	Pattern     string       `json:"pattern" yaml:"pattern" validate:"required,startswith=/"`
	Suffix      string       `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	Match       MatchKind    `json:"match" yaml:"match" validate:"omitempty,oneof=exact suffix prefix"`
	Methods     []string     `json:"methods,omitempty" yaml:"methods,omitempty"`
	Permissions []Permission `json:"permissions,omitempty" yaml:"permissions,omitempty" validate:"dive"`
	Public      bool         `json:"public,omitempty" yaml:"public,omitempty"`
	AuthOnly    bool         `json:"auth_only,omitempty" yaml:"auth_only,omitempty"`
}

// AllowsMethod reports whether the rule applies to method. An empty list matches every method.
func (r RouteRule) AllowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
