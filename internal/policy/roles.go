package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/org/adminguard/pkg/models"
)

// DefaultRoleTable returns the built-in role table for the admin application.
func DefaultRoleTable() models.RoleTable {
	return models.RoleTable{
		models.RoleAdmin: {
			{Resource: models.ResourceAll, Action: models.ActionManage},
		},
		models.RoleEditor: {
			{Resource: "dashboard", Action: models.ActionRead},
			{Resource: "products", Action: models.ActionCreate},
			{Resource: "products", Action: models.ActionRead},
			{Resource: "products", Action: models.ActionUpdate},
			{Resource: "categories", Action: models.ActionCreate},
			{Resource: "categories", Action: models.ActionRead},
			{Resource: "categories", Action: models.ActionUpdate},
			{Resource: "orders", Action: models.ActionRead},
			{Resource: "orders", Action: models.ActionUpdate},
			{Resource: "customers", Action: models.ActionRead},
			{Resource: "users", Action: models.ActionRead, Scope: models.ScopeOwn},
			{Resource: "users", Action: models.ActionUpdate, Scope: models.ScopeOwn},
		},
		models.RoleViewer: {
			{Resource: "dashboard", Action: models.ActionRead},
			{Resource: "products", Action: models.ActionRead},
			{Resource: "categories", Action: models.ActionRead},
			{Resource: "orders", Action: models.ActionRead},
			{Resource: "customers", Action: models.ActionRead},
			{Resource: "users", Action: models.ActionRead, Scope: models.ScopeOwn},
		},
		models.RoleService: {
			{Resource: "auth_events", Action: models.ActionCreate},
		},
	}
}

// StaticRoles serves permissions from an in-memory RoleTable. The table can be swapped
// at runtime with Replace.
type StaticRoles struct {
	mu    sync.RWMutex
	table models.RoleTable
}

// NewStaticRoles copies table into a new StaticRoles.
func NewStaticRoles(table models.RoleTable) *StaticRoles {
	return &StaticRoles{table: cloneTable(table)}
}

// PermissionsFor returns a copy of the role's permissions or ErrUnknownRole.
func (s *StaticRoles) PermissionsFor(_ context.Context, role models.Role) ([]models.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms, ok := s.table[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	return append([]models.Permission(nil), perms...), nil
}

// Roles lists the configured role names.
func (s *StaticRoles) Roles() []models.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := make([]models.Role, 0, len(s.table))
	for r := range s.table {
		roles = append(roles, r)
	}
	return roles
}

// Replace swaps in a new table. Callers must invalidate the decision cache afterwards.
func (s *StaticRoles) Replace(table models.RoleTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = cloneTable(table)
}

func cloneTable(table models.RoleTable) models.RoleTable {
	out := make(models.RoleTable, len(table))
	for role, perms := range table {
		out[role] = append([]models.Permission(nil), perms...)
	}
	return out
}
