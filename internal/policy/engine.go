package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/org/adminguard/internal/apperr"
	"github.com/org/adminguard/internal/cache"
	"github.com/org/adminguard/internal/metrics"
	"github.com/org/adminguard/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownRole is returned by a RoleSource for a role it has no entry for.
var ErrUnknownRole = errors.New("unknown role")

// RoleSource is the minimal interface the Evaluator needs to resolve a role's permissions.
type RoleSource interface {
	PermissionsFor(ctx context.Context, role models.Role) ([]models.Permission, error)
}

// Evaluator decides whether a user holds a permission. Decisions are cached per
// (user, resource, action, scope); any failure to resolve the role denies.
type Evaluator struct {
	roles RoleSource
	cache cache.PermissionCache
	group singleflight.Group
	gens  generations

	evaluations atomic.Int64
}

// NewEvaluator creates an Evaluator backed by the given role source and cache.
func NewEvaluator(roles RoleSource, c cache.PermissionCache) *Evaluator {
	return &Evaluator{roles: roles, cache: c, gens: generations{users: map[string]uint64{}}}
}

// HasPermission returns true if any permission of the user's role satisfies required.
// A nil or inactive user, or an unknown role, is denied without caching. A role lookup
// error denies and is returned to the caller.
func (e *Evaluator) HasPermission(ctx context.Context, user *models.User, required models.Permission) (bool, error) {
	if user == nil || !user.IsActive {
		recordCheck(false)
		return false, nil
	}

	key := cache.Key{UserID: user.ID, Resource: required.Resource, Action: required.Action, Scope: required.Scope}
	if allowed, ok := e.cache.Get(ctx, key); ok {
		recordCheck(allowed)
		return allowed, nil
	}

	gen := e.gens.current(user.ID)
	flight := fmt.Sprintf("%s|%d|%s|%s|%s|%s", user.ID, gen, user.Role, required.Resource, required.Action, required.Scope)
	v, err, _ := e.group.Do(flight, func() (any, error) {
		perms, err := e.roles.PermissionsFor(ctx, user.Role)
		if err != nil {
			return false, err
		}
		e.evaluations.Add(1)
		allowed := Satisfies(perms, required)
		if e.gens.current(user.ID) == gen {
			e.cache.Set(ctx, key, allowed)
		}
		return allowed, nil
	})
	if err != nil {
		if errors.Is(err, ErrUnknownRole) {
			log.Debug().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("unknown role, denying")
			recordCheck(false)
			return false, nil
		}
		log.Error().Err(err).Str("user_id", user.ID).Str("permission", required.String()).Msg("role lookup failed, denying")
		metrics.PermissionChecks.WithLabelValues("error").Inc()
		return false, apperr.Internal("role lookup failed", err)
	}

	allowed := v.(bool)
	recordCheck(allowed)
	return allowed, nil
}

// HasAnyPermission returns true if at least one of perms is granted.
func (e *Evaluator) HasAnyPermission(ctx context.Context, user *models.User, perms []models.Permission) (bool, error) {
	for _, p := range perms {
		ok, err := e.HasPermission(ctx, user, p)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions returns true if every one of perms is granted. It also returns the
// permissions that were not granted.
func (e *Evaluator) HasAllPermissions(ctx context.Context, user *models.User, perms []models.Permission) (bool, []models.Permission, error) {
	var missing []models.Permission
	for _, p := range perms {
		ok, err := e.HasPermission(ctx, user, p)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			missing = append(missing, p)
		}
	}
	return len(missing) == 0, missing, nil
}

// EffectivePermissions returns the permissions a role holds.
func (e *Evaluator) EffectivePermissions(ctx context.Context, role models.Role) ([]models.Permission, error) {
	perms, err := e.roles.PermissionsFor(ctx, role)
	if err != nil {
		if errors.Is(err, ErrUnknownRole) {
			return nil, nil
		}
		return nil, apperr.Internal("role lookup failed", err)
	}
	return perms, nil
}

// InvalidateUserCache drops every cached decision for userID. Call after any role change.
func (e *Evaluator) InvalidateUserCache(ctx context.Context, userID string) error {
	e.gens.bump(userID)
	if err := e.cache.InvalidateUser(ctx, userID); err != nil {
		return fmt.Errorf("invalidating cache for user %s: %w", userID, err)
	}
	return nil
}

// InvalidateAll drops every cached decision, e.g. after the role table is reloaded.
func (e *Evaluator) InvalidateAll(ctx context.Context) error {
	e.gens.bumpAll()
	return e.cache.InvalidateAll(ctx)
}

// CacheStats reports the decision cache.
func (e *Evaluator) CacheStats(ctx context.Context) cache.Stats {
	return e.cache.Stats(ctx)
}

// EvaluationCount is the number of times the role table was consulted.
func (e *Evaluator) EvaluationCount() int64 {
	return e.evaluations.Load()
}

// FilterByPermissions returns the items the user may perform action on. Items whose
// check errors are dropped.
func FilterByPermissions[T any](ctx context.Context, e *Evaluator, user *models.User, items []T, resourceOf func(T) string, action string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		ok, err := e.HasPermission(ctx, user, models.Permission{Resource: resourceOf(item), Action: action})
		if err != nil || !ok {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Satisfies returns true if any granted permission satisfies required.
func Satisfies(granted []models.Permission, required models.Permission) bool {
	for _, p := range granted {
		if permissionAllows(p, required) {
			return true
		}
	}
	return false
}

// permissionAllows reports whether the stored permission p grants required.
func permissionAllows(p, required models.Permission) bool {
	if p.IsWildcard() {
		return true
	}
	if p.Resource != required.Resource {
		return false
	}
	if p.Action != models.ActionManage && p.Action != required.Action {
		return false
	}
	return scopeCompatible(p.Scope, required.Scope)
}

// scopeCompatible: no required scope always matches, "all" covers everything,
// otherwise the scopes must be equal.
func scopeCompatible(granted, required string) bool {
	if required == "" {
		return true
	}
	if granted == models.ScopeAll {
		return true
	}
	return granted == required
}

func recordCheck(allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	metrics.PermissionChecks.WithLabelValues(result).Inc()
}

// generations guards against an in-flight evaluation re-populating the cache after
// the user's entries were invalidated.
type generations struct {
	mu    sync.Mutex
	all   uint64
	users map[string]uint64
}

func (g *generations) current(userID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.all + g.users[userID]
}

func (g *generations) bump(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users[userID]++
}

func (g *generations) bumpAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.all++
}
