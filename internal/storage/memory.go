package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/org/adminguard/pkg/models"
)

// MemoryBackend keeps everything in process. It is used in development and tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	events  map[string]*models.SecurityEvent
	audit   []*models.AuditEntry
	blocks  map[string]*models.IPBlockEntry
	auditID int64
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		events: map[string]*models.SecurityEvent{},
		blocks: map[string]*models.IPBlockEntry{},
	}
}

func (m *MemoryBackend) Close() {}

func (m *MemoryBackend) CreateSecurityEvent(_ context.Context, e *models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events[e.ID] = &cp
	return nil
}

func (m *MemoryBackend) UpdateSecurityEvent(_ context.Context, e *models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.events[e.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Resolved = e.Resolved
	stored.ResolvedBy = e.ResolvedBy
	stored.ResolvedAt = e.ResolvedAt
	return nil
}

func (m *MemoryBackend) QueryEvents(_ context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.SecurityEvent
	for _, e := range m.events {
		if filter.Matches(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryBackend) CreateAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditID++
	entry.ID = m.auditID
	cp := *entry
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryBackend) QueryAuditLog(_ context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AuditEntry
	// Newest first.
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Path != "" && !strings.HasPrefix(e.Path, filter.Path) {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryBackend) SaveIPBlock(_ context.Context, b *models.IPBlockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.blocks[b.IP] = &cp
	return nil
}

func (m *MemoryBackend) DeleteIPBlock(_ context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[ip]; !ok {
		return ErrNotFound
	}
	delete(m.blocks, ip)
	return nil
}

func (m *MemoryBackend) ListIPBlocks(_ context.Context) ([]*models.IPBlockEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.IPBlockEntry, 0, len(m.blocks))
	for _, b := range m.blocks {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedAt.Before(out[j].BlockedAt) })
	return out, nil
}
