package security

import (
	"context"
	"fmt"
	"sort"

	"github.com/org/adminguard/internal/metrics"
	"github.com/org/adminguard/pkg/models"
	"github.com/rs/zerolog/log"
)

// BlockLister loads persisted blocks at startup.
type BlockLister interface {
	ListIPBlocks(ctx context.Context) ([]*models.IPBlockEntry, error)
}

// BlockIP blocks ip until UnblockIP is called. Blocking an already blocked address
// replaces its reason.
func (m *Monitor) BlockIP(ctx context.Context, ip, reason, blockedBy string) models.IPBlockEntry {
	entry := models.IPBlockEntry{IP: ip, Reason: reason, BlockedAt: m.now().UTC(), BlockedBy: blockedBy}
	m.bmu.Lock()
	m.blocks[ip] = &entry
	n := len(m.blocks)
	m.bmu.Unlock()

	m.afterBlock(ctx, entry, n)
	return entry
}

// blockIfAbsent blocks ip unless it is already blocked, so concurrent failures crossing
// the threshold raise one event.
func (m *Monitor) blockIfAbsent(ctx context.Context, ip, reason, blockedBy string) {
	m.bmu.Lock()
	if _, ok := m.blocks[ip]; ok {
		m.bmu.Unlock()
		return
	}
	entry := models.IPBlockEntry{IP: ip, Reason: reason, BlockedAt: m.now().UTC(), BlockedBy: blockedBy}
	m.blocks[ip] = &entry
	n := len(m.blocks)
	m.bmu.Unlock()

	m.afterBlock(ctx, entry, n)
}

func (m *Monitor) afterBlock(ctx context.Context, entry models.IPBlockEntry, n int) {
	metrics.BlockedIPs.Set(float64(n))
	m.sink.SaveBlock(&entry)
	m.LogSecurityEvent(ctx, EventInput{
		Type:      models.EventIPBlocked,
		Severity:  models.SeverityHigh,
		Message:   fmt.Sprintf("IP %s blocked: %s", entry.IP, entry.Reason),
		IPAddress: entry.IP,
		Details:   map[string]any{"reason": entry.Reason, "blocked_by": entry.BlockedBy},
	})
}

// UnblockIP lifts a block. It returns false if ip was not blocked.
func (m *Monitor) UnblockIP(ctx context.Context, ip string) bool {
	m.bmu.Lock()
	_, ok := m.blocks[ip]
	delete(m.blocks, ip)
	n := len(m.blocks)
	m.bmu.Unlock()
	if !ok {
		return false
	}

	metrics.BlockedIPs.Set(float64(n))
	m.sink.DeleteBlock(ip)
	m.LogSecurityEvent(ctx, EventInput{
		Type:      models.EventIPUnblocked,
		Severity:  models.SeverityLow,
		Message:   fmt.Sprintf("IP %s unblocked", ip),
		IPAddress: ip,
	})
	return true
}

// IsIPBlocked reports whether ip is on the block list.
func (m *Monitor) IsIPBlocked(ip string) bool {
	m.bmu.RLock()
	defer m.bmu.RUnlock()
	_, ok := m.blocks[ip]
	return ok
}

// BlockedIPs lists current blocks, oldest first.
func (m *Monitor) BlockedIPs() []models.IPBlockEntry {
	m.bmu.RLock()
	out := make([]models.IPBlockEntry, 0, len(m.blocks))
	for _, b := range m.blocks {
		out = append(out, *b)
	}
	m.bmu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].IP < out[j].IP
		}
		return out[i].BlockedAt.Before(out[j].BlockedAt)
	})
	return out
}

// LoadBlocks restores persisted blocks without raising events or writing them back.
func (m *Monitor) LoadBlocks(ctx context.Context, src BlockLister) error {
	blocks, err := src.ListIPBlocks(ctx)
	if err != nil {
		return fmt.Errorf("loading ip blocks: %w", err)
	}
	m.bmu.Lock()
	for _, b := range blocks {
		cp := *b
		m.blocks[b.IP] = &cp
	}
	n := len(m.blocks)
	m.bmu.Unlock()

	metrics.BlockedIPs.Set(float64(n))
	log.Info().Int("count", len(blocks)).Msg("ip blocks restored")
	return nil
}
