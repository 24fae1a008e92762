package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/org/adminguard/pkg/models"
)

func TestMemoryEvents(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i, sev := range []models.Severity{models.SeverityLow, models.SeverityHigh, models.SeverityHigh} {
		e := &models.SecurityEvent{
			ID:        string(rune('a' + i)),
			Type:      models.EventLoginFailed,
			Severity:  sev,
			IPAddress: "10.0.0.1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := m.CreateSecurityEvent(ctx, e); err != nil {
			t.Fatalf("CreateSecurityEvent: %v", err)
		}
	}

	high, _ := m.QueryEvents(ctx, models.EventFilter{Severity: models.SeverityHigh})
	if len(high) != 2 {
		t.Fatalf("expected 2 high events, got %d", len(high))
	}
	if high[0].ID != "c" {
		t.Errorf("expected newest first, got %s", high[0].ID)
	}

	now := base.Add(time.Hour)
	if err := m.UpdateSecurityEvent(ctx, &models.SecurityEvent{ID: "c", Resolved: true, ResolvedBy: "admin", ResolvedAt: &now}); err != nil {
		t.Fatalf("UpdateSecurityEvent: %v", err)
	}
	open, _ := m.QueryEvents(ctx, models.EventFilter{Unresolved: true, Limit: 1})
	if len(open) != 1 || open[0].ID != "b" {
		t.Errorf("unexpected unresolved events %v", open)
	}
	if err := m.UpdateSecurityEvent(ctx, &models.SecurityEvent{ID: "zz"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryAuditLog(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()
	for _, p := range []string{"/admin/products", "/admin/users", "/admin/products/1"} {
		m.CreateAuditEntry(ctx, &models.AuditEntry{Path: p, UserID: "u1", Action: "GET", Timestamp: time.Now()})
	}

	got, _ := m.QueryAuditLog(ctx, models.AuditFilter{Path: "/admin/products"})
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].ID != 3 {
		t.Errorf("expected newest first, got id %d", got[0].ID)
	}
	page, _ := m.QueryAuditLog(ctx, models.AuditFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != 2 {
		t.Errorf("unexpected page %v", page)
	}
	if past, _ := m.QueryAuditLog(ctx, models.AuditFilter{Offset: 10}); len(past) != 0 {
		t.Errorf("offset past the end should be empty, got %d", len(past))
	}
}

func TestMemoryIPBlocks(t *testing.T) {
	m := NewMemoryBackend()
	ctx := context.Background()

	m.SaveIPBlock(ctx, &models.IPBlockEntry{IP: "1.2.3.4", Reason: "brute force", BlockedAt: time.Now()})
	m.SaveIPBlock(ctx, &models.IPBlockEntry{IP: "1.2.3.4", Reason: "manual", BlockedAt: time.Now()})
	blocks, _ := m.ListIPBlocks(ctx)
	if len(blocks) != 1 || blocks[0].Reason != "manual" {
		t.Fatalf("expected upsert, got %v", blocks)
	}
	if err := m.DeleteIPBlock(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("DeleteIPBlock: %v", err)
	}
	if err := m.DeleteIPBlock(ctx, "1.2.3.4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
