package storage

import (
	"context"
	"errors"

	"github.com/org/adminguard/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Backend is the persistence port for security events, audit entries and IP blocks.
// Nothing on the request path waits on it; writes arrive through the audit writer.
type Backend interface {
	// Security events
	CreateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	UpdateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	QueryEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)

	// Audit
	CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)

	// IP blocks
	SaveIPBlock(ctx context.Context, block *models.IPBlockEntry) error
	DeleteIPBlock(ctx context.Context, ip string) error
	ListIPBlocks(ctx context.Context) ([]*models.IPBlockEntry, error)

	// Lifecycle
	Close()
}
