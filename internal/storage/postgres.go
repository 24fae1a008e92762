package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/adminguard/pkg/models"
)

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Security events ---

func (p *PostgresBackend) CreateSecurityEvent(ctx context.Context, e *models.SecurityEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil || e.Details == nil {
		details = []byte("{}")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO security_events (id, type, severity, message, ip_address, user_id, user_agent, details, timestamp, resolved, resolved_by, resolved_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, string(e.Type), string(e.Severity), e.Message, e.IPAddress, e.UserID, e.UserAgent,
		details, e.Timestamp, e.Resolved, e.ResolvedBy, e.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting security event %s: %w", e.ID, err)
	}
	return nil
}

// UpdateSecurityEvent persists the resolution state of an event.
func (p *PostgresBackend) UpdateSecurityEvent(ctx context.Context, e *models.SecurityEvent) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE security_events SET resolved = $2, resolved_by = $3, resolved_at = $4 WHERE id = $1::uuid`,
		e.ID, e.Resolved, e.ResolvedBy, e.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("updating security event %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) QueryEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id::text, type, severity, message, ip_address, user_id, user_agent, details, timestamp, resolved, resolved_by, resolved_at FROM security_events WHERE 1=1`)
	args := []any{}
	n := 1
	add := func(clause string, v any) {
		fmt.Fprintf(&query, clause, n)
		args = append(args, v)
		n++
	}
	if filter.Severity != "" {
		add(` AND severity = $%d`, string(filter.Severity))
	}
	if filter.Type != "" {
		add(` AND type = $%d`, string(filter.Type))
	}
	if filter.IP != "" {
		add(` AND ip_address = $%d`, filter.IP)
	}
	if filter.UserID != "" {
		add(` AND user_id = $%d`, filter.UserID)
	}
	if filter.Since != nil {
		add(` AND timestamp >= $%d`, *filter.Since)
	}
	if filter.Unresolved {
		query.WriteString(` AND NOT resolved`)
	}
	query.WriteString(` ORDER BY timestamp DESC`)
	if filter.Limit > 0 {
		add(` LIMIT $%d`, filter.Limit)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying security events: %w", err)
	}
	defer rows.Close()

	var events []*models.SecurityEvent
	for rows.Next() {
		var e models.SecurityEvent
		var typ, sev string
		var details []byte
		if err := rows.Scan(&e.ID, &typ, &sev, &e.Message, &e.IPAddress, &e.UserID, &e.UserAgent,
			&details, &e.Timestamp, &e.Resolved, &e.ResolvedBy, &e.ResolvedAt); err != nil {
			return nil, err
		}
		e.Type = models.EventType(typ)
		e.Severity = models.Severity(sev)
		json.Unmarshal(details, &e.Details) //nolint:errcheck
		events = append(events, &e)
	}
	return events, rows.Err()
}

// --- Audit ---

func (p *PostgresBackend) CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil || entry.Metadata == nil {
		metaJSON = []byte("{}")
	}
	err = p.pool.QueryRow(ctx,
		`INSERT INTO audit_log (request_id, timestamp, user_id, action, resource, path, method, allowed, reason, client_ip, user_agent, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		entry.RequestID, entry.Timestamp, entry.UserID, entry.Action, entry.Resource, entry.Path,
		entry.Method, entry.Allowed, entry.Reason, entry.ClientIP, entry.UserAgent, metaJSON,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (p *PostgresBackend) QueryAuditLog(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, request_id, timestamp, user_id, action, resource, path, method, allowed, reason, client_ip, user_agent, metadata FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.UserID != "" {
		fmt.Fprintf(&query, ` AND user_id = $%d`, n)
		args = append(args, filter.UserID)
		n++
	}
	if filter.Path != "" {
		fmt.Fprintf(&query, ` AND path LIKE $%d`, n)
		args = append(args, filter.Path+"%")
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, *filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC, id DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.UserID, &e.Action, &e.Resource,
			&e.Path, &e.Method, &e.Allowed, &e.Reason, &e.ClientIP, &e.UserAgent, &metaJSON); err != nil {
			return nil, err
		}
		json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- IP blocks ---

func (p *PostgresBackend) SaveIPBlock(ctx context.Context, b *models.IPBlockEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO ip_blocks (ip, reason, blocked_at, blocked_by) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (ip) DO UPDATE SET reason = EXCLUDED.reason, blocked_at = EXCLUDED.blocked_at, blocked_by = EXCLUDED.blocked_by`,
		b.IP, b.Reason, b.BlockedAt, b.BlockedBy,
	)
	if err != nil {
		return fmt.Errorf("saving ip block %s: %w", b.IP, err)
	}
	return nil
}

func (p *PostgresBackend) DeleteIPBlock(ctx context.Context, ip string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM ip_blocks WHERE ip = $1`, ip)
	if err != nil {
		return fmt.Errorf("deleting ip block %s: %w", ip, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) ListIPBlocks(ctx context.Context) ([]*models.IPBlockEntry, error) {
	rows, err := p.pool.Query(ctx, `SELECT ip, reason, blocked_at, blocked_by FROM ip_blocks ORDER BY blocked_at`)
	if err != nil {
		return nil, fmt.Errorf("listing ip blocks: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.IPBlockEntry, error) {
		var b models.IPBlockEntry
		var at time.Time
		if err := row.Scan(&b.IP, &b.Reason, &at, &b.BlockedBy); err != nil {
			return nil, err
		}
		b.BlockedAt = at.UTC()
		return &b, nil
	})
}
