package models

import "time"

// Severity of a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// EventType classifies a security event.
type EventType string

const (
	EventLoginFailed         EventType = "login_failed"
	EventLoginSuccess        EventType = "login_success"
	EventPermissionDenied    EventType = "permission_denied"
	EventAccessGranted       EventType = "access_granted"
	EventPrivilegeEscalation EventType = "privilege_escalation"
	EventBruteForce          EventType = "brute_force"
	EventSuspiciousActivity  EventType = "suspicious_activity"
	EventSensitiveAccess     EventType = "sensitive_access"
	EventIPBlocked           EventType = "ip_blocked"
	EventIPUnblocked         EventType = "ip_unblocked"
	EventCSRFViolation       EventType = "csrf_violation"
	EventRateLimited         EventType = "rate_limited"
)

// SecurityEvent is a notable action observed by the monitor.
type SecurityEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	IPAddress  string         `json:"ip_address"`
	UserID     string         `json:"user_id,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Resolved   bool           `json:"resolved"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// IPBlockEntry records a blocked address. Entries never expire on their own.
type IPBlockEntry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
	BlockedBy string    `json:"blocked_by,omitempty"`
}

// EventFilter selects security events.
type EventFilter struct {
	Limit      int
	Severity   Severity
	Type       EventType
	IP         string
	UserID     string
	Since      *time.Time
	Unresolved bool
}

// Matches applies the filter to a single event (Limit is ignored).
func (f EventFilter) Matches(e *SecurityEvent) bool {
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.IP != "" && e.IPAddress != f.IP {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Unresolved && e.Resolved {
		return false
	}
	return true
}

// AuditEntry records a single authorization decision.
type AuditEntry struct {
	ID        int64          `json:"id"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Path      string         `json:"path"`
	Method    string         `json:"method"`
	Allowed   bool           `json:"allowed"`
	Reason    string         `json:"reason,omitempty"`
	ClientIP  string         `json:"client_ip"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	UserID string
	Path   string
	Since  *time.Time
	Limit  int
	Offset int
}
