package security

import (
	"fmt"

	"github.com/org/adminguard/pkg/models"
)

// ObservationKind says what the monitor just saw.
type ObservationKind string

const (
	ObservedLoginFailure ObservationKind = "login_failure"
	ObservedLoginSuccess ObservationKind = "login_success"
	ObservedAccess       ObservationKind = "access"
	ObservedViolation    ObservationKind = "violation"
)

// Observation is the input to every detection rule. Counts are the values after the
// observation was applied.
type Observation struct {
	Kind      ObservationKind
	IP        string
	UserID    string
	Role      models.Role
	Path      string
	Method    string
	Allowed   bool
	AdminOnly bool
	AuthOnly  bool

	IPFailures   int
	UserFailures int
	IPViolations int
}

// Alert is what a rule raises. The monitor turns it into a SecurityEvent.
type Alert struct {
	Type     models.EventType
	Severity models.Severity
	Message  string
	Details  map[string]any
}

// Rule is one threat detection policy. Rules are pure functions of the observation.
type Rule interface {
	Name() string
	Evaluate(obs Observation) *Alert
}

// BruteForceRule fires when failed logins from one IP reach Threshold (HIGH) and again
// when they reach BlockThreshold (CRITICAL).
type BruteForceRule struct {
	Threshold      int
	BlockThreshold int
}

func (BruteForceRule) Name() string { return "brute_force" }

func (r BruteForceRule) Evaluate(obs Observation) *Alert {
	if obs.Kind != ObservedLoginFailure || r.Threshold <= 0 {
		return nil
	}
	var sev models.Severity
	switch {
	case r.BlockThreshold > 0 && obs.IPFailures == r.BlockThreshold:
		sev = models.SeverityCritical
	case obs.IPFailures == r.Threshold:
		sev = models.SeverityHigh
	default:
		return nil
	}
	return &Alert{
		Type:     models.EventBruteForce,
		Severity: sev,
		Message:  fmt.Sprintf("Possible brute force attack: %d failed logins from %s", obs.IPFailures, obs.IP),
		Details: map[string]any{
			"failed_attempts": obs.IPFailures,
			"threshold":       r.Threshold,
		},
	}
}

// PrivilegeEscalationRule fires when a non-admin user requests an admin-only route,
// whether or not the request was allowed.
type PrivilegeEscalationRule struct{}

func (PrivilegeEscalationRule) Name() string { return "privilege_escalation" }

func (PrivilegeEscalationRule) Evaluate(obs Observation) *Alert {
	if obs.Kind != ObservedAccess || !obs.AdminOnly || obs.UserID == "" || obs.Role == models.RoleAdmin {
		return nil
	}
	return &Alert{
		Type:     models.EventPrivilegeEscalation,
		Severity: models.SeverityCritical,
		Message:  fmt.Sprintf("Privilege escalation attempt: %s user %s requested %s %s", obs.Role, obs.UserID, obs.Method, obs.Path),
		Details: map[string]any{
			"role":    string(obs.Role),
			"path":    obs.Path,
			"method":  obs.Method,
			"allowed": obs.Allowed,
		},
	}
}

// SuspiciousIPRule fires when denials of any kind from one IP reach Threshold.
type SuspiciousIPRule struct {
	Threshold int
}

func (SuspiciousIPRule) Name() string { return "suspicious_ip" }

func (r SuspiciousIPRule) Evaluate(obs Observation) *Alert {
	if r.Threshold <= 0 || obs.IPViolations != r.Threshold {
		return nil
	}
	if obs.Kind != ObservedViolation && !(obs.Kind == ObservedAccess && !obs.Allowed) {
		return nil
	}
	return &Alert{
		Type:     models.EventSuspiciousActivity,
		Severity: models.SeverityHigh,
		Message:  fmt.Sprintf("Suspicious activity: %d violations from %s", obs.IPViolations, obs.IP),
		Details: map[string]any{
			"violations": obs.IPViolations,
			"last_path":  obs.Path,
		},
	}
}

// SensitiveEndpointRule records authenticated access to auth-only endpoints.
type SensitiveEndpointRule struct{}

func (SensitiveEndpointRule) Name() string { return "sensitive_endpoint" }

func (SensitiveEndpointRule) Evaluate(obs Observation) *Alert {
	if obs.Kind != ObservedAccess || !obs.Allowed || !obs.AuthOnly || obs.UserID == "" {
		return nil
	}
	return &Alert{
		Type:     models.EventSensitiveAccess,
		Severity: models.SeverityMedium,
		Message:  fmt.Sprintf("Sensitive endpoint accessed: %s %s", obs.Method, obs.Path),
		Details:  map[string]any{"path": obs.Path, "method": obs.Method},
	}
}

// DefaultRules builds the standard rule set from cfg.
func DefaultRules(cfg Config) []Rule {
	return []Rule{
		BruteForceRule{Threshold: cfg.BruteForceThreshold, BlockThreshold: cfg.AutoBlockThreshold},
		PrivilegeEscalationRule{},
		SuspiciousIPRule{Threshold: cfg.ViolationThreshold},
		SensitiveEndpointRule{},
	}
}
