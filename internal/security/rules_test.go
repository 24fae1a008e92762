package security

import (
	"testing"

	"github.com/org/adminguard/pkg/models"
)

func TestBruteForceRule(t *testing.T) {
	r := BruteForceRule{Threshold: 5, BlockThreshold: 10}
	cases := []struct {
		failures int
		want     models.Severity
	}{
		{1, ""},
		{4, ""},
		{5, models.SeverityHigh},
		{6, ""},
		{10, models.SeverityCritical},
		{11, ""},
	}
	for _, tc := range cases {
		a := r.Evaluate(Observation{Kind: ObservedLoginFailure, IP: "1.1.1.1", IPFailures: tc.failures})
		switch {
		case tc.want == "" && a != nil:
			t.Errorf("failures=%d: unexpected alert %+v", tc.failures, a)
		case tc.want != "" && (a == nil || a.Severity != tc.want):
			t.Errorf("failures=%d: expected %s alert, got %+v", tc.failures, tc.want, a)
		}
	}
	if a := r.Evaluate(Observation{Kind: ObservedAccess, IPFailures: 5}); a != nil {
		t.Error("brute force only looks at login failures")
	}
}

func TestPrivilegeEscalationRule(t *testing.T) {
	r := PrivilegeEscalationRule{}
	base := Observation{Kind: ObservedAccess, UserID: "u", Role: models.RoleViewer, AdminOnly: true, Path: "/admin/users", Method: "GET"}

	a := r.Evaluate(base)
	if a == nil || a.Severity != models.SeverityCritical || a.Type != models.EventPrivilegeEscalation {
		t.Fatalf("expected critical escalation alert, got %+v", a)
	}

	allowed := base
	allowed.Allowed = true
	if r.Evaluate(allowed) == nil {
		t.Error("escalation fires whether or not the request was allowed")
	}

	admin := base
	admin.Role = models.RoleAdmin
	if r.Evaluate(admin) != nil {
		t.Error("admins cannot escalate")
	}

	plain := base
	plain.AdminOnly = false
	if r.Evaluate(plain) != nil {
		t.Error("non-admin routes do not trigger")
	}

	anon := base
	anon.UserID = ""
	if r.Evaluate(anon) != nil {
		t.Error("anonymous requests are not escalation")
	}
}

func TestSuspiciousIPRule(t *testing.T) {
	r := SuspiciousIPRule{Threshold: 3}
	if r.Evaluate(Observation{Kind: ObservedAccess, IPViolations: 2}) != nil {
		t.Error("below threshold")
	}
	if a := r.Evaluate(Observation{Kind: ObservedAccess, IPViolations: 3}); a == nil || a.Severity != models.SeverityHigh {
		t.Errorf("expected high alert at threshold, got %+v", a)
	}
	if r.Evaluate(Observation{Kind: ObservedAccess, Allowed: true, IPViolations: 3}) != nil {
		t.Error("allowed requests are not violations")
	}
	if r.Evaluate(Observation{Kind: ObservedViolation, IPViolations: 3}) == nil {
		t.Error("reported violations count")
	}
	if r.Evaluate(Observation{Kind: ObservedViolation, IPViolations: 4}) != nil {
		t.Error("fires once per window")
	}
}

func TestSensitiveEndpointRule(t *testing.T) {
	r := SensitiveEndpointRule{}
	obs := Observation{Kind: ObservedAccess, UserID: "u", Allowed: true, AuthOnly: true, Path: "/account/security", Method: "GET"}
	if a := r.Evaluate(obs); a == nil || a.Severity != models.SeverityMedium {
		t.Errorf("expected medium alert, got %+v", a)
	}
	obs.AuthOnly = false
	if r.Evaluate(obs) != nil {
		t.Error("only auth-only routes are sensitive")
	}
}

func TestDefaultRulesFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	rules := DefaultRules(cfg)
	if len(rules) != 4 {
		t.Fatalf("expected 4 rules, got %d", len(rules))
	}
	bf, ok := rules[0].(BruteForceRule)
	if !ok || bf.Threshold != 5 || bf.BlockThreshold != 10 {
		t.Errorf("unexpected brute force rule %+v", rules[0])
	}
}
