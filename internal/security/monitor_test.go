package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/org/adminguard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memSink struct {
	mu      sync.Mutex
	events  []*models.SecurityEvent
	updates []*models.SecurityEvent
	saved   []string
	deleted []string
}

func (s *memSink) RecordEvent(e *models.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *memSink) UpdateEvent(e *models.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, e)
}

func (s *memSink) SaveBlock(b *models.IPBlockEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, b.IP)
}

func (s *memSink) DeleteBlock(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, ip)
}

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *fakeClock, *memSink) {
	t.Helper()
	clock := newFakeClock()
	sink := &memSink{}
	m := NewMonitor(cfg, sink, WithClock(clock.Now))
	t.Cleanup(func() { m.Close() })
	return m, clock, sink
}

func TestTenFailuresBlock(t *testing.T) {
	m, _, sink := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()
	ip := "203.0.113.7"

	for i := 1; i <= 9; i++ {
		res := m.RecordLoginFailure(ctx, ip, "", "curl")
		assert.Equal(t, i, res.Failures)
		assert.False(t, res.Blocked, "attempt %d should not block", i)
	}
	assert.False(t, m.IsIPBlocked(ip), "9 failures must not block")

	res := m.RecordLoginFailure(ctx, ip, "", "curl")
	assert.True(t, res.Blocked)
	assert.True(t, m.IsIPBlocked(ip), "10 failures must block")
	assert.Equal(t, []string{ip}, sink.saved)

	blocks := m.BlockedIPs()
	require.Len(t, blocks, 1)
	assert.Equal(t, "system", blocks[0].BlockedBy)
	assert.Contains(t, blocks[0].Reason, "10 failed login attempts")

	// Further failures do not raise another block.
	m.RecordLoginFailure(ctx, ip, "", "curl")
	assert.Len(t, sink.saved, 1)
}

func TestFailuresSplitAcrossIPs(t *testing.T) {
	m, _, _ := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		m.RecordLoginFailure(ctx, "10.0.0.1", "u1", "")
		m.RecordLoginFailure(ctx, "10.0.0.2", "u1", "")
	}
	assert.False(t, m.IsIPBlocked("10.0.0.1"))
	assert.False(t, m.IsIPBlocked("10.0.0.2"))
	assert.Equal(t, 18, m.FailureCount("user:u1"))
}

func TestSuccessResetsCounter(t *testing.T) {
	m, _, _ := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()
	ip := "198.51.100.4"

	for i := 0; i < 9; i++ {
		m.RecordLoginFailure(ctx, ip, "alice", "")
	}
	require.Equal(t, 9, m.FailureCount("ip:"+ip))
	require.Equal(t, 9, m.FailureCount("user:alice"))

	m.RecordLoginSuccess(ctx, ip, "alice", "")
	assert.Equal(t, 0, m.FailureCount("ip:"+ip))
	assert.Equal(t, 0, m.FailureCount("user:alice"))

	// The count starts over, so nine more still do not block.
	for i := 0; i < 9; i++ {
		m.RecordLoginFailure(ctx, ip, "alice", "")
	}
	assert.False(t, m.IsIPBlocked(ip))
}

func TestSuccessDoesNotUnblock(t *testing.T) {
	m, _, _ := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()
	ip := "198.51.100.9"
	for i := 0; i < 10; i++ {
		m.RecordLoginFailure(ctx, ip, "", "")
	}
	res := m.RecordLoginSuccess(ctx, ip, "bob", "")
	assert.True(t, res.Blocked)
	assert.True(t, m.IsIPBlocked(ip))

	assert.True(t, m.UnblockIP(ctx, ip))
	assert.False(t, m.IsIPBlocked(ip))
	assert.False(t, m.UnblockIP(ctx, ip))
}

func TestFailureWindowExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureWindow = time.Minute
	m, clock, _ := newTestMonitor(t, cfg)
	ctx := context.Background()
	ip := "192.0.2.1"

	for i := 0; i < 9; i++ {
		m.RecordLoginFailure(ctx, ip, "", "")
	}
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, m.FailureCount("ip:"+ip))
	m.RecordLoginFailure(ctx, ip, "", "")
	assert.False(t, m.IsIPBlocked(ip), "failures from an expired window must not count")
}

func TestBruteForceAlert(t *testing.T) {
	m, _, _ := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()
	ip := "192.0.2.50"

	var alerts []*models.SecurityEvent
	for i := 0; i < 10; i++ {
		alerts = append(alerts, m.RecordLoginFailure(ctx, ip, "", "").Alerts...)
	}
	require.Len(t, alerts, 2)
	assert.Equal(t, models.EventBruteForce, alerts[0].Type)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, models.SeverityCritical, alerts[1].Severity)

	bf := m.GetSecurityEvents(models.EventFilter{Type: models.EventBruteForce})
	assert.Len(t, bf, 2)
}

func TestConcurrentFailuresCountExactly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoBlockThreshold = 1000
	m, _, sink := newTestMonitor(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordLoginFailure(ctx, "10.10.10.10", "", "")
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, m.FailureCount("ip:10.10.10.10"))
	assert.Empty(t, sink.saved)
}

func TestLogSecurityEventDefaults(t *testing.T) {
	m, clock, sink := newTestMonitor(t, DefaultConfig())
	e := m.LogSecurityEvent(context.Background(), EventInput{Type: models.EventSuspiciousActivity, Message: "odd"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "unknown", e.IPAddress)
	assert.Equal(t, models.SeverityLow, e.Severity)
	assert.Equal(t, clock.Now(), e.Timestamp)
	require.Len(t, sink.events, 1)
	assert.Equal(t, e.ID, sink.events[0].ID)

	// The caller's copy is detached from the monitor's.
	e.Message = "changed"
	assert.Equal(t, "odd", m.GetSecurityEvents(models.EventFilter{})[0].Message)
}

func TestEventDetailsAreNotShared(t *testing.T) {
	m, _, sink := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()

	in := map[string]any{"path": "/admin/users"}
	e := m.LogSecurityEvent(ctx, EventInput{Type: models.EventPermissionDenied, Details: in})
	in["path"] = "/changed-by-caller"
	e.Details["path"] = "/changed-by-reader"

	stored := m.GetSecurityEvents(models.EventFilter{})[0]
	assert.Equal(t, "/admin/users", stored.Details["path"])
	require.Len(t, sink.events, 1)
	assert.Equal(t, "/admin/users", sink.events[0].Details["path"])

	stored.Details["path"] = "/changed-again"
	assert.Equal(t, "/admin/users", m.GetSecurityEvents(models.EventFilter{})[0].Details["path"])

	require.True(t, m.ResolveSecurityEvent(ctx, e.ID, "admin"))
	resolved := m.GetSecurityEvents(models.EventFilter{})[0]
	*resolved.ResolvedAt = time.Time{}
	assert.False(t, m.GetSecurityEvents(models.EventFilter{})[0].ResolvedAt.IsZero())
}

func TestGetSecurityEventsFilters(t *testing.T) {
	m, _, _ := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.LogSecurityEvent(ctx, EventInput{Type: models.EventPermissionDenied, Severity: models.SeverityMedium, Message: fmt.Sprint(i)})
	}
	m.LogSecurityEvent(ctx, EventInput{Type: models.EventCSRFViolation, Severity: models.SeverityHigh, Message: "csrf"})

	got := m.GetSecurityEvents(models.EventFilter{Limit: 3})
	require.Len(t, got, 3)
	assert.Equal(t, "csrf", got[0].Message, "newest first")

	medium := m.GetSecurityEvents(models.EventFilter{Severity: models.SeverityMedium})
	assert.Len(t, medium, 5)
	csrf := m.GetSecurityEvents(models.EventFilter{Type: models.EventCSRFViolation})
	assert.Len(t, csrf, 1)
}

func TestEventRingIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEvents = 3
	m, _, _ := newTestMonitor(t, cfg)
	ctx := context.Background()

	first := m.LogSecurityEvent(ctx, EventInput{Type: models.EventLoginFailed, Message: "0"})
	for i := 1; i < 5; i++ {
		m.LogSecurityEvent(ctx, EventInput{Type: models.EventLoginFailed, Message: fmt.Sprint(i)})
	}
	got := m.GetSecurityEvents(models.EventFilter{})
	require.Len(t, got, 3)
	assert.Equal(t, "4", got[0].Message)
	assert.Equal(t, "2", got[2].Message)
	assert.False(t, m.ResolveSecurityEvent(ctx, first.ID, "admin"), "evicted events cannot be resolved")
	assert.Equal(t, 5, m.GetSecurityStats().TotalEvents)
}

func TestResolveSecurityEvent(t *testing.T) {
	m, _, sink := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()

	assert.False(t, m.ResolveSecurityEvent(ctx, "nonexistent-id", "admin"))

	e := m.LogSecurityEvent(ctx, EventInput{Type: models.EventPrivilegeEscalation, Severity: models.SeverityCritical})
	require.True(t, m.ResolveSecurityEvent(ctx, e.ID, "admin"))

	got := m.GetSecurityEvents(models.EventFilter{})[0]
	assert.True(t, got.Resolved)
	assert.Equal(t, "admin", got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)
	require.Len(t, sink.updates, 1)
	assert.Empty(t, m.GetSecurityEvents(models.EventFilter{Unresolved: true}))
}

func TestThreatLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ObservationWindow = time.Hour
	m, clock, _ := newTestMonitor(t, cfg)
	ctx := context.Background()

	assert.Equal(t, models.SeverityLow, m.GetSecurityStats().ThreatLevel)

	crit := m.LogSecurityEvent(ctx, EventInput{Type: models.EventPrivilegeEscalation, Severity: models.SeverityCritical, IPAddress: "10.0.0.5"})
	m.LogSecurityEvent(ctx, EventInput{Type: models.EventPermissionDenied, Severity: models.SeverityMedium, IPAddress: "10.0.0.6"})
	assert.Equal(t, models.SeverityCritical, m.GetSecurityStats().ThreatLevel)

	m.ResolveSecurityEvent(ctx, crit.ID, "admin")
	assert.Equal(t, models.SeverityMedium, m.GetSecurityStats().ThreatLevel, "resolved events do not count")

	clock.Advance(2 * time.Hour)
	assert.Equal(t, models.SeverityLow, m.GetSecurityStats().ThreatLevel, "events outside the window do not count")
}

func TestSecurityStats(t *testing.T) {
	m, _, _ := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.LogSecurityEvent(ctx, EventInput{Type: models.EventPermissionDenied, Severity: models.SeverityMedium, IPAddress: "10.0.0.1"})
	}
	m.LogSecurityEvent(ctx, EventInput{Type: models.EventSuspiciousActivity, Severity: models.SeverityHigh, IPAddress: "10.0.0.2"})
	m.BlockIP(ctx, "10.0.0.3", "manual", "ops")

	st := m.GetSecurityStats()
	assert.Equal(t, 5, st.TotalEvents)
	assert.Equal(t, models.SeverityHigh, st.ThreatLevel)
	require.GreaterOrEqual(t, len(st.TopThreats), 2)
	// High severity outranks volume.
	assert.Equal(t, "10.0.0.2", st.TopThreats[0].IP)
	assert.Len(t, st.IPBlacklist, 1)
	assert.Equal(t, 3, st.EventsByType[models.EventPermissionDenied])
	assert.Equal(t, 2, st.EventsBySeverity[models.SeverityHigh])
	assert.Len(t, st.RecentAlerts, 2)
}

func TestManualBlock(t *testing.T) {
	m, _, sink := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()

	entry := m.BlockIP(ctx, "192.0.2.99", "scanner", "ops")
	assert.Equal(t, "scanner", entry.Reason)
	assert.True(t, m.IsIPBlocked("192.0.2.99"))

	m.BlockIP(ctx, "192.0.2.99", "still scanning", "ops")
	blocks := m.BlockedIPs()
	require.Len(t, blocks, 1)
	assert.Equal(t, "still scanning", blocks[0].Reason)

	assert.True(t, m.UnblockIP(ctx, "192.0.2.99"))
	assert.Equal(t, []string{"192.0.2.99"}, sink.deleted)
	assert.Len(t, m.GetSecurityEvents(models.EventFilter{Type: models.EventIPUnblocked}), 1)
}

type staticLister struct {
	blocks []*models.IPBlockEntry
	err    error
}

func (s staticLister) ListIPBlocks(context.Context) ([]*models.IPBlockEntry, error) {
	return s.blocks, s.err
}

func TestLoadBlocks(t *testing.T) {
	m, _, sink := newTestMonitor(t, DefaultConfig())
	ctx := context.Background()

	err := m.LoadBlocks(ctx, staticLister{blocks: []*models.IPBlockEntry{{IP: "10.1.1.1", Reason: "old"}}})
	require.NoError(t, err)
	assert.True(t, m.IsIPBlocked("10.1.1.1"))
	assert.Empty(t, sink.saved, "restored blocks are not written back")
	assert.Empty(t, m.GetSecurityEvents(models.EventFilter{}))

	err = m.LoadBlocks(ctx, staticLister{err: errors.New("boom")})
	assert.ErrorContains(t, err, "loading ip blocks")
}

func TestRecordAccessDecision(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ViolationThreshold = 3
	m, _, _ := newTestMonitor(t, cfg)
	ctx := context.Background()
	editor := &models.User{ID: "e1", Role: models.RoleEditor, IsActive: true}

	alerts := m.RecordAccessDecision(ctx, Access{User: editor, Path: "/admin/users", Method: "GET", IP: "10.2.2.2", AdminOnly: true})
	require.Len(t, alerts, 1)
	assert.Equal(t, models.EventPrivilegeEscalation, alerts[0].Type)
	assert.Len(t, m.GetSecurityEvents(models.EventFilter{Type: models.EventPermissionDenied}), 1)

	m.RecordAccessDecision(ctx, Access{User: editor, Path: "/admin/settings", Method: "GET", IP: "10.2.2.2"})
	alerts = m.RecordAccessDecision(ctx, Access{User: editor, Path: "/admin/audit", Method: "GET", IP: "10.2.2.2"})
	require.Len(t, alerts, 1)
	assert.Equal(t, models.EventSuspiciousActivity, alerts[0].Type)

	alerts = m.RecordAccessDecision(ctx, Access{User: editor, Path: "/profile", Method: "GET", IP: "10.2.2.2", Allowed: true, AuthOnly: true})
	require.Len(t, alerts, 1)
	assert.Equal(t, models.EventSensitiveAccess, alerts[0].Type)
	assert.Equal(t, models.SeverityMedium, alerts[0].Severity)
}

func TestRecordViolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ViolationThreshold = 2
	m, _, _ := newTestMonitor(t, cfg)
	ctx := context.Background()

	assert.Empty(t, m.RecordViolation(ctx, models.EventCSRFViolation, "10.3.3.3", "", "", "Invalid CSRF token", nil))
	alerts := m.RecordViolation(ctx, models.EventRateLimited, "10.3.3.3", "", "", "Rate limit exceeded", nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.EventSuspiciousActivity, alerts[0].Type)

	rl := m.GetSecurityEvents(models.EventFilter{Type: models.EventRateLimited})
	require.Len(t, rl, 1)
	assert.Equal(t, models.SeverityLow, rl[0].Severity)
}
