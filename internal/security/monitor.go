// Package security records security events, tracks failures per IP and per user, runs the
// threat detection rules and keeps the IP block list.
//
// All state lives in memory behind the Monitor's locks. Persistence is delegated to a Sink
// that must not block; the audit writer is the production implementation.
package security

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/org/adminguard/internal/metrics"
	"github.com/org/adminguard/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the detection thresholds and windows.
type Config struct {
	FailureWindow       time.Duration `koanf:"failure_window"`
	AutoBlockThreshold  int           `koanf:"auto_block_threshold" validate:"gte=1"`
	BruteForceThreshold int           `koanf:"brute_force_threshold" validate:"gte=1"`
	ViolationThreshold  int           `koanf:"violation_threshold" validate:"gte=1"`
	ViolationWindow     time.Duration `koanf:"violation_window"`
	ObservationWindow   time.Duration `koanf:"observation_window"`
	MaxEvents           int           `koanf:"max_events" validate:"gte=1"`
	SweepInterval       time.Duration `koanf:"sweep_interval"`
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		FailureWindow:       15 * time.Minute,
		AutoBlockThreshold:  10,
		BruteForceThreshold: 5,
		ViolationThreshold:  20,
		ViolationWindow:     10 * time.Minute,
		ObservationWindow:   24 * time.Hour,
		MaxEvents:           10000,
		SweepInterval:       time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FailureWindow <= 0 {
		c.FailureWindow = def.FailureWindow
	}
	if c.AutoBlockThreshold <= 0 {
		c.AutoBlockThreshold = def.AutoBlockThreshold
	}
	if c.BruteForceThreshold <= 0 {
		c.BruteForceThreshold = def.BruteForceThreshold
	}
	if c.ViolationThreshold <= 0 {
		c.ViolationThreshold = def.ViolationThreshold
	}
	if c.ViolationWindow <= 0 {
		c.ViolationWindow = def.ViolationWindow
	}
	if c.ObservationWindow <= 0 {
		c.ObservationWindow = def.ObservationWindow
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = def.MaxEvents
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}

// Sink receives everything the monitor wants persisted. Implementations must return
// immediately.
type Sink interface {
	RecordEvent(event *models.SecurityEvent)
	UpdateEvent(event *models.SecurityEvent)
	SaveBlock(block *models.IPBlockEntry)
	DeleteBlock(ip string)
}

type nopSink struct{}

func (nopSink) RecordEvent(*models.SecurityEvent) {}
func (nopSink) UpdateEvent(*models.SecurityEvent) {}
func (nopSink) SaveBlock(*models.IPBlockEntry)    {}
func (nopSink) DeleteBlock(string)                {}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithRules replaces the default rule set.
func WithRules(rules ...Rule) Option {
	return func(m *Monitor) { m.rules = rules }
}

// EventInput describes an event to log.
type EventInput struct {
	Type      models.EventType
	Severity  models.Severity
	Message   string
	IPAddress string
	UserID    string
	UserAgent string
	Details   map[string]any
}

// Monitor is the security event log, failure tracker and IP block list.
type Monitor struct {
	cfg   Config
	sink  Sink
	rules []Rule
	now   func() time.Time

	mu         sync.Mutex
	events     []*models.SecurityEvent
	byID       map[string]*models.SecurityEvent
	total      int
	failures   *windowCounter
	violations *windowCounter

	bmu    sync.RWMutex
	blocks map[string]*models.IPBlockEntry

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMonitor creates a Monitor and starts its counter sweeper. sink may be nil.
func NewMonitor(cfg Config, sink Sink, opts ...Option) *Monitor {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = nopSink{}
	}
	m := &Monitor{
		cfg:        cfg,
		sink:       sink,
		now:        time.Now,
		byID:       map[string]*models.SecurityEvent{},
		failures:   newWindowCounter(cfg.FailureWindow),
		violations: newWindowCounter(cfg.ViolationWindow),
		blocks:     map[string]*models.IPBlockEntry{},
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	m.rules = DefaultRules(cfg)
	for _, o := range opts {
		o(m)
	}
	go m.sweep()
	return m
}

// Close stops the sweeper.
func (m *Monitor) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

func (m *Monitor) sweep() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			n := m.failures.prune(now) + m.violations.prune(now)
			m.mu.Unlock()
			if n > 0 {
				log.Debug().Int("pruned", n).Msg("expired failure counters removed")
			}
		}
	}
}

// LogSecurityEvent records an event and returns a copy of it. Persistence is handed to
// the sink and never fails the call.
func (m *Monitor) LogSecurityEvent(_ context.Context, in EventInput) *models.SecurityEvent {
	if !in.Severity.Valid() {
		in.Severity = models.SeverityLow
	}
	if in.IPAddress == "" {
		in.IPAddress = "unknown"
	}
	e := &models.SecurityEvent{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Severity:  in.Severity,
		Message:   in.Message,
		IPAddress: in.IPAddress,
		UserID:    in.UserID,
		UserAgent: in.UserAgent,
		Details:   maps.Clone(in.Details),
		Timestamp: m.now().UTC(),
	}

	m.mu.Lock()
	m.events = append(m.events, e)
	m.byID[e.ID] = e
	m.total++
	if over := len(m.events) - m.cfg.MaxEvents; over > 0 {
		for _, old := range m.events[:over] {
			delete(m.byID, old.ID)
		}
		m.events = append([]*models.SecurityEvent(nil), m.events[over:]...)
	}
	out, persisted := cloneEvent(e), cloneEvent(e)
	m.mu.Unlock()

	metrics.SecurityEvents.WithLabelValues(string(e.Type), string(e.Severity)).Inc()
	log.WithLevel(levelFor(e.Severity)).
		Str("event_id", e.ID).
		Str("type", string(e.Type)).
		Str("severity", string(e.Severity)).
		Str("ip", e.IPAddress).
		Str("user_id", e.UserID).
		Msg(e.Message)

	m.sink.RecordEvent(persisted)
	return out
}

// cloneEvent copies e deeply enough that the copy can leave the monitor's lock.
func cloneEvent(e *models.SecurityEvent) *models.SecurityEvent {
	cp := *e
	cp.Details = maps.Clone(e.Details)
	if e.ResolvedAt != nil {
		at := *e.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}

func levelFor(s models.Severity) zerolog.Level {
	switch s {
	case models.SeverityCritical, models.SeverityHigh:
		return zerolog.ErrorLevel
	case models.SeverityMedium:
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}

// LoginResult is the monitor's view after a login attempt was reported.
type LoginResult struct {
	Event    *models.SecurityEvent   `json:"event"`
	Failures int                     `json:"failures"`
	Blocked  bool                    `json:"blocked"`
	Alerts   []*models.SecurityEvent `json:"alerts,omitempty"`
}

// RecordLoginFailure counts a failed login against the IP and the user. Reaching the
// auto-block threshold blocks the IP.
func (m *Monitor) RecordLoginFailure(ctx context.Context, ip, userID, userAgent string) LoginResult {
	ev := m.LogSecurityEvent(ctx, EventInput{
		Type:      models.EventLoginFailed,
		Severity:  models.SeverityLow,
		Message:   "Failed login attempt",
		IPAddress: ip,
		UserID:    userID,
		UserAgent: userAgent,
	})
	ip = ev.IPAddress

	m.mu.Lock()
	now := m.now()
	obs := Observation{Kind: ObservedLoginFailure, IP: ip, UserID: userID}
	obs.IPFailures = m.failures.incr("ip:"+ip, now)
	if userID != "" {
		obs.UserFailures = m.failures.incr("user:"+userID, now)
	}
	obs.IPViolations = m.violations.get("ip:"+ip, now)
	alerts := m.evaluate(obs)
	m.mu.Unlock()

	res := LoginResult{Event: ev, Failures: obs.IPFailures}
	res.Alerts = m.raise(ctx, alerts, obs, userAgent)
	if obs.IPFailures >= m.cfg.AutoBlockThreshold {
		reason := fmt.Sprintf("Automatic block: %d failed login attempts", obs.IPFailures)
		m.blockIfAbsent(ctx, ip, reason, "system")
	}
	res.Blocked = m.IsIPBlocked(ip)
	return res
}

// RecordLoginSuccess resets the failure counters for the IP and the user. It does not
// lift an existing block.
func (m *Monitor) RecordLoginSuccess(ctx context.Context, ip, userID, userAgent string) LoginResult {
	ev := m.LogSecurityEvent(ctx, EventInput{
		Type:      models.EventLoginSuccess,
		Severity:  models.SeverityLow,
		Message:   "Successful login",
		IPAddress: ip,
		UserID:    userID,
		UserAgent: userAgent,
	})
	m.mu.Lock()
	m.failures.reset("ip:" + ev.IPAddress)
	if userID != "" {
		m.failures.reset("user:" + userID)
	}
	m.mu.Unlock()
	return LoginResult{Event: ev, Blocked: m.IsIPBlocked(ev.IPAddress)}
}

// Access describes one authorization decision reported to the monitor.
type Access struct {
	User      *models.User
	Path      string
	Method    string
	IP        string
	UserAgent string
	Allowed   bool
	Reason    string
	AdminOnly bool
	AuthOnly  bool
}

// RecordAccessDecision logs denials and runs the detection rules. It returns the alerts
// raised, if any.
func (m *Monitor) RecordAccessDecision(ctx context.Context, a Access) []*models.SecurityEvent {
	if a.IP == "" {
		a.IP = "unknown"
	}
	obs := Observation{
		Kind:      ObservedAccess,
		IP:        a.IP,
		Path:      a.Path,
		Method:    a.Method,
		Allowed:   a.Allowed,
		AdminOnly: a.AdminOnly,
		AuthOnly:  a.AuthOnly,
	}
	if a.User != nil {
		obs.UserID = a.User.ID
		obs.Role = a.User.Role
	}

	if !a.Allowed {
		m.LogSecurityEvent(ctx, EventInput{
			Type:      models.EventPermissionDenied,
			Severity:  models.SeverityMedium,
			Message:   fmt.Sprintf("Access denied to %s %s", a.Method, a.Path),
			IPAddress: a.IP,
			UserID:    obs.UserID,
			UserAgent: a.UserAgent,
			Details:   map[string]any{"path": a.Path, "method": a.Method, "reason": a.Reason},
		})
	}

	m.mu.Lock()
	now := m.now()
	if a.Allowed {
		obs.IPViolations = m.violations.get("ip:"+a.IP, now)
	} else {
		obs.IPViolations = m.violations.incr("ip:"+a.IP, now)
	}
	obs.IPFailures = m.failures.get("ip:"+a.IP, now)
	alerts := m.evaluate(obs)
	m.mu.Unlock()

	return m.raise(ctx, alerts, obs, a.UserAgent)
}

// RecordViolation logs a non-permission denial, such as a CSRF failure or a rate limit
// hit, and counts it toward the suspicious IP rule.
func (m *Monitor) RecordViolation(ctx context.Context, typ models.EventType, ip, userID, userAgent, message string, details map[string]any) []*models.SecurityEvent {
	sev := models.SeverityMedium
	if typ == models.EventRateLimited {
		sev = models.SeverityLow
	}
	ev := m.LogSecurityEvent(ctx, EventInput{
		Type:      typ,
		Severity:  sev,
		Message:   message,
		IPAddress: ip,
		UserID:    userID,
		UserAgent: userAgent,
		Details:   details,
	})

	m.mu.Lock()
	now := m.now()
	obs := Observation{Kind: ObservedViolation, IP: ev.IPAddress, UserID: userID}
	obs.IPViolations = m.violations.incr("ip:"+ev.IPAddress, now)
	obs.IPFailures = m.failures.get("ip:"+ev.IPAddress, now)
	alerts := m.evaluate(obs)
	m.mu.Unlock()

	return m.raise(ctx, alerts, obs, userAgent)
}

// evaluate runs every rule. Callers hold m.mu.
func (m *Monitor) evaluate(obs Observation) []*Alert {
	var out []*Alert
	for _, r := range m.rules {
		if a := r.Evaluate(obs); a != nil {
			if a.Details == nil {
				a.Details = map[string]any{}
			}
			a.Details["rule"] = r.Name()
			out = append(out, a)
		}
	}
	return out
}

func (m *Monitor) raise(ctx context.Context, alerts []*Alert, obs Observation, userAgent string) []*models.SecurityEvent {
	var out []*models.SecurityEvent
	for _, a := range alerts {
		out = append(out, m.LogSecurityEvent(ctx, EventInput{
			Type:      a.Type,
			Severity:  a.Severity,
			Message:   a.Message,
			IPAddress: obs.IP,
			UserID:    obs.UserID,
			UserAgent: userAgent,
			Details:   a.Details,
		}))
	}
	return out
}

// FailureCount returns the live failure count for an identity key, "ip:<addr>" or
// "user:<id>".
func (m *Monitor) FailureCount(identity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures.get(identity, m.now())
}

// GetSecurityEvents returns matching events, newest first. A zero Limit means 100.
func (m *Monitor) GetSecurityEvents(filter models.EventFilter) []*models.SecurityEvent {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.SecurityEvent, 0, min(limit, len(m.events)))
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if e := m.events[i]; filter.Matches(e) {
			out = append(out, cloneEvent(e))
		}
	}
	return out
}

// ResolveSecurityEvent marks an event resolved. It returns false for an unknown id.
func (m *Monitor) ResolveSecurityEvent(_ context.Context, id, resolvedBy string) bool {
	m.mu.Lock()
	e, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	now := m.now().UTC()
	e.Resolved = true
	e.ResolvedBy = resolvedBy
	e.ResolvedAt = &now
	cp := cloneEvent(e)
	m.mu.Unlock()

	log.Info().Str("event_id", id).Str("resolved_by", resolvedBy).Msg("security event resolved")
	m.sink.UpdateEvent(cp)
	return true
}

// ThreatSummary aggregates unresolved events from one IP.
type ThreatSummary struct {
	IP          string          `json:"ip"`
	Count       int             `json:"count"`
	MaxSeverity models.Severity `json:"max_severity"`
}

// Stats is the monitor dashboard.
type Stats struct {
	TotalEvents      int                      `json:"total_events"`
	ThreatLevel      models.Severity          `json:"threat_level"`
	TopThreats       []ThreatSummary          `json:"top_threats"`
	IPBlacklist      []models.IPBlockEntry    `json:"ip_blacklist"`
	RecentAlerts     []*models.SecurityEvent  `json:"recent_alerts"`
	EventsBySeverity map[models.Severity]int  `json:"events_by_severity"`
	EventsByType     map[models.EventType]int `json:"events_by_type"`
}

const (
	topThreatsLimit   = 5
	recentAlertsLimit = 10
)

// GetSecurityStats summarises the retained events. ThreatLevel is the highest severity
// among unresolved events inside the observation window, or low when there are none.
func (m *Monitor) GetSecurityStats() Stats {
	m.mu.Lock()
	cutoff := m.now().Add(-m.cfg.ObservationWindow)
	st := Stats{
		TotalEvents:      m.total,
		ThreatLevel:      models.SeverityLow,
		TopThreats:       []ThreatSummary{},
		RecentAlerts:     []*models.SecurityEvent{},
		EventsBySeverity: map[models.Severity]int{},
		EventsByType:     map[models.EventType]int{},
	}
	threats := map[string]*ThreatSummary{}
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		st.EventsBySeverity[e.Severity]++
		st.EventsByType[e.Type]++
		if e.Severity.Rank() >= models.SeverityHigh.Rank() && len(st.RecentAlerts) < recentAlertsLimit {
			st.RecentAlerts = append(st.RecentAlerts, cloneEvent(e))
		}
		if e.Resolved || e.Timestamp.Before(cutoff) {
			continue
		}
		if e.Severity.Rank() > st.ThreatLevel.Rank() {
			st.ThreatLevel = e.Severity
		}
		if e.Severity.Rank() < models.SeverityMedium.Rank() {
			continue
		}
		t, ok := threats[e.IPAddress]
		if !ok {
			t = &ThreatSummary{IP: e.IPAddress}
			threats[e.IPAddress] = t
		}
		t.Count++
		if e.Severity.Rank() > t.MaxSeverity.Rank() {
			t.MaxSeverity = e.Severity
		}
	}
	m.mu.Unlock()

	for _, t := range threats {
		st.TopThreats = append(st.TopThreats, *t)
	}
	sort.Slice(st.TopThreats, func(i, j int) bool {
		a, b := st.TopThreats[i], st.TopThreats[j]
		if a.MaxSeverity.Rank() != b.MaxSeverity.Rank() {
			return a.MaxSeverity.Rank() > b.MaxSeverity.Rank()
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.IP < b.IP
	})
	if len(st.TopThreats) > topThreatsLimit {
		st.TopThreats = st.TopThreats[:topThreatsLimit]
	}
	st.IPBlacklist = m.BlockedIPs()
	return st
}
