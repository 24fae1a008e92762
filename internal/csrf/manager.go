// Package csrf issues and validates session-bound CSRF tokens.
//
// A token is three dot-separated segments: a random value, the issue time in Unix
// milliseconds and an HMAC-SHA256 over random.timestamp.sessionID. Issued tokens are
// tracked so they can be revoked individually or per session.
package csrf

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/org/adminguard/internal/crypto"
	"github.com/rs/zerolog/log"
)

// Validation failure reasons. Callers branch on these strings.
const (
	ReasonInvalidFormat    = "Invalid token format"
	ReasonSessionMismatch  = "Session mismatch"
	ReasonExpired          = "Token expired"
	ReasonInvalidSignature = "Invalid signature"
	ReasonRevoked          = "Token revoked"
)

const (
	DefaultMaxAge = time.Hour
	randomSize    = 32
	keyInfo       = "adminguard-csrf-v1"
)

var b64 = base64.RawURLEncoding

// Config configures the Manager.
type Config struct {
	Secret string        `koanf:"secret"`
	MaxAge time.Duration `koanf:"max_age"`
}

// Result is the outcome of ValidateToken. Reason is empty when Valid.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type issued struct {
	sessionID string
	issuedAt  time.Time
}

// Manager issues and validates CSRF tokens.
type Manager struct {
	key    []byte
	maxAge time.Duration
	now    func() time.Time

	mu        sync.Mutex
	tokens    map[string]issued
	bySession map[string]map[string]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager derives the signing key from cfg.Secret. An empty secret gets a random one,
// which invalidates outstanding tokens on every restart.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		log.Warn().Msg("csrf secret not configured, using a random per-process secret")
		var err error
		if secret, err = crypto.RandomBytes(crypto.KeySize); err != nil {
			return nil, err
		}
	}
	key, err := crypto.DeriveKey(secret, keyInfo)
	if err != nil {
		return nil, err
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	m := &Manager{
		key:       key,
		maxAge:    cfg.MaxAge,
		now:       time.Now,
		tokens:    map[string]issued{},
		bySession: map[string]map[string]struct{}{},
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// GenerateToken issues a new token bound to sessionID. A session may hold any number
// of live tokens.
func (m *Manager) GenerateToken(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("csrf: session id is required")
	}
	raw, err := crypto.RandomBytes(randomSize)
	if err != nil {
		return "", err
	}
	now := m.now()
	random := b64.EncodeToString(raw)
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	sig := b64.EncodeToString(crypto.Sign(m.key, signed(random, ts, sessionID)))
	token := random + "." + ts + "." + sig

	m.mu.Lock()
	m.tokens[token] = issued{sessionID: sessionID, issuedAt: now}
	set, ok := m.bySession[sessionID]
	if !ok {
		set = map[string]struct{}{}
		m.bySession[sessionID] = set
	}
	set[token] = struct{}{}
	m.mu.Unlock()
	return token, nil
}

// ValidateToken checks token against sessionID. Checks run in a fixed order: format,
// session, age, signature, revocation.
func (m *Manager) ValidateToken(token, sessionID string) Result {
	random, ts, sig, ok := parse(token)
	if !ok {
		return Result{Reason: ReasonInvalidFormat}
	}

	m.mu.Lock()
	rec, tracked := m.tokens[token]
	m.mu.Unlock()

	if tracked && rec.sessionID != sessionID {
		return Result{Reason: ReasonSessionMismatch}
	}
	if m.now().Sub(time.UnixMilli(ts)) > m.maxAge {
		if tracked {
			m.InvalidateToken(token)
		}
		return Result{Reason: ReasonExpired}
	}
	if !crypto.Verify(m.key, signed(random, strconv.FormatInt(ts, 10), sessionID), sig) {
		return Result{Reason: ReasonInvalidSignature}
	}
	if !tracked {
		return Result{Reason: ReasonRevoked}
	}
	return Result{Valid: true}
}

// InvalidateToken revokes a single token. It returns false if the token was not live.
func (m *Manager) InvalidateToken(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[token]
	if !ok {
		return false
	}
	m.remove(token, rec.sessionID)
	return true
}

// InvalidateSessionTokens revokes every token of a session, e.g. on logout, and returns
// how many were revoked.
func (m *Manager) InvalidateSessionTokens(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.bySession[sessionID]
	for token := range set {
		delete(m.tokens, token)
	}
	delete(m.bySession, sessionID)
	return len(set)
}

// Cleanup drops expired tokens and returns how many were dropped.
func (m *Manager) Cleanup() int {
	cutoff := m.now().Add(-m.maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for token, rec := range m.tokens {
		if rec.issuedAt.Before(cutoff) {
			m.remove(token, rec.sessionID)
			n++
		}
	}
	return n
}

// Len is the number of live tokens.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// remove deletes token from both indexes. Callers hold m.mu.
func (m *Manager) remove(token, sessionID string) {
	delete(m.tokens, token)
	if set, ok := m.bySession[sessionID]; ok {
		delete(set, token)
		if len(set) == 0 {
			delete(m.bySession, sessionID)
		}
	}
}

func signed(random, ts, sessionID string) string {
	return random + "." + ts + "." + sessionID
}

// parse splits and decodes a token. Anything other than three well-formed segments is
// a format error.
func parse(token string) (random string, ts int64, sig []byte, ok bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", 0, nil, false
	}
	raw, err := b64.DecodeString(parts[0])
	if err != nil || len(raw) != randomSize {
		return "", 0, nil, false
	}
	ts, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || ts <= 0 {
		return "", 0, nil, false
	}
	sig, err = b64.DecodeString(parts[2])
	if err != nil || len(sig) == 0 {
		return "", 0, nil, false
	}
	return parts[0], ts, sig, true
}
