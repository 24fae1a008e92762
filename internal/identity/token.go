// Package identity turns request credentials into a models.User.
//
// Authentication itself is out of scope: the TokenProvider only maps opaque API tokens,
// configured by their SHA-256 hash, to users.
package identity

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/org/adminguard/internal/apperr"
	"github.com/org/adminguard/internal/crypto"
	"github.com/org/adminguard/pkg/models"
)

// TokenPrefix marks tokens minted by GenerateToken.
const TokenPrefix = "agt_"

// HeaderToken is an alternative to "Authorization: Bearer".
const HeaderToken = "X-Admin-Token"

// Provider identifies the caller of a request. It returns (nil, nil) when the request
// carries no credentials and an apperr Unauthorized error when they are invalid.
type Provider interface {
	Identify(r *http.Request) (*models.User, error)
}

// TokenConfig binds a token to a user. Exactly one of Token and TokenHash is set; plain
// tokens are hashed on load and never kept.
type TokenConfig struct {
	Token     string      `koanf:"token" yaml:"token,omitempty"`
	TokenHash string      `koanf:"token_hash" yaml:"token_hash,omitempty"`
	UserID    string      `koanf:"user_id" yaml:"user_id" validate:"required"`
	Email     string      `koanf:"email" yaml:"email,omitempty"`
	Role      models.Role `koanf:"role" yaml:"role" validate:"required"`
	Disabled  bool        `koanf:"disabled" yaml:"disabled,omitempty"`
}

// TokenProvider resolves bearer tokens against an in-memory hash table.
type TokenProvider struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

// NewTokenProvider indexes the configured tokens.
func NewTokenProvider(tokens []TokenConfig) (*TokenProvider, error) {
	p := &TokenProvider{users: map[string]*models.User{}}
	for i, tc := range tokens {
		hash := strings.ToLower(tc.TokenHash)
		switch {
		case tc.Token != "" && hash != "":
			return nil, fmt.Errorf("token %d: set token or token_hash, not both", i)
		case tc.Token != "":
			hash = crypto.HashToken(tc.Token)
		case hash == "":
			return nil, fmt.Errorf("token %d: token or token_hash is required", i)
		}
		if _, dup := p.users[hash]; dup {
			return nil, fmt.Errorf("token %d: duplicate token", i)
		}
		p.users[hash] = &models.User{ID: tc.UserID, Email: tc.Email, Role: tc.Role, IsActive: !tc.Disabled}
	}
	return p, nil
}

// Identify implements Provider.
func (p *TokenProvider) Identify(r *http.Request) (*models.User, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	p.mu.RLock()
	u, ok := p.users[crypto.HashToken(token)]
	p.mu.RUnlock()
	if !ok {
		return nil, apperr.Unauthorized("invalid token")
	}
	cp := *u
	return &cp, nil
}

// SetRole changes the role of every token belonging to userID and reports whether any
// matched. Callers must invalidate the user's cached decisions afterwards.
func (p *TokenProvider) SetRole(userID string, role models.Role) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	found := false
	for _, u := range p.users {
		if u.ID == userID {
			u.Role = role
			found = true
		}
	}
	return found
}

// Users lists the distinct configured users.
func (p *TokenProvider) Users() []models.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := map[string]bool{}
	var out []models.User
	for _, u := range p.users {
		if !seen[u.ID] {
			seen[u.ID] = true
			out = append(out, *u)
		}
	}
	return out
}

// GenerateToken mints a new random token and its hash. Only the hash belongs in
// configuration; the token is shown once.
func GenerateToken() (token, hash string, err error) {
	raw, err := crypto.RandomBytes(32)
	if err != nil {
		return "", "", fmt.Errorf("generating token: %w", err)
	}
	token = TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return token, crypto.HashToken(token), nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(HeaderToken))
}

// ErrNoProvider is returned by Chain when it has nothing to consult.
var ErrNoProvider = errors.New("no identity provider configured")

// Chain asks each provider in turn and returns the first identity found. An error from
// any provider stops the chain.
type Chain []Provider

func (c Chain) Identify(r *http.Request) (*models.User, error) {
	if len(c) == 0 {
		return nil, ErrNoProvider
	}
	for _, p := range c {
		u, err := p.Identify(r)
		if err != nil || u != nil {
			return u, err
		}
	}
	return nil, nil
}
