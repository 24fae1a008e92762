package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/org/adminguard/internal/apperr"
	"github.com/org/adminguard/internal/crypto"
	"github.com/org/adminguard/pkg/models"
)

func request(header, value string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if header != "" {
		r.Header.Set(header, value)
	}
	return r
}

func TestTokenProviderIdentify(t *testing.T) {
	p, err := NewTokenProvider([]TokenConfig{
		{Token: "admin-token", UserID: "1", Role: models.RoleAdmin},
		{TokenHash: strings.ToUpper(crypto.HashToken("viewer-token")), UserID: "2", Role: models.RoleViewer},
		{Token: "gone-token", UserID: "3", Role: models.RoleEditor, Disabled: true},
	})
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}

	u, err := p.Identify(request("Authorization", "Bearer admin-token"))
	if err != nil || u == nil || u.Role != models.RoleAdmin || !u.IsActive {
		t.Fatalf("admin: u=%+v err=%v", u, err)
	}
	u, err = p.Identify(request(HeaderToken, "viewer-token"))
	if err != nil || u == nil || u.ID != "2" {
		t.Fatalf("viewer via header: u=%+v err=%v", u, err)
	}
	u, _ = p.Identify(request("Authorization", "Bearer gone-token"))
	if u == nil || u.IsActive {
		t.Errorf("disabled token should identify an inactive user, got %+v", u)
	}

	u, err = p.Identify(request("", ""))
	if u != nil || err != nil {
		t.Errorf("anonymous: u=%+v err=%v", u, err)
	}
	_, err = p.Identify(request("Authorization", "Bearer nope"))
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
	u, err = p.Identify(request("Authorization", "Basic Zm9vOmJhcg=="))
	if u != nil || err != nil {
		t.Errorf("non-bearer auth is ignored: u=%+v err=%v", u, err)
	}
}

func TestTokenProviderConfigErrors(t *testing.T) {
	cases := map[string][]TokenConfig{
		"both":      {{Token: "a", TokenHash: "b", UserID: "1", Role: models.RoleAdmin}},
		"neither":   {{UserID: "1", Role: models.RoleAdmin}},
		"duplicate": {{Token: "a", UserID: "1", Role: models.RoleAdmin}, {Token: "a", UserID: "2", Role: models.RoleViewer}},
	}
	for name, cfg := range cases {
		if _, err := NewTokenProvider(cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSetRole(t *testing.T) {
	p, _ := NewTokenProvider([]TokenConfig{{Token: "t", UserID: "7", Role: models.RoleViewer}})
	if !p.SetRole("7", models.RoleEditor) {
		t.Fatal("SetRole should find user 7")
	}
	u, _ := p.Identify(request("Authorization", "Bearer t"))
	if u.Role != models.RoleEditor {
		t.Errorf("expected EDITOR, got %s", u.Role)
	}
	if p.SetRole("8", models.RoleAdmin) {
		t.Error("unknown user should not match")
	}
	if len(p.Users()) != 1 {
		t.Errorf("expected 1 user, got %v", p.Users())
	}
}

func TestGenerateToken(t *testing.T) {
	tok, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !strings.HasPrefix(tok, TokenPrefix) {
		t.Errorf("token should start with %s", TokenPrefix)
	}
	if hash != crypto.HashToken(tok) {
		t.Error("hash mismatch")
	}
	p, _ := NewTokenProvider([]TokenConfig{{TokenHash: hash, UserID: "9", Role: models.RoleAdmin}})
	if u, _ := p.Identify(request("Authorization", "Bearer "+tok)); u == nil {
		t.Error("generated token should identify via its hash")
	}
}

type staticProvider struct {
	user *models.User
	err  error
}

func (s staticProvider) Identify(*http.Request) (*models.User, error) { return s.user, s.err }

func TestChain(t *testing.T) {
	r := request("", "")
	if _, err := (Chain{}).Identify(r); !errors.Is(err, ErrNoProvider) {
		t.Errorf("empty chain: %v", err)
	}
	want := &models.User{ID: "x"}
	u, err := Chain{staticProvider{}, staticProvider{user: want}}.Identify(r)
	if err != nil || u != want {
		t.Errorf("expected second provider's user, got %v %v", u, err)
	}
	_, err = Chain{staticProvider{err: apperr.Unauthorized("bad")}, staticProvider{user: want}}.Identify(r)
	if err == nil {
		t.Error("error should stop the chain")
	}
}
