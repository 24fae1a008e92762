package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/org/adminguard/pkg/models"
)

func TestDefaultDocumentValid(t *testing.T) {
	if err := DefaultDocument().Validate(); err != nil {
		t.Fatalf("default document invalid: %v", err)
	}
}

func TestParseDocumentKeepsDefaults(t *testing.T) {
	doc, err := ParseDocument([]byte(`
roles:
  ADMIN:
    - {resource: "*", action: manage}
  SUPPORT:
    - {resource: orders, action: read}
    - {resource: customers, action: read, scope: all}
`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if len(doc.Roles) != 2 {
		t.Errorf("expected 2 roles, got %d", len(doc.Roles))
	}
	if got := doc.Roles["SUPPORT"][1].Scope; got != models.ScopeAll {
		t.Errorf("expected scope all, got %q", got)
	}
	if len(doc.Routes) != len(DefaultDocument().Routes) {
		t.Error("missing routes section should fall back to the defaults")
	}
	if len(doc.PublicRoutes) == 0 {
		t.Error("missing public_routes should fall back to the defaults")
	}
}

func TestParseDocumentRejects(t *testing.T) {
	cases := map[string]string{
		"no admin": `
roles:
  VIEWER:
    - {resource: orders, action: read}
`,
		"admin without wildcard": `
roles:
  ADMIN:
    - {resource: orders, action: manage}
`,
		"empty action": `
roles:
  ADMIN:
    - {resource: "*", action: manage}
  VIEWER:
    - {resource: orders}
`,
		"relative pattern": `
routes:
  - {pattern: admin/x, permissions: [{resource: x, action: read}]}
`,
		"suffix without suffix": `
routes:
  - {pattern: /admin/x/, match: suffix}
`,
		"bad match kind": `
routes:
  - {pattern: /admin/x, match: regex}
`,
		"not yaml": "roles: [",
	}
	for name, body := range cases {
		if _, err := ParseDocument([]byte(body)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestLoadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := `
public_routes: ["/", "/status"]
routes:
  - pattern: /admin/reports/
    match: prefix
    methods: [GET]
    permissions:
      - {resource: reports, action: read}
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(doc.Routes) != 1 || doc.Routes[0].Match != models.MatchPrefix {
		t.Errorf("unexpected routes %+v", doc.Routes)
	}
	if _, err := LoadDocument(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "reading policy file") {
		t.Errorf("expected read error, got %v", err)
	}
}
