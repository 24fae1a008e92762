package policy

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/org/adminguard/internal/routes"
	"github.com/org/adminguard/pkg/models"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Document is the declarative policy loaded at startup: the role table, the route
// rules and the public allow-list.
type Document struct {
	Roles        models.RoleTable   `yaml:"roles"`
	Routes       []models.RouteRule `yaml:"routes" validate:"dive"`
	PublicRoutes []string           `yaml:"public_routes"`
}

// DefaultDocument returns the built-in role table and route rules.
func DefaultDocument() *Document {
	return &Document{
		Roles:        DefaultRoleTable(),
		Routes:       routes.DefaultRules(),
		PublicRoutes: routes.DefaultPublicRoutes(),
	}
}

// LoadDocument reads a policy YAML file. Sections missing from the file keep their
// built-in defaults.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return ParseDocument(data)
}

// ParseDocument parses and validates a policy document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing policy document: %w", err)
	}
	def := DefaultDocument()
	if doc.Roles == nil {
		doc.Roles = def.Roles
	}
	if doc.Routes == nil {
		doc.Routes = def.Routes
	}
	if doc.PublicRoutes == nil {
		doc.PublicRoutes = def.PublicRoutes
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document's structural rules. ADMIN must hold the manage:* wildcard.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid policy document: %w", err)
	}
	admin, ok := d.Roles[models.RoleAdmin]
	if !ok {
		return errors.New("invalid policy document: ADMIN role missing")
	}
	hasWildcard := false
	for _, p := range admin {
		if p.IsWildcard() {
			hasWildcard = true
			break
		}
	}
	if !hasWildcard {
		return errors.New("invalid policy document: ADMIN must include manage on *")
	}
	for role, perms := range d.Roles {
		for _, p := range perms {
			if err := validate.Struct(p); err != nil {
				return fmt.Errorf("invalid permission for role %s: %w", role, err)
			}
		}
	}
	for _, r := range d.Routes {
		if r.Match == models.MatchSuffix && r.Suffix == "" {
			return fmt.Errorf("invalid route %s: suffix match needs a suffix", r.Pattern)
		}
	}
	return nil
}
