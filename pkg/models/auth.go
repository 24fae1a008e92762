package models

// User is the authenticated identity supplied by the identity provider.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
	Role     Role   `json:"role" yaml:"role"`
	IsActive bool   `json:"is_active" yaml:"is_active"`
}

// IsAdmin returns true for the ADMIN role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// RequestMeta carries the raw request attributes the core needs.
type RequestMeta struct {
	Path      string
	Method    string
	IPAddress string
	UserAgent string
	RequestID string
	SessionID string
}

// Decision is the outcome of a route access check.
type Decision struct {
	Allowed    bool         `json:"allowed"`
	Public     bool         `json:"public,omitempty"`
	AuthOnly   bool         `json:"auth_only,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Required   []Permission `json:"required,omitempty"`
	Missing    []Permission `json:"missing,omitempty"`
	IPBlocked  bool         `json:"ip_blocked,omitempty"`
	Escalation bool         `json:"escalation,omitempty"`
}
