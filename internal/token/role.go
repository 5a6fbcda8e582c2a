package token

// Role is the access level of a client key. It is read from the access
// token for display only; the server enforces authorization.
type Role string

const (
	RoleRead  Role = "read"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a role the server issues.
func (r Role) Valid() bool {
	return r == RoleRead || r == RoleAdmin
}

// String returns the role name, or "unknown" for an empty role.
func (r Role) String() string {
	if r == "" {
		return "unknown"
	}
	return string(r)
}
