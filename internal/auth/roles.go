package auth

// Role represents a shared-device role.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// NormalizeRole validates and normalizes a role string; empty means viewer.
func NormalizeRole(value string) (Role, bool) {
	if value == "" {
		return RoleViewer, true
	}
	switch Role(value) {
	case RoleViewer, RoleOperator, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}
