package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts and are
// carried into Telegram sessions.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleViewer     = "viewer"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// Known reports whether role is one of the roles above.
func Known(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleManager, RoleViewer, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// Role groups used by the route table.
var (
	// Readers may view calls, statuses and reports.
	Readers = []string{RoleOwner, RoleAdmin, RoleManager, RoleViewer}
	// Operators may upload and reprocess calls.
	Operators = []string{RoleOwner, RoleAdmin, RoleManager}
	// Admins manage integrations.
	Admins = []string{RoleOwner, RoleAdmin}
)
