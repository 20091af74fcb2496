package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleDonor = "donor" // every registered user; may request and respond
	RoleAdmin = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
